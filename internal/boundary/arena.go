package boundary

import (
	"fmt"
	"sync"

	"github.com/user/ptyhost/internal/codec"
)

// Str is an opaque token for a null-terminated text buffer owned by the
// arena. The zero value is the null token: releasing it is a no-op and
// reading it yields nothing.
type Str uint64

// Region is an opaque token for a length-tagged byte buffer owned by the
// arena. Unlike Str, a Region must be released with the exact length that
// was reported when it was produced.
type Region uint64

// NullStr is the Str counterpart of a null pointer.
const NullStr Str = 0

// Arena owns every buffer the surface hands to a caller. It is the
// memory-safe rendition of the raw-pointer allocation protocol: tokens
// stand in for addresses, so a stale or mismatched release is detected
// and recorded instead of corrupting memory.
//
// Every buffer obtained from the surface must be released exactly once,
// through the call matching its shape. Live reports how many buffers are
// currently outstanding, and Violations how many release calls broke the
// contract; both exist so tests can assert buffer discipline.
type Arena struct {
	mu      sync.Mutex
	next    uint64
	strs    map[Str][]byte
	regions map[Region][]byte
	faults  []string
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		strs:    make(map[Str][]byte),
		regions: make(map[Region][]byte),
	}
}

// allocString stores s as a null-terminated buffer and returns its token.
// Strings containing a NUL byte cannot take this shape.
func (a *Arena) allocString(s string) (Str, error) {
	buf, err := codec.EncodeText(s)
	if err != nil {
		return NullStr, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	p := Str(a.next)
	a.strs[p] = buf
	return p, nil
}

// allocRegion stores b as a length-tagged buffer and returns its token and
// reported length. The same length must be passed back to ReleaseRegion.
func (a *Arena) allocRegion(b []byte) (Region, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	p := Region(a.next)
	buf := make([]byte, len(b))
	copy(buf, b)
	a.regions[p] = buf
	return p, len(buf)
}

// BytesAt returns the raw bytes of a text buffer, excluding the trailing
// NUL. It does not require the content to be valid UTF-8: PTY output is
// chunked at arbitrary byte offsets and a chunk may end mid-rune.
func (a *Arena) BytesAt(p Str) ([]byte, error) {
	if p == NullStr {
		return nil, nil
	}
	a.mu.Lock()
	buf, ok := a.strs[p]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("boundary: no string buffer at token %d", p)
	}
	out := make([]byte, len(buf)-1)
	copy(out, buf[:len(buf)-1])
	return out, nil
}

// StringAt decodes a text buffer as UTF-8. Use it for error messages and
// other whole strings; use BytesAt for output data that may split runes.
func (a *Arena) StringAt(p Str) (string, error) {
	if p == NullStr {
		return "", nil
	}
	a.mu.Lock()
	buf, ok := a.strs[p]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("boundary: no string buffer at token %d", p)
	}
	return codec.DecodeText(buf)
}

// RegionAt returns a copy of a length-tagged buffer. n must match the
// length reported at allocation.
func (a *Arena) RegionAt(p Region, n int) ([]byte, error) {
	a.mu.Lock()
	buf, ok := a.regions[p]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("boundary: no region buffer at token %d", p)
	}
	if n != len(buf) {
		return nil, fmt.Errorf("boundary: region length mismatch: have %d, caller said %d", len(buf), n)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// ReleaseString frees a null-terminated text buffer. Releasing NullStr is
// always a no-op. Releasing a token twice, or a token that never existed,
// is a caller contract violation and is recorded rather than ignored.
func (a *Arena) ReleaseString(p Str) {
	if p == NullStr {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.strs[p]; !ok {
		a.faults = append(a.faults, fmt.Sprintf("release of unknown or already-freed string token %d", p))
		return
	}
	delete(a.strs, p)
}

// ReleaseRegion frees a length-tagged buffer. n must exactly match the
// length reported when the region was produced; a mismatch is a contract
// violation and leaves the buffer allocated.
func (a *Arena) ReleaseRegion(p Region, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.regions[p]
	if !ok {
		a.faults = append(a.faults, fmt.Sprintf("release of unknown or already-freed region token %d", p))
		return
	}
	if n != len(buf) {
		a.faults = append(a.faults, fmt.Sprintf("region token %d released with length %d, allocated %d", p, n, len(buf)))
		return
	}
	delete(a.regions, p)
}

// Live returns the number of outstanding buffers of both shapes.
func (a *Arena) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.strs) + len(a.regions)
}

// Violations returns descriptions of every release call that broke the
// ownership contract since the arena was created.
func (a *Arena) Violations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.faults))
	copy(out, a.faults)
	return out
}

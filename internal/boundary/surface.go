// Package boundary implements the flat calling convention between a managed
// caller and the PTY engine: small integer statuses, opaque tokens in place
// of raw pointers, and explicitly released buffers.
//
// Handles and buffers are tokens into process-wide registries rather than
// native addresses, so a retired handle or a double release is detected and
// reported instead of being undefined behavior. The calling convention is
// otherwise unchanged: one status byte multiplexes success, error, and
// graceful process end, and dynamic data comes back through out-descriptors
// the caller must release.
package boundary

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/user/ptyhost/internal/codec"
)

// Status codes shared by every surface call.
const (
	// StatusOK means the call succeeded; the out-descriptor holds the
	// result, which for Read may be a zero-length data buffer.
	StatusOK int8 = 0
	// StatusErr means the call failed; the out-descriptor holds a
	// null-terminated error message the caller must release.
	StatusErr int8 = -1
	// StatusEnded is returned only by Read: the child process exited and
	// no more data will ever arrive.
	StatusEnded int8 = 99
)

// Handle identifies one live PTY session. Handles are minted once per
// creation, never reused within a process, and retired exactly once by
// Close. A call on a retired handle fails with StatusErr instead of
// reaching the engine.
type Handle uint64

// Result is the single out-descriptor written by surface calls. Exactly one
// field is populated per call: Handle on successful creation, Str for data
// or error text otherwise.
type Result struct {
	Handle Handle
	Str    Str
}

// Engine spawns PTY sessions. The production engine lives in internal/pty;
// tests substitute a tracking fake.
type Engine interface {
	Spawn(spec codec.CommandSpec) (Session, error)
}

// Session is the engine-side view of one PTY and its child process. Read
// never blocks: it reports whatever output is pending, and ended=true
// exactly when the child has exited and all trailing output was drained.
type Session interface {
	Read() (data []byte, ended bool, exitCode int, err error)
	Write(p []byte) error
	Resize(size codec.Size) error
	Size() (codec.Size, error)
	Close() error
}

// SpawnFunc adapts a plain function to the Engine interface.
type SpawnFunc func(spec codec.CommandSpec) (Session, error)

// Spawn calls f.
func (f SpawnFunc) Spawn(spec codec.CommandSpec) (Session, error) { return f(spec) }

type entry struct {
	sess     Session
	mu       sync.Mutex
	ended    bool
	endedStr bool // exit code already delivered once
	exitCode int
}

// Surface is the boundary call surface over one engine. All sessions it
// creates share one arena for buffer ownership accounting.
type Surface struct {
	engine Engine
	arena  *Arena

	mu   sync.Mutex
	next uint64
	live map[Handle]*entry
}

// NewSurface creates a Surface over the given engine with a fresh arena.
func NewSurface(engine Engine) *Surface {
	return &Surface{
		engine: engine,
		arena:  NewArena(),
		live:   make(map[Handle]*entry),
	}
}

// Arena exposes the surface's buffer arena so callers can release the
// buffers its calls produce.
func (s *Surface) Arena() *Arena { return s.arena }

// fail writes msg into out as an error string and returns StatusErr.
func (s *Surface) fail(out *Result, msg string) int8 {
	p, err := s.arena.allocString(msg)
	if err != nil {
		// Error text never contains NUL; this path is unreachable in
		// practice but must not lose the failure status.
		p = NullStr
	}
	out.Str = p
	return StatusErr
}

func (s *Surface) lookup(h Handle) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live[h]
	return e, ok
}

// Create decodes cmdRecord as a CommandSpec, spawns the child inside a new
// PTY, and on success writes a fresh Handle into out. The call is
// synchronous: the child is running and the PTY is set up before it
// returns. On StatusErr, out holds an error string the caller must release.
func (s *Surface) Create(cmdRecord []byte, out *Result) int8 {
	var spec codec.CommandSpec
	if err := codec.DecodeRecord(cmdRecord, &spec); err != nil {
		return s.fail(out, err.Error())
	}
	sess, err := s.engine.Spawn(spec)
	if err != nil {
		return s.fail(out, err.Error())
	}

	s.mu.Lock()
	s.next++
	h := Handle(s.next)
	s.live[h] = &entry{sess: sess}
	s.mu.Unlock()

	out.Handle = h
	return StatusOK
}

// Read reports pending output without blocking. StatusOK with a zero-length
// buffer means nothing is currently available, not an error and not end of
// stream. StatusEnded is latched: the first occurrence carries the child's
// exit code as text, and every later Read on the same handle short-circuits
// to StatusEnded without touching the engine, whose resources may already
// be torn down.
func (s *Surface) Read(h Handle, out *Result) int8 {
	e, ok := s.lookup(h)
	if !ok {
		return s.fail(out, fmt.Sprintf("boundary: invalid handle %d", h))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ended {
		if !e.endedStr {
			e.endedStr = true
			if p, err := s.arena.allocString(strconv.Itoa(e.exitCode)); err == nil {
				out.Str = p
			}
		}
		return StatusEnded
	}

	data, ended, exitCode, err := e.sess.Read()
	if err != nil {
		return s.fail(out, err.Error())
	}
	if ended {
		e.ended = true
		e.exitCode = exitCode
		if len(data) == 0 {
			e.endedStr = true
			if p, aerr := s.arena.allocString(strconv.Itoa(exitCode)); aerr == nil {
				out.Str = p
			}
			return StatusEnded
		}
		// Trailing output arrived with the exit signal: deliver it now,
		// the next Read reports StatusEnded.
	}
	p, err := s.arena.allocString(string(data))
	if err != nil {
		return s.fail(out, fmt.Sprintf("boundary: output not representable as text: %v", err))
	}
	out.Str = p
	return StatusOK
}

// Write forwards null-terminated data to the PTY's input side. Once the
// engine has reported process end the write is swallowed: a torn-down
// engine handle must not be touched, and writing to a dead process is not
// an error, mirroring a write to a pipe nobody reads.
func (s *Surface) Write(h Handle, data []byte, errOut *Result) int8 {
	e, ok := s.lookup(h)
	if !ok {
		return s.fail(errOut, fmt.Sprintf("boundary: invalid handle %d", h))
	}
	raw, err := codec.DecodeText(data)
	if err != nil {
		return s.fail(errOut, err.Error())
	}

	e.mu.Lock()
	ended := e.ended
	e.mu.Unlock()
	if ended {
		return StatusOK
	}

	if err := e.sess.Write([]byte(raw)); err != nil {
		return s.fail(errOut, err.Error())
	}
	return StatusOK
}

// GetSize writes the current terminal geometry as a length-tagged record
// into outRegion/outLen. The caller must release the region with the exact
// reported length. On StatusErr only errOut is meaningful.
func (s *Surface) GetSize(h Handle, outRegion *Region, outLen *int, errOut *Result) int8 {
	e, ok := s.lookup(h)
	if !ok {
		return s.fail(errOut, fmt.Sprintf("boundary: invalid handle %d", h))
	}
	size, err := e.sess.Size()
	if err != nil {
		return s.fail(errOut, err.Error())
	}
	record, err := codec.EncodeRecord(size)
	if err != nil {
		return s.fail(errOut, err.Error())
	}
	p, n := s.arena.allocRegion(record)
	*outRegion = p
	*outLen = n
	return StatusOK
}

// Resize decodes sizeRecord as a Size and applies it. Absent pixel fields
// decode to 0. On POSIX engines the foreground process group receives a
// window-change signal.
func (s *Surface) Resize(h Handle, sizeRecord []byte, errOut *Result) int8 {
	e, ok := s.lookup(h)
	if !ok {
		return s.fail(errOut, fmt.Sprintf("boundary: invalid handle %d", h))
	}
	var size codec.Size
	if err := codec.DecodeRecord(sizeRecord, &size); err != nil {
		return s.fail(errOut, err.Error())
	}
	if err := e.sess.Resize(size); err != nil {
		return s.fail(errOut, err.Error())
	}
	return StatusOK
}

// Close retires the handle and releases the engine session. Closing an
// unknown or already-retired handle is a no-op: the registry makes the
// second close detectable, so it never reaches the engine. Close does not
// guarantee the child process dies on every platform; the engine's
// termination signal is best effort.
func (s *Surface) Close(h Handle) {
	s.mu.Lock()
	e, ok := s.live[h]
	if ok {
		delete(s.live, h)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	_ = e.sess.Close()
}

// ReleaseString frees a null-terminated buffer produced by this surface.
func (s *Surface) ReleaseString(p Str) { s.arena.ReleaseString(p) }

// ReleaseRegion frees a length-tagged buffer produced by this surface.
func (s *Surface) ReleaseRegion(p Region, n int) { s.arena.ReleaseRegion(p, n) }

// SessionCount returns the number of live handles, for tests and metrics.
func (s *Surface) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

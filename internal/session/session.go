// Package session is the caller-side wrapper over the boundary surface. It
// turns status codes back into tagged results, tracks the lifecycle state
// machine locally, and releases every boundary buffer on every exit path so
// call sites never handle ownership by hand.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/user/ptyhost/internal/boundary"
	"github.com/user/ptyhost/internal/codec"
)

// ErrClosed reports an operation on a session after Close. It is raised
// locally, before any boundary call, so a retired handle never reaches the
// engine.
var ErrClosed = errors.New("session: closed")

type state int

const (
	stateOpen state = iota
	stateDrained
	stateClosed
)

// Chunk is one Read observation. Ended is true exactly when the child
// process has exited; from then on Data is always empty and ExitCode holds
// the child's exit status. A Chunk with empty Data and Ended false means
// nothing was pending, which is neither an error nor end of stream.
type Chunk struct {
	Data     []byte
	Ended    bool
	ExitCode int
}

// Session owns one boundary handle for its entire life. Methods are safe
// for concurrent use: the state check and the boundary call are serialized,
// so a racing Close cannot slip a retired handle into the engine.
type Session struct {
	surf   *boundary.Surface
	handle boundary.Handle

	mu       sync.Mutex
	state    state
	exitCode int
}

// Open creates a new PTY session running the given command. The child is
// spawned and the terminal set up before Open returns.
func Open(surf *boundary.Surface, spec codec.CommandSpec) (*Session, error) {
	record, err := codec.EncodeRecord(spec)
	if err != nil {
		return nil, err
	}
	var out boundary.Result
	if status := surf.Create(record, &out); status != boundary.StatusOK {
		return nil, fmt.Errorf("session: create: %s", takeString(surf, out.Str))
	}
	return &Session{surf: surf, handle: out.Handle}, nil
}

// takeString reads a string descriptor and releases it, whatever path the
// caller takes afterward.
func takeString(surf *boundary.Surface, p boundary.Str) string {
	defer surf.ReleaseString(p)
	msg, err := surf.Arena().StringAt(p)
	if err != nil {
		return "unreadable error descriptor"
	}
	return msg
}

// Read reports pending output without blocking. Once it has returned an
// Ended chunk, every later Read returns Ended again without a boundary
// call, and after Close it fails with ErrClosed.
func (s *Session) Read() (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateClosed:
		return Chunk{}, ErrClosed
	case stateDrained:
		return Chunk{Ended: true, ExitCode: s.exitCode}, nil
	}

	var out boundary.Result
	switch status := s.surf.Read(s.handle, &out); status {
	case boundary.StatusOK:
		data, err := s.surf.Arena().BytesAt(out.Str)
		s.surf.ReleaseString(out.Str)
		if err != nil {
			return Chunk{}, fmt.Errorf("session: read: %w", err)
		}
		return Chunk{Data: data}, nil
	case boundary.StatusEnded:
		s.state = stateDrained
		if out.Str != boundary.NullStr {
			if text := takeString(s.surf, out.Str); text != "" {
				if code, err := strconv.Atoi(text); err == nil {
					s.exitCode = code
				}
			}
		}
		return Chunk{Ended: true, ExitCode: s.exitCode}, nil
	default:
		return Chunk{}, fmt.Errorf("session: read: %s", takeString(s.surf, out.Str))
	}
}

// Write forwards data to the child's standard input. After the session has
// drained, writes are swallowed silently: the process is gone, and writing
// to it mirrors writing to a pipe nobody reads. After Close it fails with
// ErrClosed.
func (s *Session) Write(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateClosed:
		return ErrClosed
	case stateDrained:
		return nil
	}

	encoded, err := codec.EncodeText(data)
	if err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	var errOut boundary.Result
	if status := s.surf.Write(s.handle, encoded, &errOut); status != boundary.StatusOK {
		return fmt.Errorf("session: write: %s", takeString(s.surf, errOut.Str))
	}
	return nil
}

// Size returns the current terminal geometry. Legal while the session is
// open or drained; the handle stays addressable until Close.
func (s *Session) Size() (codec.Size, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return codec.Size{}, ErrClosed
	}

	var (
		region boundary.Region
		n      int
		errOut boundary.Result
	)
	if status := s.surf.GetSize(s.handle, &region, &n, &errOut); status != boundary.StatusOK {
		return codec.Size{}, fmt.Errorf("session: size: %s", takeString(s.surf, errOut.Str))
	}
	defer s.surf.ReleaseRegion(region, n)

	record, err := s.surf.Arena().RegionAt(region, n)
	if err != nil {
		return codec.Size{}, fmt.Errorf("session: size: %w", err)
	}
	var size codec.Size
	if err := codec.DecodeRecord(record, &size); err != nil {
		return codec.Size{}, fmt.Errorf("session: size: %w", err)
	}
	return size, nil
}

// Resize applies new terminal geometry. Absent pixel fields default to 0.
func (s *Session) Resize(size codec.Size) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return ErrClosed
	}

	record, err := codec.EncodeRecord(size)
	if err != nil {
		return fmt.Errorf("session: resize: %w", err)
	}
	var errOut boundary.Result
	if status := s.surf.Resize(s.handle, record, &errOut); status != boundary.StatusOK {
		return fmt.Errorf("session: resize: %s", takeString(s.surf, errOut.Str))
	}
	return nil
}

// Close retires the handle. It is idempotent: only the first call reaches
// the boundary, every later call is a local no-op. Close does not guarantee
// the child process dies on every platform: the engine signals it with
// SIGTERM and leaves a child that ignores the signal running detached from
// its terminal.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return
	}
	s.state = stateClosed
	s.surf.Close(s.handle)
}

// Package pty is the engine side of the boundary: it opens the OS
// pseudoterminal, spawns the child process, and services the PTY file
// descriptor from background goroutines so that Read never blocks the
// caller.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"

	"github.com/user/ptyhost/internal/codec"
)

const (
	defaultRows uint16 = 24
	defaultCols uint16 = 80

	// After the child exits, trailing output may still be in flight from
	// the read pump. Wait this long and drain once more before latching
	// the end state.
	endDrainDelay = 100 * time.Millisecond

	msgBuffer = 1024
)

type message struct {
	data     []byte
	end      bool
	exitCode int
}

// Session wraps a child process running inside a PTY. One goroutine pumps
// PTY output into a buffered channel, another waits for the child to exit;
// Read drains whatever they have produced without blocking.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	msgs chan message

	mu       sync.Mutex
	size     codec.Size
	done     bool
	exitCode int
	closed   bool

	closeOnce sync.Once
}

// Spawn launches the command described by spec inside a new PTY. The PTY is
// created at 24 rows x 80 cols unless the caller resizes it. Env entries
// are appended to the inherited environment; Cwd defaults to the current
// directory.
func Spawn(spec codec.CommandSpec) (*Session, error) {
	if spec.Cmd == "" {
		return nil, errors.New("pty: command must not be empty")
	}

	cmd := exec.Command(spec.Cmd, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = os.Environ()
	for key, val := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, val))
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{
		Rows: defaultRows,
		Cols: defaultCols,
	})
	if err != nil {
		return nil, fmt.Errorf("pty: start %q: %w", spec.Cmd, err)
	}

	s := &Session{
		cmd:  cmd,
		ptmx: ptmx,
		msgs: make(chan message, msgBuffer),
		size: codec.Size{Rows: defaultRows, Cols: defaultCols},
	}

	go s.readPump()
	go s.waitExit()

	return s, nil
}

// readPump reads from the PTY fd until it fails, which happens when the
// child exits or the fd is closed. Chunks are forwarded as raw bytes: a
// multi-byte rune may be split across two chunks and must not be mangled.
func (s *Session) readPump() {
	buf := make([]byte, 8192)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.msgs <- message{data: data}:
			default:
				// Channel full: the caller stopped reading long ago.
				// Drop the chunk rather than block the pump forever.
			}
		}
		if err != nil {
			return
		}
	}
}

// waitExit reaps the child and signals the end of the session. The end
// marker goes through the same channel as output so Read observes it in
// order.
func (s *Session) waitExit() {
	err := s.cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	// The end marker must land even if the channel filled up with
	// unconsumed output: drop the oldest chunk until there is room.
	for {
		select {
		case s.msgs <- message{end: true, exitCode: code}:
			return
		default:
			select {
			case <-s.msgs:
			default:
			}
		}
	}
}

// drain collects every message currently pending without blocking.
func (s *Session) drain(data []byte, ended bool, exitCode int) ([]byte, bool, int) {
	for {
		select {
		case m := <-s.msgs:
			if m.end {
				ended = true
				exitCode = m.exitCode
			} else {
				data = append(data, m.data...)
			}
		default:
			return data, ended, exitCode
		}
	}
}

// Read reports all output produced since the previous call, without
// blocking. No pending output is an empty result, not an error. When the
// end marker is observed, Read waits a short grace period and drains once
// more: the child's final output can still be in flight from the pump.
// From then on the end state is latched and Read returns it without
// touching the channel or the fd.
func (s *Session) Read() (data []byte, ended bool, exitCode int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, true, s.exitCode, nil
	}

	data, ended, exitCode = s.drain(nil, false, 0)
	if ended {
		time.Sleep(endDrainDelay)
		data, _, exitCode = s.drain(data, true, exitCode)
		s.done = true
		s.exitCode = exitCode
	}
	return data, ended, exitCode, nil
}

// Write sends data to the PTY, and through the line discipline to the
// child's standard input.
func (s *Session) Write(p []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("pty: session is closed")
	}
	_, err := s.ptmx.Write(p)
	return err
}

// Resize applies new terminal geometry. The foreground process group
// receives SIGWINCH.
func (s *Session) Resize(size codec.Size) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("pty: session is closed")
	}

	if err := creackpty.Setsize(s.ptmx, &creackpty.Winsize{
		Rows: size.Rows,
		Cols: size.Cols,
		X:    size.PixelWidth,
		Y:    size.PixelHeight,
	}); err != nil {
		return fmt.Errorf("pty: resize: %w", err)
	}

	s.size = size
	return nil
}

// Size returns the current terminal geometry.
func (s *Session) Size() (codec.Size, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return codec.Size{}, errors.New("pty: session is closed")
	}
	return s.size, nil
}

// Close signals the child with SIGTERM and closes the PTY fd. It is safe to
// call multiple times. Termination is best effort: a child that ignores
// SIGTERM keeps running detached from its terminal.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
		err = s.ptmx.Close()
	})
	return err
}

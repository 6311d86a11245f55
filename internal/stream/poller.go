// Package stream turns a session's non-blocking Read into a push-style
// sequence of output chunks. It is a convenience layer built purely on the
// session wrapper: a cooperative timer loop that polls, delivers, and
// sleeps, so a single consumer can range over output without spinning a
// core.
package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/user/ptyhost/internal/session"
)

// DefaultInterval is the pause between polls. Read never blocks, so without
// a pause the loop would burn a full core re-asking for output.
const DefaultInterval = 100 * time.Millisecond

// ErrRestarted reports a second Run on the same Poller. Each Poller owns
// one timer loop tied to one session; it is not restartable.
var ErrRestarted = errors.New("stream: poller already ran")

// Poller polls one session on a fixed interval and pushes its output to a
// channel. The sequence is finite exactly when the child exits or a read
// fails; stopping the consumer (context cancellation) stops the polling and
// releases the timer without touching the session, which is closed
// independently by its owner.
type Poller struct {
	sess     *session.Session
	interval time.Duration

	out     chan []byte
	started atomic.Bool

	err      error
	exitCode int
	exited   bool
}

// NewPoller creates a Poller over sess. A non-positive interval selects
// DefaultInterval.
func NewPoller(sess *session.Session, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		sess:     sess,
		interval: interval,
		out:      make(chan []byte, 16),
	}
}

// Output is the push-style sequence. It is closed when the child exits,
// when a read fails (see Err), or when Run's context is canceled.
func (p *Poller) Output() <-chan []byte { return p.out }

// Run drives the polling loop until the session ends, a read fails, or ctx
// is canceled. It closes Output before returning. Calling Run a second time
// fails with ErrRestarted.
func (p *Poller) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrRestarted
	}
	defer close(p.out)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		chunk, err := p.sess.Read()
		if err != nil {
			p.err = err
			return err
		}
		if chunk.Ended {
			p.exited = true
			p.exitCode = chunk.ExitCode
			return nil
		}
		if len(chunk.Data) > 0 {
			select {
			case p.out <- chunk.Data:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Err returns the read error that ended the sequence, if any. Valid once
// Output is closed.
func (p *Poller) Err() error { return p.err }

// ExitCode returns the child's exit code and whether the sequence ended
// because the child exited. Valid once Output is closed.
func (p *Poller) ExitCode() (int, bool) { return p.exitCode, p.exited }

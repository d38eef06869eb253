// Package session owns per-session state: the constraint ledger, history, pending
// prompts and the reply state machine. Every session is an actor: work submitted
// through Do runs one job at a time in arrival order.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/chatabc/open-safe-frame/internal/constraint"
)

var ErrSessionClosed = errors.New("session closed")

const inboxSize = 64

// Session is one host session.
type Session struct {
	key      string
	tenantID string
	conv     *Conversation

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan func()
	done   chan struct{}

	lastActive atomic.Int64 // unix nanos
}

func newSession(tenantID, key string, ledger *constraint.Ledger, historyLimit int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		key:      key,
		tenantID: tenantID,
		conv:     newConversation(tenantID, key, ledger, historyLimit),
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan func(), inboxSize),
		done:     make(chan struct{}),
	}
	s.touch()
	go s.loop()
	return s
}

func (s *Session) Key() string      { return s.key }
func (s *Session) TenantID() string { return s.tenantID }

// Ledger returns the session's constraint ledger. The ledger is safe for concurrent
// use, but writes that must be ordered with hook events should go through Do.
func (s *Session) Ledger() *constraint.Ledger { return s.conv.Ledger }

// LastActive returns when work was last submitted.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	return s.ctx.Err() != nil
}

// Do runs fn on the session's actor after all previously submitted work.
//
// The context handed to fn is cancelled when either the caller's ctx ends or the
// session ends. fn must check it before writing results back into the
// conversation: work in flight when the session ends is discarded and Do
// returns ErrSessionClosed.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context, c *Conversation) error) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	s.touch()

	errc := make(chan error, 1)
	job := func() {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.ctx, cancel)
		defer stop()

		err := fn(runCtx, s.conv)
		if s.Closed() {
			err = ErrSessionClosed
		}
		errc <- err
	}

	select {
	case s.inbox <- job:
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-s.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrSessionClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close ends the session and waits for the running job, if any, to return.
// Jobs still queued are dropped.
func (s *Session) close() {
	s.cancel()
	<-s.done
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.inbox:
			job()
		}
	}
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

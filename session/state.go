package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the externally visible login state of a Manager.
type State int

const (
	// StateLoggedOut means there is no session and no login in flight.
	StateLoggedOut State = iota
	// StateAuthenticating means a login attempt is in flight.
	StateAuthenticating
	// StateLoggedIn means a session is available.
	StateLoggedIn
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "LoggedOut"
	case StateAuthenticating:
		return "Authenticating"
	case StateLoggedIn:
		return "LoggedIn"
	default:
		return "Unknown"
	}
}

// Event describes one state transition.
type Event struct {
	From State
	To   State

	// AttemptID identifies the attempt occupying the slot after the
	// transition. It is uuid.Nil when the slot is empty.
	AttemptID uuid.UUID
}

// slotKind tags the variant held in a Manager's slot.
type slotKind int

const (
	slotEmpty slotKind = iota
	slotPending
	slotResolved
	slotFailed
)

// slot is the single source of truth for a Manager's state.
type slot struct {
	kind    slotKind
	attempt *Attempt
}

// state derives the externally visible state from the slot.
// A failed attempt is indistinguishable from no attempt.
func (s slot) state() State {
	switch s.kind {
	case slotPending:
		return StateAuthenticating
	case slotResolved:
		return StateLoggedIn
	default:
		return StateLoggedOut
	}
}

func (s slot) attemptID() uuid.UUID {
	if s.attempt == nil || s.kind == slotEmpty {
		return uuid.Nil
	}
	return s.attempt.id
}

// Attempt is one shared login attempt. Every concurrent GetSession caller
// of the same Manager receives the same *Attempt while it is in flight.
type Attempt struct {
	id      uuid.UUID
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	// Written once on the owner goroutine before done is closed.
	session  *Session
	err      error
	resolved bool
}

func newAttempt(cancel context.CancelFunc) *Attempt {
	if cancel == nil {
		cancel = func() {}
	}
	return &Attempt{
		id:      uuid.New(),
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// ID returns the attempt's unique ID.
func (a *Attempt) ID() uuid.UUID {
	return a.id
}

// Done is closed once the attempt has an outcome.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (a *Attempt) Result() (*Session, error) {
	select {
	case <-a.done:
		return a.session, a.err
	default:
		return nil, nil
	}
}

// Wait blocks until the attempt has an outcome or ctx is done. Cancelling
// ctx stops only this wait, not the attempt.
func (a *Attempt) Wait(ctx context.Context) (*Session, error) {
	select {
	case <-a.done:
		return a.session, a.err
	default:
	}
	select {
	case <-a.done:
		return a.session, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolve records the outcome. Only the first call has any effect.
func (a *Attempt) resolve(s *Session, err error) {
	if a.resolved {
		return
	}
	a.resolved = true
	a.session = s
	a.err = err
	close(a.done)
}

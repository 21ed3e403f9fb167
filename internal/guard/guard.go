// Package guard gates the vault's privileged and pause-sensitive
// operations behind a single operator account.
package guard

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUnauthorized    = errors.New("guard: caller is not the operator")
	ErrPaused          = errors.New("guard: vault is paused")
	ErrInvalidOperator = errors.New("guard: operator cannot be the zero account")
)

// Guard holds the operator identity and the pause flag.
type Guard struct {
	mu       sync.RWMutex
	operator uuid.UUID
	paused   bool
}

func New(operator uuid.UUID) (*Guard, error) {
	if operator == uuid.Nil {
		return nil, ErrInvalidOperator
	}
	return &Guard{operator: operator}, nil
}

// Operator returns the current operator account.
func (g *Guard) Operator() uuid.UUID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.operator
}

// Paused reports whether holder submissions are suspended.
func (g *Guard) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// RequireOperator fails unless caller is the operator.
func (g *Guard) RequireOperator(caller uuid.UUID) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if caller != g.operator {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// RequireNotPaused fails while the vault is paused.
func (g *Guard) RequireNotPaused() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.paused {
		return ErrPaused
	}
	return nil
}

// Pause suspends holder submissions. Operator only.
func (g *Guard) Pause(caller uuid.UUID) error {
	if err := g.RequireOperator(caller); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	return nil
}

// Unpause resumes holder submissions. Operator only.
func (g *Guard) Unpause(caller uuid.UUID) error {
	if err := g.RequireOperator(caller); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
	return nil
}

// TransferOperator hands the operator role to another account.
func (g *Guard) TransferOperator(caller, next uuid.UUID) error {
	if err := g.RequireOperator(caller); err != nil {
		return err
	}
	if next == uuid.Nil {
		return ErrInvalidOperator
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.operator = next
	return nil
}

// Package token implements an in-memory fungible token ledger with
// allowance semantics. The vault uses one ledger instance for the
// underlying asset and one for its own share token.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNegativeAmount        = errors.New("token: negative amount")
)

type allowanceKey struct {
	owner   uuid.UUID
	spender uuid.UUID
}

// Ledger maintains balances and allowances for a single token.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[uuid.UUID]int64
	allowances map[allowanceKey]int64
	minted     int64
}

func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[uuid.UUID]int64),
		allowances: make(map[allowanceKey]int64),
	}
}

func (l *Ledger) Symbol() string {
	return l.symbol
}

// BalanceOf returns the current balance of an account.
func (l *Ledger) BalanceOf(account uuid.UUID) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// TotalMinted returns the outstanding minted supply (mints minus burns).
func (l *Ledger) TotalMinted() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minted
}

// Mint credits newly issued tokens to an account.
func (l *Ledger) Mint(to uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: mint %d %s", ErrNegativeAmount, amount, l.symbol)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] += amount
	l.minted += amount
	return nil
}

// Burn destroys tokens held by an account.
func (l *Ledger) Burn(from uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: burn %d %s", ErrNegativeAmount, amount, l.symbol)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return fmt.Errorf("%w: burn %s have=%d need=%d", ErrInsufficientBalance, l.symbol, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.minted -= amount
	return nil
}

// Transfer moves tokens between accounts.
func (l *Ledger) Transfer(from, to uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: transfer %d %s", ErrNegativeAmount, amount, l.symbol)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount)
}

func (l *Ledger) transferLocked(from, to uuid.UUID, amount int64) error {
	if l.balances[from] < amount {
		return fmt.Errorf("%w: transfer %s have=%d need=%d", ErrInsufficientBalance, l.symbol, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// Approve sets the allowance granted by owner to spender.
func (l *Ledger) Approve(owner, spender uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: approve %d %s", ErrNegativeAmount, amount, l.symbol)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

// Allowance returns the remaining amount spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender uuid.UUID) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[allowanceKey{owner, spender}]
}

// TransferFrom moves tokens from `from` to `to` on behalf of `spender`,
// consuming the allowance `from` granted to `spender`. The balance is
// checked before the allowance so an under-funded transfer surfaces as
// a balance error even when the allowance is also short.
func (l *Ledger) TransferFrom(spender, from, to uuid.UUID, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: transferFrom %d %s", ErrNegativeAmount, amount, l.symbol)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from] < amount {
		return fmt.Errorf("%w: transferFrom %s have=%d need=%d", ErrInsufficientBalance, l.symbol, l.balances[from], amount)
	}

	key := allowanceKey{owner: from, spender: spender}
	if l.allowances[key] < amount {
		return fmt.Errorf("%w: %s owner=%s spender=%s have=%d need=%d",
			ErrInsufficientAllowance, l.symbol, from, spender, l.allowances[key], amount)
	}

	l.allowances[key] -= amount
	return l.transferLocked(from, to, amount)
}

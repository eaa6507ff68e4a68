package escrow

import (
	"fmt"
	"math/big"
	"sync"
)

// Ledger is the balance holder: it escrows deposited value per project and is
// the only component permitted to move value in or out. The engine calls it
// from validated transitions; nothing else writes balances.
//
// Invariant: for any project, the sum of all disbursements plus the final
// refund never exceeds the single deposit. The ledger enforces this by
// tracking the remaining balance and decrementing it on every outflow.
type Ledger struct {
	mu       sync.Mutex
	balances map[uint64]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[uint64]*big.Int)}
}

// Deposit records the escrowed value for a project. Exactly one deposit per
// project: partial or incremental funding is not supported.
func (l *Ledger) Deposit(projectID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInput("deposit must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[projectID]; ok {
		return errState("project %d already funded", projectID)
	}
	l.balances[projectID] = new(big.Int).Set(amount)
	return nil
}

// Disburse decreases the project's escrowed balance by amount. The caller is
// responsible for actually delivering value to the recipient through the
// payment rail; the ledger only guards the accounting.
func (l *Ledger) Disburse(projectID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInput("disbursement must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[projectID]
	if !ok {
		return fmt.Errorf("%w: project %d has no escrow", ErrInsufficientEscrow, projectID)
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: project %d has %s, requested %s", ErrInsufficientEscrow, projectID, bal.String(), amount.String())
	}
	l.balances[projectID] = new(big.Int).Sub(bal, amount)
	return nil
}

// Refund drains the remaining escrowed balance and returns the drained
// amount. Used on cancellation; a zero remainder is not an error.
func (l *Ledger) Refund(projectID uint64) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: project %d has no escrow", ErrInsufficientEscrow, projectID)
	}
	l.balances[projectID] = big.NewInt(0)
	return bal, nil
}

// Remaining returns a copy of the project's current escrowed balance.
func (l *Ledger) Remaining(projectID uint64) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[projectID]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

// restore seeds a balance during engine restore, bypassing the single-deposit
// check.
func (l *Ledger) restore(projectID uint64, remaining *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining == nil {
		remaining = big.NewInt(0)
	}
	l.balances[projectID] = new(big.Int).Set(remaining)
}

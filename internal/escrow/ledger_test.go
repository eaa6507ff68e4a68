package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestLedgerDepositOnce(t *testing.T) {
	l := NewLedger()
	if err := l.Deposit(1, big.NewInt(500)); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if err := l.Deposit(1, big.NewInt(500)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second deposit should fail with ErrInvalidState, got %v", err)
	}
	if err := l.Deposit(2, big.NewInt(0)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero deposit should fail with ErrInvalidInput, got %v", err)
	}
	if err := l.Deposit(2, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil deposit should fail with ErrInvalidInput, got %v", err)
	}
}

func TestLedgerDisburseDecrementsExactly(t *testing.T) {
	l := NewLedger()
	if err := l.Deposit(1, big.NewInt(3_000_000_000)); err != nil {
		t.Fatal(err)
	}

	if err := l.Disburse(1, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if got := l.Remaining(1); got.Int64() != 2_000_000_000 {
		t.Fatalf("remaining = %s, want 2000000000", got)
	}

	if err := l.Disburse(1, big.NewInt(2_500_000_000)); !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("over-disburse should fail with ErrInsufficientEscrow, got %v", err)
	}
	if got := l.Remaining(1); got.Int64() != 2_000_000_000 {
		t.Fatalf("failed disburse must not touch balance, remaining = %s", got)
	}

	if err := l.Disburse(2, big.NewInt(1)); !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("unknown project should fail with ErrInsufficientEscrow, got %v", err)
	}
}

func TestLedgerRefundDrains(t *testing.T) {
	l := NewLedger()
	if err := l.Deposit(1, big.NewInt(900)); err != nil {
		t.Fatal(err)
	}
	if err := l.Disburse(1, big.NewInt(400)); err != nil {
		t.Fatal(err)
	}

	refunded, err := l.Refund(1)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.Int64() != 500 {
		t.Fatalf("refunded = %s, want 500", refunded)
	}
	if got := l.Remaining(1); got.Sign() != 0 {
		t.Fatalf("remaining after refund = %s, want 0", got)
	}

	// Refunding an already drained project is a zero-value refund, not an
	// error.
	refunded, err = l.Refund(1)
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if refunded.Sign() != 0 {
		t.Fatalf("second refund = %s, want 0", refunded)
	}

	if _, err := l.Refund(42); !errors.Is(err, ErrInsufficientEscrow) {
		t.Fatalf("refund of unknown project should fail, got %v", err)
	}
}

func TestLedgerRemainingReturnsCopy(t *testing.T) {
	l := NewLedger()
	if err := l.Deposit(1, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	l.Remaining(1).SetInt64(0)
	if got := l.Remaining(1); got.Int64() != 100 {
		t.Fatalf("caller mutation leaked into ledger, remaining = %s", got)
	}
	if got := l.Remaining(99); got.Sign() != 0 {
		t.Fatalf("unknown project remaining = %s, want 0", got)
	}
}

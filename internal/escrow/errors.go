package escrow

import (
	"errors"
	"fmt"
)

// Every operation failure maps onto exactly one of these sentinels. Failures
// are synchronous and leave state untouched; callers may retry after
// correcting the triggering condition.
var (
	// ErrUnauthorized means the caller lacks permission for the action on
	// this project.
	ErrUnauthorized = errors.New("escrow: unauthorized")
	// ErrInvalidState means the operation is not valid from the current
	// project or milestone status.
	ErrInvalidState = errors.New("escrow: invalid state")
	// ErrInvalidInput covers malformed arguments: empty deliverable hash,
	// zero amounts, missing milestones.
	ErrInvalidInput = errors.New("escrow: invalid input")
	// ErrInvalidDeadline means the project deadline is not in the future.
	ErrInvalidDeadline = errors.New("escrow: deadline must be in the future")
	// ErrInvalidSchedule means milestone amounts do not sum to the
	// deposited value.
	ErrInvalidSchedule = errors.New("escrow: milestone amounts must sum to deposit")
	// ErrInvalidParty means client and freelancer are the same identity.
	ErrInvalidParty = errors.New("escrow: client and freelancer must differ")
	// ErrInsufficientEscrow is defensive: milestone accounting should make
	// it unreachable.
	ErrInsufficientEscrow = errors.New("escrow: insufficient escrowed balance")
	// ErrProjectNotFound means no project exists with the given id.
	ErrProjectNotFound = errors.New("escrow: project not found")
	// ErrMilestoneNotFound means the milestone index is out of range.
	ErrMilestoneNotFound = errors.New("escrow: milestone not found")
)

func errInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func errState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func errUnauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

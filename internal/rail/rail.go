package rail

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"
)

// Rail delivers value out of the platform. The escrow engine only does the
// accounting; every disbursement and refund ultimately goes through a Rail.
type Rail interface {
	// Send transfers amount (nano units) to the destination address with a
	// text comment and returns an opaque transaction reference.
	Send(ctx context.Context, to string, amount *big.Int, comment string) (string, error)
}

// DevRail fakes transfers for local development and tests. Every send
// succeeds and is remembered so tests can assert on it.
type DevRail struct {
	log *zap.Logger

	mu    sync.Mutex
	seq   int
	Sends []DevSend
}

type DevSend struct {
	To      string
	Amount  *big.Int
	Comment string
}

func NewDevRail(log *zap.Logger) *DevRail {
	return &DevRail{log: log}
}

func (r *DevRail) Send(_ context.Context, to string, amount *big.Int, comment string) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("dev rail: amount must be positive")
	}
	r.mu.Lock()
	r.seq++
	ref := fmt.Sprintf("dev-tx-%d", r.seq)
	r.Sends = append(r.Sends, DevSend{To: to, Amount: new(big.Int).Set(amount), Comment: comment})
	r.mu.Unlock()

	if r.log != nil {
		r.log.Info("dev rail transfer",
			zap.String("to", to),
			zap.String("amount_nano", amount.String()),
			zap.String("comment", comment),
			zap.String("tx_ref", ref),
		)
	}
	return ref, nil
}

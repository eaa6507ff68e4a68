package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoPrefix marks transfer comments addressed to this platform. The indexer
// ignores transfers whose comment does not start with it.
const MemoPrefix = "fl:"

// Deposit is one observed transfer into the hot wallet, as recorded by the
// indexer. AmountNano is a decimal string so the payload survives JSON
// without precision loss.
type Deposit struct {
	Memo       string `json:"memo"`
	AmountNano string `json:"amount_nano"`
	Sender     string `json:"sender"`
	TxHash     string `json:"tx_hash"`
	LT         uint64 `json:"lt"`
	ObservedAt int64  `json:"observed_at"`
}

// DepositQueue moves deposits from the indexer to the API over a redis list.
// RPUSH on one side, BLPOP on the other; unconsumed entries survive restarts.
type DepositQueue struct {
	client *redis.Client
}

func NewDepositQueue(client *redis.Client) *DepositQueue {
	return &DepositQueue{client: client}
}

func (q *DepositQueue) Push(ctx context.Context, dep Deposit) error {
	data, err := json.Marshal(dep)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, QueueDeposits, string(data)).Err()
}

// Pop blocks up to timeout for the next deposit. A nil deposit with nil error
// means the timeout elapsed; callers just loop.
func (q *DepositQueue) Pop(ctx context.Context, timeout time.Duration) (*Deposit, error) {
	res, err := q.client.BLPop(ctx, timeout, QueueDeposits).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, nil
	}
	var dep Deposit
	if err := json.Unmarshal([]byte(res[1]), &dep); err != nil {
		return nil, err
	}
	return &dep, nil
}

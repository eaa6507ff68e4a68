package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fairlance/backend/internal/events"
	"github.com/fairlance/backend/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const intentKeyPrefix = "intent:"

// NewMemo mints the transfer comment that ties a deposit to its intent.
func NewMemo() string {
	return events.MemoPrefix + uuid.New().String()
}

// IntentStore keeps funding intents in redis until the matching deposit
// arrives or the TTL expires. Expiry is the cancellation path for unfunded
// intents; nothing else cleans them up.
type IntentStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIntentStore(client *redis.Client, ttl time.Duration) *IntentStore {
	return &IntentStore{client: client, ttl: ttl}
}

func (s *IntentStore) Save(ctx context.Context, intent *models.FundingIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, intentKeyPrefix+intent.Memo, string(data), s.ttl).Err()
}

// Get returns nil, nil when no intent exists for the memo.
func (s *IntentStore) Get(ctx context.Context, memo string) (*models.FundingIntent, error) {
	data, err := s.client.Get(ctx, intentKeyPrefix+memo).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var intent models.FundingIntent
	if err := json.Unmarshal([]byte(data), &intent); err != nil {
		return nil, fmt.Errorf("malformed intent for memo %s: %w", memo, err)
	}
	return &intent, nil
}

func (s *IntentStore) Delete(ctx context.Context, memo string) error {
	return s.client.Del(ctx, intentKeyPrefix+memo).Err()
}

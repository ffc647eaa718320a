package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/infinity-erp/infinity/internal/companies"
)

// Store keeps the last successfully fetched company list per session so the
// view can be filtered and clicked without calling the API again.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs a Redis backed view store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Save replaces the stored list for sessionID.
func (s *Store) Save(ctx context.Context, sessionID string, list []companies.Company) error {
	if list == nil {
		list = []companies.Company{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("selection: encode view: %w", err)
	}
	if err := s.client.Set(ctx, viewKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("selection: save view: %w", err)
	}
	return nil
}

// Load returns the stored list or ErrViewExpired.
func (s *Store) Load(ctx context.Context, sessionID string) ([]companies.Company, error) {
	data, err := s.client.Get(ctx, viewKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrViewExpired
		}
		return nil, fmt.Errorf("selection: load view: %w", err)
	}
	var list []companies.Company
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("selection: decode view: %w", err)
	}
	return list, nil
}

// Clear drops the stored list.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, viewKey(sessionID)).Err()
}

func viewKey(sessionID string) string {
	return "selection:view:" + sessionID
}

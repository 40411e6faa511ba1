// Package redis stores create responses in Redis with a fixed retention.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/ports"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// pendingMarker is the value of a reserved key that has no response yet.
const pendingMarker = "pending"

// saveScript replaces a reservation or a missing key, never a response.
var saveScript = goredis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or current == ARGV[2] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
	return 1
end
return 0
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type record struct {
	StatusCode int    `json:"statusCode"`
	Body       []byte `json:"body"`
	OrderID    string `json:"orderId"`
}

type Store struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	lease  time.Duration
}

func NewStore(client *goredis.Client, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "orderflow"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl, lease: ports.IdempotencyLease}
}

func (s *Store) key(key string) string {
	return fmt.Sprintf("%s:idempotency:%s", s.prefix, key)
}

// Reserve claims key with SETNX. A key that is already set either holds a
// response to replay or another request's reservation.
func (s *Store) Reserve(ctx context.Context, key string) (*ports.StoredResponse, error) {
	k := s.key(key)
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, pendingMarker, s.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: redis setnx idempotency key: %w", ports.ErrPersistence, err)
		}
		if ok {
			return nil, nil
		}

		resp, pending, err := s.load(ctx, k)
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, ports.ErrRequestInProgress
		}
		if resp != nil {
			return resp, nil
		}
		// The holder expired between SETNX and GET.
	}
	return nil, ports.ErrRequestInProgress
}

func (s *Store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	resp, _, err := s.load(ctx, s.key(key))
	return resp, err
}

func (s *Store) load(ctx context.Context, k string) (*ports.StoredResponse, bool, error) {
	raw, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: redis get idempotency key: %w", ports.ErrPersistence, err)
	}
	if string(raw) == pendingMarker {
		return nil, true, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("%w: decode idempotency record: %w", ports.ErrPersistence, err)
	}
	return &ports.StoredResponse{StatusCode: rec.StatusCode, Body: rec.Body, OrderID: rec.OrderID}, false, nil
}

// Save completes a reservation. A response already stored under key is kept
// until it expires.
func (s *Store) Save(ctx context.Context, key string, response ports.StoredResponse) error {
	raw, err := json.Marshal(record{
		StatusCode: response.StatusCode,
		Body:       response.Body,
		OrderID:    response.OrderID,
	})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	err = saveScript.Run(ctx, s.client, []string{s.key(key)}, raw, pendingMarker, s.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("%w: redis save idempotency key: %w", ports.ErrPersistence, err)
	}
	return nil
}

// Release deletes key only while it is still a reservation.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, pendingMarker).Err(); err != nil {
		return fmt.Errorf("%w: redis release idempotency key: %w", ports.ErrPersistence, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

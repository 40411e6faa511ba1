package ports

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxIdempotencyKeyLength bounds client supplied keys.
	MaxIdempotencyKeyLength = 128

	// IdempotencyLease is how long a reservation without a response blocks
	// its key. A request that dies mid checkout frees the key after this.
	IdempotencyLease = time.Minute
)

var (
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrRequestInProgress     = errors.New("a request with this idempotency key is still in progress")
)

// StoredResponse is the first checkout response recorded for a key.
type StoredResponse struct {
	StatusCode int
	Body       []byte
	OrderID    string
}

// IdempotencyStore replays checkout responses.
//
// Reserve claims a key atomically before checkout runs. It returns nil, nil
// when the caller now owns the key, the stored response when the key already
// completed, and ErrRequestInProgress while another caller holds it. Save
// completes a reservation and keeps the first response until it expires.
// Release drops a reservation that never got a response. Get returns nil for
// unknown, reserved or expired keys.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (*StoredResponse, error)
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Save(ctx context.Context, key string, response StoredResponse) error
	Release(ctx context.Context, key string) error
}

// ScopedIdempotencyKey namespaces key by user so two users never replay each
// other's responses.
func ScopedIdempotencyKey(userID, key string) (string, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", fmt.Errorf("%w: key is required", ErrInvalidIdempotencyKey)
	case len(key) > MaxIdempotencyKeyLength:
		return "", fmt.Errorf("%w: key exceeds %d bytes", ErrInvalidIdempotencyKey, MaxIdempotencyKeyLength)
	case strings.TrimSpace(userID) == "":
		return "", fmt.Errorf("%w: user is required", ErrInvalidIdempotencyKey)
	}
	return userID + ":" + key, nil
}

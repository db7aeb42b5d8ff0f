package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stallmarket/backend/internal/domain/billing"
)

// claimScript sets the vendor's last pass to now unless a pass ran after the
// cutoff. KEYS[1] vendor key; ARGV now ms, cutoff ms, window ms.
var claimScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(last) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisThrottleStore implements billing.ThrottleStore using Redis.
// Suitable when several API instances share one vendor population.
type RedisThrottleStore struct {
	client    redis.Scripter
	keyPrefix string
}

// NewRedisThrottleStore creates a throttle store on an existing client
func NewRedisThrottleStore(client redis.Scripter, keyPrefix string) *RedisThrottleStore {
	if keyPrefix == "" {
		keyPrefix = "billing:bootstrap:"
	}
	return &RedisThrottleStore{client: client, keyPrefix: keyPrefix}
}

// Claim succeeds when the vendor's last pass is at least window old
func (s *RedisThrottleStore) Claim(ctx context.Context, vendorID uuid.UUID, now time.Time, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, fmt.Errorf("throttle window must be positive, got %s", window)
	}

	nowMs := now.UnixMilli()
	claimed, err := claimScript.Run(ctx, s.client,
		[]string{s.keyPrefix + vendorID.String()},
		nowMs, nowMs-window.Milliseconds(), window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim bootstrap window: %w", err)
	}
	return claimed == 1, nil
}

var _ billing.ThrottleStore = (*RedisThrottleStore)(nil)

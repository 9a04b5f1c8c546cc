package notary

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// Uniqueness records which transition consumed each record reference.
// Consume is all-or-nothing: either every ref is now owned by txID, or none
// changed and the refs already consumed by another transition are returned.
// Re-consuming refs already owned by the same txID succeeds.
type Uniqueness interface {
	Consume(ctx context.Context, txID string, refs []contracts.Ref) (conflicts []contracts.Ref, err error)
}

// MemoryUniqueness is an in-process Uniqueness provider.
type MemoryUniqueness struct {
	mu       sync.Mutex
	consumed map[contracts.Ref]string
}

func NewMemoryUniqueness() *MemoryUniqueness {
	return &MemoryUniqueness{consumed: make(map[contracts.Ref]string)}
}

func (u *MemoryUniqueness) Consume(_ context.Context, txID string, refs []contracts.Ref) ([]contracts.Ref, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var conflicts []contracts.Ref
	for _, ref := range refs {
		if by, ok := u.consumed[ref]; ok && by != txID {
			conflicts = append(conflicts, ref)
		}
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}
	for _, ref := range refs {
		u.consumed[ref] = txID
	}
	return nil, nil
}

// redisConsumeScript checks and claims every input atomically.
// KEYS = one key per input reference
// ARGV[1] = consuming transaction id
// Returns the indexes (1-based) of keys already held by another transaction.
var redisConsumeScript = redis.NewScript(`
local tx = ARGV[1]
local conflicts = {}
for i, key in ipairs(KEYS) do
    local holder = redis.call("GET", key)
    if holder and holder ~= tx then
        table.insert(conflicts, i)
    end
end
if #conflicts > 0 then
    return conflicts
end
for _, key in ipairs(KEYS) do
    redis.call("SET", key, tx)
end
return conflicts
`)

// RedisUniqueness implements Uniqueness using Redis, so several notary
// workers can share one consumed-input set.
type RedisUniqueness struct {
	client redis.Scripter
	prefix string
}

// NewRedisUniqueness creates a provider backed by the Redis at addr.
func NewRedisUniqueness(addr, password string, db int) *RedisUniqueness {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisUniquenessWithClient(rdb, "notary:consumed:")
}

// NewRedisUniquenessWithClient wraps an existing client.
func NewRedisUniquenessWithClient(client redis.Scripter, prefix string) *RedisUniqueness {
	return &RedisUniqueness{client: client, prefix: prefix}
}

func (u *RedisUniqueness) key(ref contracts.Ref) string {
	return u.prefix + ref.String()
}

func (u *RedisUniqueness) Consume(ctx context.Context, txID string, refs []contracts.Ref) ([]contracts.Ref, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = u.key(ref)
	}

	res, err := redisConsumeScript.Run(ctx, u.client, keys, txID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis uniqueness error: %w", err)
	}
	indexes, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid response from lua script")
	}

	var conflicts []contracts.Ref
	for _, v := range indexes {
		i, ok := v.(int64)
		if !ok || i < 1 || int(i) > len(refs) {
			return nil, fmt.Errorf("invalid conflict index %v from lua script", v)
		}
		conflicts = append(conflicts, refs[i-1])
	}
	return conflicts, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/redis/go-redis/v9"
)

const botIndexKey = "circuit_breaker:bots"

// claimScript hands out the current counter and advances it in one step.
// -1 means the address was never seeded.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('INCR', KEYS[1]) - 1
`)

// resetScript moves base and next to ARGV[1] and drops used entries below it.
var resetScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[1])
local n = tonumber(ARGV[1])
for _, m in ipairs(redis.call('SMEMBERS', KEYS[3])) do
  if tonumber(m) < n then
    redis.call('SREM', KEYS[3], m)
  end
end
return 1
`)

// RedisStore is the shared store for multi-process deployments.
type RedisStore struct {
	Client *redis.Client
	prefix string
}

func NewRedisStore(cfg *config.Config) (*RedisStore, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{Client: rdb, prefix: cfg.Redis.KeyPrefix}, nil
}

func (r *RedisStore) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisStore) Close() error {
	return r.Client.Close()
}

// update runs a WATCH/MULTI read-modify-write on key, retrying on conflict.
func (r *RedisStore) update(ctx context.Context, key string, apply func(data []byte) ([]byte, error), extra func(pipe redis.Pipeliner)) error {
	for i := 0; i < maxCASRetries; i++ {
		err := r.Client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			out, err := apply(data)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				if extra != nil {
					extra(pipe)
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (r *RedisStore) GetBotState(ctx context.Context, botID int) (model.BotRiskState, error) {
	data, err := r.Client.Get(ctx, r.key(botKey(botID))).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.NewBotRiskState(botID), nil
	}
	if err != nil {
		return model.BotRiskState{}, err
	}
	var st model.BotRiskState
	if err := decode(data, &st); err != nil {
		return model.BotRiskState{}, fmt.Errorf("decode bot state %d: %w", botID, err)
	}
	return st, nil
}

func (r *RedisStore) UpdateBotState(ctx context.Context, botID int, fn func(*model.BotRiskState) error) (model.BotRiskState, error) {
	var result model.BotRiskState
	err := r.update(ctx, r.key(botKey(botID)), func(data []byte) ([]byte, error) {
		st := model.NewBotRiskState(botID)
		if len(data) > 0 {
			if err := decode(data, &st); err != nil {
				return nil, err
			}
		}
		if err := fn(&st); err != nil {
			return nil, err
		}
		st.UpdatedAt = time.Now().UTC()
		result = st
		return encode(st)
	}, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, r.key(botIndexKey), botID)
	})
	return result, err
}

func (r *RedisStore) ListBotStates(ctx context.Context) ([]model.BotRiskState, error) {
	ids, err := r.Client.SMembers(ctx, r.key(botIndexKey)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.BotRiskState, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		st, err := r.GetBotState(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, nil
}

func (r *RedisStore) GetPortfolioState(ctx context.Context) (model.PortfolioRiskState, error) {
	var st model.PortfolioRiskState
	data, err := r.Client.Get(ctx, r.key(portfolioKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := decode(data, &st); err != nil {
		return st, fmt.Errorf("decode portfolio state: %w", err)
	}
	return st, nil
}

func (r *RedisStore) UpdatePortfolioState(ctx context.Context, fn func(*model.PortfolioRiskState) error) (model.PortfolioRiskState, error) {
	var result model.PortfolioRiskState
	err := r.update(ctx, r.key(portfolioKey), func(data []byte) ([]byte, error) {
		var st model.PortfolioRiskState
		if len(data) > 0 {
			if err := decode(data, &st); err != nil {
				return nil, err
			}
		}
		if err := fn(&st); err != nil {
			return nil, err
		}
		st.UpdatedAt = time.Now().UTC()
		result = st
		return encode(st)
	}, nil)
	return result, err
}

func (r *RedisStore) LoadLedger(ctx context.Context) (model.LedgerSnapshot, bool, error) {
	var snap model.LedgerSnapshot
	data, err := r.Client.Get(ctx, r.key(ledgerKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	if err := decode(data, &snap); err != nil {
		return snap, false, fmt.Errorf("decode ledger: %w", err)
	}
	return snap, true, nil
}

func (r *RedisStore) SaveLedger(ctx context.Context, snap model.LedgerSnapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, r.key(ledgerKey), data, 0).Err()
}

func (r *RedisStore) nonceKeys(address string) (next, base, used string) {
	return r.key(fmt.Sprintf(nonceKeyFmt, address)),
		r.key(fmt.Sprintf(nonceBaseKeyFmt, address)),
		r.key(fmt.Sprintf(nonceUsedKeyFmt, address))
}

// SeedNonce initializes the counter with SETNX, so concurrent seeders agree
// on whichever value landed first.
func (r *RedisStore) SeedNonce(ctx context.Context, address string, next uint64) (bool, error) {
	nextKey, baseKey, _ := r.nonceKeys(address)
	var setCmd *redis.BoolCmd
	_, err := r.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setCmd = pipe.SetNX(ctx, nextKey, next, 0)
		pipe.SetNX(ctx, baseKey, next, 0)
		return nil
	})
	if err != nil {
		return false, err
	}
	return setCmd.Val(), nil
}

func (r *RedisStore) ClaimNonce(ctx context.Context, address string) (uint64, bool, error) {
	nextKey, _, _ := r.nonceKeys(address)
	n, err := claimScript.Run(ctx, r.Client, []string{nextKey}).Int64()
	if err != nil {
		return 0, false, err
	}
	if n < 0 {
		return 0, false, nil
	}
	return uint64(n), true, nil
}

func (r *RedisStore) MarkNonceUsed(ctx context.Context, address string, nonce uint64) error {
	_, _, usedKey := r.nonceKeys(address)
	return r.Client.SAdd(ctx, usedKey, nonce).Err()
}

func (r *RedisStore) GetNonceRecord(ctx context.Context, address string) (model.NonceRecord, bool, error) {
	nextKey, baseKey, usedKey := r.nonceKeys(address)
	rec := model.NonceRecord{Address: address}

	pipe := r.Client.Pipeline()
	nextCmd := pipe.Get(ctx, nextKey)
	baseCmd := pipe.Get(ctx, baseKey)
	usedCmd := pipe.SMembers(ctx, usedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return rec, false, err
	}

	nextStr, err := nextCmd.Result()
	if errors.Is(err, redis.Nil) {
		return rec, false, nil
	}
	if rec.Next, err = parseUint(nextStr); err != nil {
		return rec, false, fmt.Errorf("parse nonce counter: %w", err)
	}
	if baseStr, err := baseCmd.Result(); err == nil {
		rec.Base, _ = parseUint(baseStr)
	}
	for _, m := range usedCmd.Val() {
		if n, err := parseUint(m); err == nil {
			rec.Used = append(rec.Used, n)
		}
	}
	sort.Slice(rec.Used, func(i, j int) bool { return rec.Used[i] < rec.Used[j] })
	return rec, true, nil
}

func (r *RedisStore) ResetNonce(ctx context.Context, address string, next uint64) error {
	nextKey, baseKey, usedKey := r.nonceKeys(address)
	return resetScript.Run(ctx, r.Client, []string{nextKey, baseKey, usedKey}, next).Err()
}

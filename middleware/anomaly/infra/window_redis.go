package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"anomaly-gateway/middleware/anomaly/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cada atualização por chave roda em um único script, então é atômica
// mesmo com várias réplicas do gateway usando o mesmo Redis.
//
// Layout:
//
//	<prefix>:w:<client>  ZSET  score = unix micros, member = uuid
//	<prefix>:active      HASH  client -> conexões em andamento
//	<prefix>:clients     SET   clientes rastreados
var (
	// Os limites chegam prontos como string: o Lua do Redis formata números
	// com 14 dígitos e perderia precisão em microssegundos.
	recordScript = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local burst = redis.call('ZCOUNT', KEYS[1], ARGV[3], '+inf')
local active = redis.call('HINCRBY', KEYS[2], ARGV[5], 1)
redis.call('SADD', KEYS[3], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return {count, burst, active}
`)

	// desfaz um Record cuja resposta se perdeu; só age se o membro existir.
	undoScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
local cur = tonumber(redis.call('HGET', KEYS[2], ARGV[2]) or '0')
if cur > 0 then
  redis.call('HINCRBY', KEYS[2], ARGV[2], -1)
end
return 1
`)

	releaseScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if cur > 0 then
  return redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
end
return 0
`)

	pruneScript = redis.NewScript(`
local trimmed = redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local left = redis.call('ZCARD', KEYS[1])
local active = tonumber(redis.call('HGET', KEYS[2], ARGV[2]) or '0')
if left == 0 and active <= 0 then
  redis.call('DEL', KEYS[1])
  redis.call('HDEL', KEYS[2], ARGV[2])
  redis.call('SREM', KEYS[3], ARGV[2])
  return {trimmed, 1}
end
return {trimmed, 0}
`)
)

// RedisWindowStore implementa domain.WindowStore em Redis.
// Erros de rede chegam ao gate, que aplica o modo de falha configurado.
type RedisWindowStore struct {
	rdb *redis.Client

	prefix      string
	window      time.Duration
	burstWindow time.Duration
	// keyTTL é uma rede de segurança caso o reaper pare de rodar.
	keyTTL time.Duration

	newMember func() string
}

type RedisWindowOption func(*RedisWindowStore)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisWindowStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithWindowKeyTTL(d time.Duration) RedisWindowOption {
	return func(s *RedisWindowStore) { s.keyTTL = d }
}

func NewRedisWindowStore(rdb *redis.Client, window, burstWindow time.Duration, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:         rdb,
		prefix:      "anomaly:window",
		window:      window,
		burstWindow: burstWindow,
		keyTTL:      2 * window,
		newMember:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) windowKey(key domain.ClientKey) string {
	return s.prefix + ":w:" + string(key)
}

func (s *RedisWindowStore) activeKey() string  { return s.prefix + ":active" }
func (s *RedisWindowStore) clientsKey() string { return s.prefix + ":clients" }

// Record implementa domain.WindowStore.
func (s *RedisWindowStore) Record(ctx context.Context, key domain.ClientKey, at time.Time) (domain.WindowStats, error) {
	if key == "" {
		return domain.WindowStats{}, domain.ErrEmptyKey
	}

	ttl := s.keyTTL
	if ttl <= 0 {
		ttl = 2 * s.window
	}

	now := at.UnixMicro()
	member := s.newMember()
	vals, err := recordScript.Run(ctx, s.rdb,
		[]string{s.windowKey(key), s.activeKey(), s.clientsKey()},
		strconv.FormatInt(now, 10),
		"("+strconv.FormatInt(now-s.window.Microseconds(), 10),
		strconv.FormatInt(now-s.burstWindow.Microseconds(), 10),
		member,
		string(key),
		ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		// o script pode ter rodado mesmo sem resposta (timeout); sem isso o
		// contador de conexões ficaria incrementado sem release.
		if uerr := s.undo(ctx, key, member); uerr != nil {
			err = errors.Join(err, uerr)
		}
		return domain.WindowStats{}, fmt.Errorf("redis window record: %w", err)
	}
	if len(vals) != 3 {
		return domain.WindowStats{}, fmt.Errorf("redis window record: unexpected reply %v", vals)
	}
	return domain.WindowStats{Count: int(vals[0]), Burst: int(vals[1]), Active: int(vals[2])}, nil
}

const undoTimeout = 2 * time.Second

func (s *RedisWindowStore) undo(ctx context.Context, key domain.ClientKey, member string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), undoTimeout)
	defer cancel()
	if err := undoScript.Run(ctx, s.rdb, []string{s.windowKey(key), s.activeKey()}, member, string(key)).Err(); err != nil {
		return fmt.Errorf("redis window undo: %w", err)
	}
	return nil
}

// Release implementa domain.WindowStore.
func (s *RedisWindowStore) Release(ctx context.Context, key domain.ClientKey) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{s.activeKey()}, string(key)).Err(); err != nil {
		return fmt.Errorf("redis window release: %w", err)
	}
	return nil
}

// Prune implementa domain.WindowStore percorrendo o SET de clientes com SSCAN.
func (s *RedisWindowStore) Prune(ctx context.Context, cutoff time.Time) (domain.PruneResult, error) {
	var res domain.PruneResult

	iter := s.rdb.SScan(ctx, s.clientsKey(), 0, "", 200).Iterator()
	for iter.Next(ctx) {
		client := iter.Val()
		res.Scanned++

		vals, err := pruneScript.Run(ctx, s.rdb,
			[]string{s.windowKey(domain.ClientKey(client)), s.activeKey(), s.clientsKey()},
			strconv.FormatInt(cutoff.UnixMicro(), 10),
			client,
		).Int64Slice()
		if err != nil {
			return res, fmt.Errorf("redis window prune %q: %w", client, err)
		}
		if len(vals) == 2 {
			res.Trimmed += int(vals[0])
			res.Evicted += int(vals[1])
		}
	}
	if err := iter.Err(); err != nil {
		return res, fmt.Errorf("redis window prune scan: %w", err)
	}

	n, err := s.rdb.SCard(ctx, s.clientsKey()).Result()
	if err != nil {
		return res, fmt.Errorf("redis window prune count: %w", err)
	}
	res.Tracked = int(n)
	return res, nil
}

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/traveler-leon/aeroflow/types"
)

// backendErr 将 Redis 后端故障统一映射为可重试的持久层错误，
// 调用方据此与数据损坏类错误区分开。
func backendErr(op string, err error) error {
	return types.NewError(types.ErrPersistenceUnavailable, op+" failed").
		WithCause(err).WithRetryable(true)
}

// RedisSaver stores checkpoints in Redis: one JSON value per
// checkpoint, plus a per-thread sorted set indexed by sequence number
// so the latest snapshot is one ZREVRANGE away.
type RedisSaver struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSaver creates a Redis-backed checkpoint saver. ttl of zero
// keeps checkpoints forever.
func NewRedisSaver(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisSaver {
	if prefix == "" {
		prefix = "aeroflow"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSaver{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("store", "redis_checkpoint")),
	}
}

func (s *RedisSaver) seqKey(wf, thread string) string {
	return fmt.Sprintf("%s:cpseq:%s:%s", s.prefix, wf, thread)
}

func (s *RedisSaver) indexKey(wf, thread string) string {
	return fmt.Sprintf("%s:cpidx:%s:%s", s.prefix, wf, thread)
}

func (s *RedisSaver) dataKey(wf, thread string, seq int64) string {
	return fmt.Sprintf("%s:cp:%s:%s:%d", s.prefix, wf, thread, seq)
}

func (s *RedisSaver) Save(ctx context.Context, workflowID, threadID string, state map[string]any) (*Checkpoint, error) {
	seq, err := s.client.Incr(ctx, s.seqKey(workflowID, threadID)).Result()
	if err != nil {
		return nil, backendErr("allocate checkpoint seq", err)
	}

	cp := &Checkpoint{
		WorkflowID: workflowID,
		ThreadID:   threadID,
		Seq:        seq,
		State:      state,
		CreatedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := s.dataKey(workflowID, threadID, seq)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return nil, backendErr("write checkpoint", err)
	}
	idx := s.indexKey(workflowID, threadID)
	if err := s.client.ZAdd(ctx, idx, redis.Z{Score: float64(seq), Member: strconv.FormatInt(seq, 10)}).Err(); err != nil {
		return nil, backendErr("index checkpoint", err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("workflow_id", workflowID),
		zap.String("thread_id", threadID),
		zap.Int64("seq", seq),
	)
	return cp, nil
}

func (s *RedisSaver) Latest(ctx context.Context, workflowID, threadID string) (*Checkpoint, error) {
	members, err := s.client.ZRevRange(ctx, s.indexKey(workflowID, threadID), 0, 0).Result()
	if err != nil {
		return nil, backendErr("read checkpoint index", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	seq, err := strconv.ParseInt(members[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt checkpoint index entry %q: %w", members[0], err)
	}
	return s.load(ctx, workflowID, threadID, seq)
}

func (s *RedisSaver) List(ctx context.Context, workflowID, threadID string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 10
	}
	members, err := s.client.ZRevRange(ctx, s.indexKey(workflowID, threadID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, backendErr("read checkpoint index", err)
	}
	out := make([]*Checkpoint, 0, len(members))
	for _, m := range members {
		seq, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.logger.Warn("corrupt checkpoint index entry", zap.String("member", m))
			continue
		}
		cp, err := s.load(ctx, workflowID, threadID, seq)
		if err != nil {
			s.logger.Warn("checkpoint load failed", zap.Int64("seq", seq), zap.Error(err))
			continue
		}
		if cp == nil {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *RedisSaver) DeleteThread(ctx context.Context, workflowID, threadID string) error {
	members, err := s.client.ZRange(ctx, s.indexKey(workflowID, threadID), 0, -1).Result()
	if err != nil {
		return backendErr("read checkpoint index", err)
	}
	keys := make([]string, 0, len(members)+2)
	for _, m := range members {
		seq, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, s.dataKey(workflowID, threadID, seq))
	}
	keys = append(keys, s.indexKey(workflowID, threadID), s.seqKey(workflowID, threadID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return backendErr("delete thread checkpoints", err)
	}
	return nil
}

func (s *RedisSaver) load(ctx context.Context, wf, thread string, seq int64) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.dataKey(wf, thread, seq)).Bytes()
	if errors.Is(err, redis.Nil) {
		// 数据键已按 TTL 过期而索引仍在，等同于没有检查点
		return nil, nil
	}
	if err != nil {
		return nil, backendErr(fmt.Sprintf("read checkpoint %d", seq), err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %d: %w", seq, err)
	}
	return &cp, nil
}

// RedisStore keeps cross-thread data in Redis hashes, one field per
// stored key so concurrent writers merge field-wise in Redis itself
// rather than read-modify-write in memory.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed cross-thread store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "aeroflow"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) storeKey(namespace, key string) string {
	return fmt.Sprintf("%s:store:%s:%s", s.prefix, namespace, key)
}

func (s *RedisStore) Get(ctx context.Context, namespace, key string) (map[string]any, error) {
	raw, err := s.client.HGetAll(ctx, s.storeKey(namespace, key)).Result()
	if err != nil {
		return nil, backendErr(fmt.Sprintf("store read %s/%s", namespace, key), err)
	}
	out := make(map[string]any, len(raw))
	for f, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			// 早期写入的裸字符串原样返回
			decoded = v
		}
		out[f] = decoded
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, namespace, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store encode %s/%s field %s: %w", namespace, key, f, err)
		}
		args = append(args, f, string(data))
	}
	if err := s.client.HSet(ctx, s.storeKey(namespace, key), args...).Err(); err != nil {
		return backendErr(fmt.Sprintf("store write %s/%s", namespace, key), err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	if err := s.client.Del(ctx, s.storeKey(namespace, key)).Err(); err != nil {
		return backendErr(fmt.Sprintf("store delete %s/%s", namespace, key), err)
	}
	return nil
}

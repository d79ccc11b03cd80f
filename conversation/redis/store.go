// Package redis persists conversation checkpoints in Redis. Suited to
// deployments where thread state is shared between replicas; checkpoints
// carry a TTL so abandoned threads age out on their own.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/archiq/assistant/conversation"
)

const (
	defaultTTL    = 72 * time.Hour
	defaultLimit  = 50
	defaultPrefix = "archiq"
)

type Store struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) { s.password = password }
}

func WithDB(db int) Option {
	return func(s *Store) { s.db = db }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *Store) checkpointKey(threadID string, seq int) string {
	return fmt.Sprintf("%s:thread:%s:cp:%d", s.prefix, threadID, seq)
}

func (s *Store) seqSetKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s:seqs", s.prefix, threadID)
}

func (s *Store) threadsKey() string {
	return s.prefix + ":threads"
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp conversation.Checkpoint) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("thread_id is required")
	}
	if cp.Seq < 0 {
		return fmt.Errorf("seq must be >= 0")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// SETNX is the optimistic concurrency check: a second writer racing on
	// the same (thread, seq) pair loses and gets ErrConflict.
	ok, err := s.client.SetNX(ctx, s.checkpointKey(cp.ThreadID, cp.Seq), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if !ok {
		return conversation.ErrConflict
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.seqSetKey(cp.ThreadID), goredis.Z{Score: float64(cp.Seq), Member: strconv.Itoa(cp.Seq)})
	pipe.Expire(ctx, s.seqSetKey(cp.ThreadID), s.ttl)
	pipe.SAdd(ctx, s.threadsKey(), cp.ThreadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index checkpoint: %w", err)
	}
	return nil
}

func (s *Store) LoadLatestCheckpoint(ctx context.Context, threadID string) (conversation.Checkpoint, error) {
	if threadID == "" {
		return conversation.Checkpoint{}, fmt.Errorf("thread_id is required")
	}

	seqs, err := s.client.ZRevRange(ctx, s.seqSetKey(threadID), 0, 0).Result()
	if err != nil {
		return conversation.Checkpoint{}, fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(seqs) == 0 {
		return conversation.Checkpoint{}, conversation.ErrNotFound
	}
	seq, err := strconv.Atoi(seqs[0])
	if err != nil {
		return conversation.Checkpoint{}, fmt.Errorf("corrupt checkpoint index entry %q: %w", seqs[0], err)
	}
	return s.loadCheckpoint(ctx, threadID, seq)
}

func (s *Store) ListCheckpoints(ctx context.Context, threadID string, limit int) ([]conversation.Checkpoint, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread_id is required")
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	seqs, err := s.client.ZRevRange(ctx, s.seqSetKey(threadID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint index: %w", err)
	}

	out := make([]conversation.Checkpoint, 0, len(seqs))
	for _, raw := range seqs {
		seq, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt checkpoint index entry %q: %w", raw, err)
		}
		cp, err := s.loadCheckpoint(ctx, threadID, seq)
		if err != nil {
			// Checkpoint body expired ahead of its index entry; skip it.
			if err == conversation.ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) loadCheckpoint(ctx context.Context, threadID string, seq int) (conversation.Checkpoint, error) {
	raw, err := s.client.Get(ctx, s.checkpointKey(threadID, seq)).Result()
	if err == goredis.Nil {
		return conversation.Checkpoint{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var cp conversation.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return conversation.Checkpoint{}, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return cp, nil
}

func (s *Store) PurgeThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread_id is required")
	}

	seqs, err := s.client.ZRange(ctx, s.seqSetKey(threadID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	keys := make([]string, 0, len(seqs)+1)
	for _, raw := range seqs {
		seq, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		keys = append(keys, s.checkpointKey(threadID, seq))
	}
	keys = append(keys, s.seqSetKey(threadID))

	pipe := s.client.Pipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, s.threadsKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to purge thread: %w", err)
	}
	return nil
}

func (s *Store) PruneSuperseded(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}

	threads, err := s.client.SMembers(ctx, s.threadsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list threads: %w", err)
	}

	pruned := 0
	for _, threadID := range threads {
		// All index entries except the newest keep.
		seqs, err := s.client.ZRevRange(ctx, s.seqSetKey(threadID), int64(keep), -1).Result()
		if err != nil {
			return pruned, fmt.Errorf("failed to read checkpoint index: %w", err)
		}
		if len(seqs) == 0 {
			continue
		}
		keys := make([]string, 0, len(seqs))
		members := make([]any, 0, len(seqs))
		for _, raw := range seqs {
			seq, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}
			keys = append(keys, s.checkpointKey(threadID, seq))
			members = append(members, raw)
		}
		pipe := s.client.Pipeline()
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.seqSetKey(threadID), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return pruned, fmt.Errorf("failed to prune thread %q: %w", threadID, err)
		}
		pruned += len(keys)
	}
	return pruned, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

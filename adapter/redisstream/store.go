package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/klikkai/streambus"
)

const StoreName = "redis-streams"

func init() {
	if err := streambus.RegisterStore(StoreName, func(cfg map[string]any) (streambus.LogStore, error) {
		return NewStore(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("streambus: failed to register store %q: %w", StoreName, err))
	}
}

// Store implements streambus.LogStore over Redis Streams.
type Store struct {
	client *redis.Client
	opts   *redis.Options
	closed atomic.Bool
}

var _ streambus.LogStore = (*Store)(nil)

// NewStore creates a store. The connection is verified by Ping, not here.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	return &Store{client: redis.NewClient(opts), opts: opts}, nil
}

// NewStoreFromClient wraps an existing client. Dedicated connections reuse its options.
func NewStoreFromClient(c *redis.Client) *Store {
	return &Store{client: c, opts: c.Options()}
}

// Client exposes the underlying client.
func (s *Store) Client() *redis.Client { return s.client }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := s.client.Ping(ctx).Result()
	if err != nil {
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}

// Append issues one XADD per entry in a single pipeline.
func (s *Store) Append(ctx context.Context, entries ...streambus.AppendArgs) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(entries))
	for _, e := range entries {
		args := &redis.XAddArgs{
			Stream: e.Stream,
			ID:     "*",
			Values: e.Fields,
		}
		switch e.Trim.Strategy {
		case streambus.TrimApprox:
			args.MaxLen = e.Trim.MaxLen
			args.Approx = true
		case streambus.TrimExact:
			args.MaxLen = e.Trim.MaxLen
		case streambus.TrimMinID:
			args.MinID = e.Trim.MinID
			args.Approx = true
		}
		cmds = append(cmds, pipe.XAdd(ctx, args))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	ids := make([]string, len(cmds))
	for i, c := range cmds {
		ids[i] = c.Val()
	}
	return ids, nil
}

func (s *Store) CreateGroup(ctx context.Context, stream, group, start string) error {
	return mapErr(s.client.XGroupCreateMkStream(ctx, stream, group, start).Err())
}

func (s *Store) ReadGroup(ctx context.Context, args streambus.ReadArgs) ([]streambus.Entry, error) {
	block := args.Block
	if block <= 0 {
		block = -1
	}
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, args.Start},
		Count:    args.Count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, mapErr(err)
	}

	var out []streambus.Entry
	for _, st := range res {
		for _, m := range st.Messages {
			out = append(out, toEntry(m))
		}
	}
	return out, nil
}

func (s *Store) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return mapErr(s.client.XAck(ctx, stream, group, ids...).Err())
}

func (s *Store) Claim(ctx context.Context, args streambus.ClaimArgs) ([]string, error) {
	if len(args.IDs) == 0 {
		return nil, nil
	}
	ids, err := s.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   args.Stream,
		Group:    args.Group,
		Consumer: args.Consumer,
		MinIdle:  args.MinIdle,
		Messages: args.IDs,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, mapErr(err)
	}
	return ids, nil
}

func (s *Store) Range(ctx context.Context, stream, start, end string) ([]streambus.Entry, error) {
	msgs, err := s.client.XRange(ctx, stream, start, end).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, mapErr(err)
	}
	out := make([]streambus.Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toEntry(m))
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, stream string, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.client.XDel(ctx, stream, ids...).Result()
	return n, mapErr(err)
}

// IncrCounter runs INCR and EXPIRE in one MULTI/EXEC.
func (s *Store) IncrCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *Store) StreamInfo(ctx context.Context, stream string) (streambus.StreamInfo, error) {
	info, err := s.client.XInfoStream(ctx, stream).Result()
	if err != nil {
		return streambus.StreamInfo{}, mapErr(err)
	}
	return streambus.StreamInfo{
		Length:          info.Length,
		Groups:          info.Groups,
		LastGeneratedID: info.LastGeneratedID,
		FirstEntryID:    info.FirstEntry.ID,
		LastEntryID:     info.LastEntry.ID,
	}, nil
}

func (s *Store) Groups(ctx context.Context, stream string) ([]streambus.GroupInfo, error) {
	groups, err := s.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]streambus.GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, streambus.GroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
			Lag:             g.Lag,
		})
	}
	return out, nil
}

func (s *Store) Pending(ctx context.Context, stream, group string) (streambus.PendingSummary, error) {
	p, err := s.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return streambus.PendingSummary{}, mapErr(err)
	}
	return streambus.PendingSummary{
		Count:     p.Count,
		Lower:     p.Lower,
		Higher:    p.Higher,
		Consumers: p.Consumers,
	}, nil
}

func (s *Store) PendingEntries(ctx context.Context, args streambus.PendingArgs) ([]streambus.PendingEntry, error) {
	count := args.Count
	if count <= 0 {
		count = 100
	}
	res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   args.Stream,
		Group:    args.Group,
		Idle:     args.Idle,
		Start:    "-",
		End:      "+",
		Count:    count,
		Consumer: args.Consumer,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, mapErr(err)
	}
	out := make([]streambus.PendingEntry, 0, len(res))
	for _, p := range res {
		out = append(out, streambus.PendingEntry{
			ID:            p.ID,
			Consumer:      p.Consumer,
			Idle:          p.Idle,
			DeliveryCount: p.RetryCount,
		})
	}
	return out, nil
}

// Dedicated opens a separate single-connection client so blocking reads do
// not hold connections of the shared pool.
func (s *Store) Dedicated() (streambus.LogStore, error) {
	if s.closed.Load() {
		return nil, redis.ErrClosed
	}
	opts := *s.opts
	opts.PoolSize = 1
	opts.MinIdleConns = 0
	return &Store{client: redis.NewClient(&opts), opts: &opts}, nil
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

func toEntry(m redis.XMessage) streambus.Entry {
	e := streambus.Entry{ID: m.ID}
	if m.Values != nil {
		e.Fields = make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			switch t := v.(type) {
			case string:
				e.Fields[k] = t
			case []byte:
				e.Fields[k] = string(t)
			default:
				e.Fields[k] = fmt.Sprint(t)
			}
		}
	}
	return e
}

// mapErr translates Redis error replies into streambus sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "BUSYGROUP"):
		return fmt.Errorf("%w: %s", streambus.ErrGroupExists, msg)
	case strings.HasPrefix(msg, "NOGROUP"), strings.Contains(msg, "no such key"):
		return fmt.Errorf("%w: %s", streambus.ErrNotFound, msg)
	}
	return err
}

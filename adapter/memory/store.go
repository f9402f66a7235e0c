package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klikkai/streambus"
)

const StoreName = "memory"

func init() {
	if err := streambus.RegisterStore(StoreName, func(cfg map[string]any) (streambus.LogStore, error) {
		return NewStore(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("streambus/memory: failed to register store: %w", err))
	}
}

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("memory store is closed")

// Config controls memory store behavior.
type Config struct {
	// MaxBlock caps how long a blocking group read waits (0 = as requested).
	MaxBlock time.Duration
}

func ConfigFromMap(cfg map[string]any) Config {
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		}
		return d
	}
	return Config{MaxBlock: getDur("max_block", 0)}
}

func (c Config) toMap() map[string]any {
	return map[string]any{"max_block": c.MaxBlock}
}

// Op names a store operation for fault injection.
type Op string

const (
	OpAppend  Op = "append"
	OpRead    Op = "read"
	OpAck     Op = "ack"
	OpClaim   Op = "claim"
	OpCounter Op = "counter"
	OpGroup   Op = "group"
)

// Store implements streambus.LogStore in process memory with Redis Streams
// consumer-group semantics (dev/testing). Dedicated views share state.
type Store struct {
	cfg       Config
	st        *state
	dedicated bool
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ streambus.LogStore = (*Store)(nil)

type state struct {
	mu       sync.Mutex
	streams  map[string]*stream
	counters map[string]counter
	changed  chan struct{}
	faults   map[Op][]error
	metrics  storeMetrics
}

type storeMetrics struct {
	appended atomic.Uint64
	read     atomic.Uint64
	acked    atomic.Uint64
	claimed  atomic.Uint64
}

type counter struct {
	value   int64
	expires time.Time
}

type stream struct {
	entries []entry
	lastID  streamID
	groups  map[string]*group
}

type entry struct {
	id     streamID
	fields map[string]string
}

type group struct {
	lastDelivered streamID
	pel           map[streamID]*pendingEntry
	consumers     map[string]struct{}
}

type pendingEntry struct {
	consumer  string
	delivered time.Time
	count     int64
}

// NewStore creates an empty in-memory store.
func NewStore(cfg Config) *Store {
	return &Store{
		cfg: cfg,
		st: &state{
			streams:  make(map[string]*stream),
			counters: make(map[string]counter),
			changed:  make(chan struct{}),
			faults:   make(map[Op][]error),
		},
		done: make(chan struct{}),
	}
}

// InjectFault makes the next call of op fail with err. Faults queue per op.
func (s *Store) InjectFault(op Op, err error) {
	s.st.mu.Lock()
	s.st.faults[op] = append(s.st.faults[op], err)
	s.st.mu.Unlock()
}

// fault pops a queued fault for op. Callers hold st.mu.
func (st *state) fault(op Op) error {
	q := st.faults[op]
	if len(q) == 0 {
		return nil
	}
	st.faults[op] = q[1:]
	return q[0]
}

// Stats returns store telemetry.
type Stats struct {
	Appended uint64
	Read     uint64
	Acked    uint64
	Claimed  uint64
}

func (s *Store) Stats() Stats {
	return Stats{
		Appended: s.st.metrics.appended.Load(),
		Read:     s.st.metrics.read.Load(),
		Acked:    s.st.metrics.acked.Load(),
		Claimed:  s.st.metrics.claimed.Load(),
	}
}

func (s *Store) Ping(_ context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *Store) Append(_ context.Context, entries ...streambus.AppendArgs) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fault(OpAppend); err != nil {
		return nil, err
	}

	now := time.Now()
	ids := make([]string, 0, len(entries))
	for _, a := range entries {
		str := st.ensureStream(a.Stream)
		id := str.nextID(now)
		fields := make(map[string]string, len(a.Fields))
		for k, v := range a.Fields {
			fields[k] = v
		}
		str.entries = append(str.entries, entry{id: id, fields: fields})
		str.trim(a.Trim)
		ids = append(ids, id.String())
	}
	st.metrics.appended.Add(uint64(len(entries)))

	close(st.changed)
	st.changed = make(chan struct{})
	return ids, nil
}

func (s *Store) CreateGroup(_ context.Context, key, name, start string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fault(OpGroup); err != nil {
		return err
	}

	str := st.ensureStream(key)
	if _, ok := str.groups[name]; ok {
		return streambus.ErrGroupExists
	}
	var from streamID
	switch start {
	case "$":
		from = str.lastID
	default:
		id, err := parseID(start, false)
		if err != nil {
			return err
		}
		from = id
	}
	str.groups[name] = &group{
		lastDelivered: from,
		pel:           make(map[streamID]*pendingEntry),
		consumers:     make(map[string]struct{}),
	}
	return nil
}

func (s *Store) ReadGroup(ctx context.Context, args streambus.ReadArgs) ([]streambus.Entry, error) {
	block := args.Block
	if s.cfg.MaxBlock > 0 && block > s.cfg.MaxBlock {
		block = s.cfg.MaxBlock
	}
	var deadline <-chan time.Time
	if block > 0 {
		t := time.NewTimer(block)
		defer t.Stop()
		deadline = t.C
	}

	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		out, changed, err := s.readOnce(args)
		if err != nil || len(out) > 0 || block <= 0 || args.Start != ">" {
			return out, err
		}
		select {
		case <-changed:
		case <-deadline:
			return nil, nil
		case <-s.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Store) readOnce(args streambus.ReadArgs) ([]streambus.Entry, <-chan struct{}, error) {
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fault(OpRead); err != nil {
		return nil, nil, err
	}

	g, str, err := st.group(args.Stream, args.Group)
	if err != nil {
		return nil, nil, err
	}
	g.consumers[args.Consumer] = struct{}{}
	count := int(args.Count)
	now := time.Now()

	var out []streambus.Entry
	if args.Start == ">" {
		for _, e := range str.entries {
			if !g.lastDelivered.less(e.id) {
				continue
			}
			if count > 0 && len(out) >= count {
				break
			}
			g.lastDelivered = e.id
			g.pel[e.id] = &pendingEntry{consumer: args.Consumer, delivered: now, count: 1}
			out = append(out, streambus.Entry{ID: e.id.String(), Fields: copyFields(e.fields)})
		}
	} else {
		after, err := parseID(args.Start, false)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range g.sortedPending() {
			p := g.pel[id]
			if p.consumer != args.Consumer || !after.less(id) {
				continue
			}
			if count > 0 && len(out) >= count {
				break
			}
			var fields map[string]string
			if e, ok := str.find(id); ok {
				fields = copyFields(e.fields)
			}
			out = append(out, streambus.Entry{ID: id.String(), Fields: fields})
		}
	}
	st.metrics.read.Add(uint64(len(out)))
	return out, st.changed, nil
}

func (s *Store) Ack(_ context.Context, key, name string, ids ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fault(OpAck); err != nil {
		return err
	}
	g, _, err := st.group(key, name)
	if err != nil {
		return err
	}
	for _, raw := range ids {
		id, err := parseID(raw, false)
		if err != nil {
			return err
		}
		if _, ok := g.pel[id]; ok {
			delete(g.pel, id)
			st.metrics.acked.Add(1)
		}
	}
	return nil
}

func (s *Store) Claim(_ context.Context, args streambus.ClaimArgs) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fault(OpClaim); err != nil {
		return nil, err
	}
	g, _, err := st.group(args.Stream, args.Group)
	if err != nil {
		return nil, err
	}
	g.consumers[args.Consumer] = struct{}{}
	now := time.Now()
	var claimed []string
	for _, raw := range args.IDs {
		id, err := parseID(raw, false)
		if err != nil {
			return nil, err
		}
		p, ok := g.pel[id]
		if !ok || now.Sub(p.delivered) < args.MinIdle {
			continue
		}
		p.consumer = args.Consumer
		p.delivered = now
		p.count++
		claimed = append(claimed, raw)
	}
	st.metrics.claimed.Add(uint64(len(claimed)))
	return claimed, nil
}

func (s *Store) Range(_ context.Context, key, start, end string) ([]streambus.Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	lo, err := parseID(start, false)
	if err != nil {
		return nil, err
	}
	hi, err := parseID(end, true)
	if err != nil {
		return nil, err
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	str, ok := st.streams[key]
	if !ok {
		return nil, nil
	}
	var out []streambus.Entry
	for _, e := range str.entries {
		if e.id.less(lo) || hi.less(e.id) {
			continue
		}
		out = append(out, streambus.Entry{ID: e.id.String(), Fields: copyFields(e.fields)})
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, key string, ids ...string) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	del := make(map[streamID]struct{}, len(ids))
	for _, raw := range ids {
		id, err := parseID(raw, false)
		if err != nil {
			return 0, err
		}
		del[id] = struct{}{}
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	str, ok := st.streams[key]
	if !ok {
		return 0, nil
	}
	kept := str.entries[:0]
	var n int64
	for _, e := range str.entries {
		if _, ok := del[e.id]; ok {
			n++
			continue
		}
		kept = append(kept, e)
	}
	str.entries = kept
	return n, nil
}

func (s *Store) IncrCounter(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.fault(OpCounter); err != nil {
		return 0, err
	}
	now := time.Now()
	c := st.counters[key]
	if !c.expires.IsZero() && !now.Before(c.expires) {
		c = counter{}
	}
	c.value++
	if ttl > 0 {
		c.expires = now.Add(ttl)
	}
	st.counters[key] = c
	return c.value, nil
}

func (s *Store) StreamInfo(_ context.Context, key string) (streambus.StreamInfo, error) {
	if s.closed.Load() {
		return streambus.StreamInfo{}, ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	str, ok := st.streams[key]
	if !ok {
		return streambus.StreamInfo{}, fmt.Errorf("memory: stream %q: %w", key, streambus.ErrNotFound)
	}
	info := streambus.StreamInfo{
		Length:          int64(len(str.entries)),
		Groups:          int64(len(str.groups)),
		LastGeneratedID: str.lastID.String(),
	}
	if n := len(str.entries); n > 0 {
		info.FirstEntryID = str.entries[0].id.String()
		info.LastEntryID = str.entries[n-1].id.String()
	}
	return info, nil
}

func (s *Store) Groups(_ context.Context, key string) ([]streambus.GroupInfo, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	str, ok := st.streams[key]
	if !ok {
		return nil, fmt.Errorf("memory: stream %q: %w", key, streambus.ErrNotFound)
	}
	names := make([]string, 0, len(str.groups))
	for name := range str.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]streambus.GroupInfo, 0, len(names))
	for _, name := range names {
		g := str.groups[name]
		var lag int64
		for _, e := range str.entries {
			if g.lastDelivered.less(e.id) {
				lag++
			}
		}
		out = append(out, streambus.GroupInfo{
			Name:            name,
			Consumers:       int64(len(g.consumers)),
			Pending:         int64(len(g.pel)),
			LastDeliveredID: g.lastDelivered.String(),
			Lag:             lag,
		})
	}
	return out, nil
}

func (s *Store) Pending(_ context.Context, key, name string) (streambus.PendingSummary, error) {
	if s.closed.Load() {
		return streambus.PendingSummary{}, ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	g, _, err := st.group(key, name)
	if err != nil {
		return streambus.PendingSummary{}, err
	}
	sum := streambus.PendingSummary{Count: int64(len(g.pel)), Consumers: make(map[string]int64)}
	ids := g.sortedPending()
	if len(ids) > 0 {
		sum.Lower = ids[0].String()
		sum.Higher = ids[len(ids)-1].String()
	}
	for _, p := range g.pel {
		sum.Consumers[p.consumer]++
	}
	return sum, nil
}

func (s *Store) PendingEntries(_ context.Context, args streambus.PendingArgs) ([]streambus.PendingEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	st := s.st
	st.mu.Lock()
	defer st.mu.Unlock()

	g, _, err := st.group(args.Stream, args.Group)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []streambus.PendingEntry
	for _, id := range g.sortedPending() {
		p := g.pel[id]
		idle := now.Sub(p.delivered)
		if args.Consumer != "" && p.consumer != args.Consumer {
			continue
		}
		if idle < args.Idle {
			continue
		}
		if args.Count > 0 && int64(len(out)) >= args.Count {
			break
		}
		out = append(out, streambus.PendingEntry{ID: id.String(), Consumer: p.consumer, Idle: idle, DeliveryCount: p.count})
	}
	return out, nil
}

// Dedicated returns a view over the same data with its own lifecycle.
func (s *Store) Dedicated() (streambus.LogStore, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return &Store{cfg: s.cfg, st: s.st, dedicated: true, done: make(chan struct{})}, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

// Helper functions

func (st *state) ensureStream(key string) *stream {
	str, ok := st.streams[key]
	if !ok {
		str = &stream{groups: make(map[string]*group)}
		st.streams[key] = str
	}
	return str
}

func (st *state) group(key, name string) (*group, *stream, error) {
	str, ok := st.streams[key]
	if !ok {
		return nil, nil, fmt.Errorf("memory: no such key %q or consumer group %q: %w", key, name, streambus.ErrNotFound)
	}
	g, ok := str.groups[name]
	if !ok {
		return nil, nil, fmt.Errorf("memory: no such key %q or consumer group %q: %w", key, name, streambus.ErrNotFound)
	}
	return g, str, nil
}

func (str *stream) nextID(now time.Time) streamID {
	ms := uint64(now.UnixMilli())
	id := streamID{ms: ms}
	if ms <= str.lastID.ms {
		id = streamID{ms: str.lastID.ms, seq: str.lastID.seq + 1}
	}
	str.lastID = id
	return id
}

func (str *stream) trim(t streambus.Trim) {
	switch t.Strategy {
	case streambus.TrimApprox, streambus.TrimExact:
		if t.MaxLen > 0 && int64(len(str.entries)) > t.MaxLen {
			str.entries = append([]entry(nil), str.entries[int64(len(str.entries))-t.MaxLen:]...)
		}
	case streambus.TrimMinID:
		floor, err := parseID(t.MinID, false)
		if err != nil {
			return
		}
		i := sort.Search(len(str.entries), func(i int) bool { return !str.entries[i].id.less(floor) })
		if i > 0 {
			str.entries = append([]entry(nil), str.entries[i:]...)
		}
	}
}

func (str *stream) find(id streamID) (entry, bool) {
	i := sort.Search(len(str.entries), func(i int) bool { return !str.entries[i].id.less(id) })
	if i < len(str.entries) && str.entries[i].id == id {
		return str.entries[i], true
	}
	return entry{}, false
}

func (g *group) sortedPending() []streamID {
	ids := make([]streamID, 0, len(g.pel))
	for id := range g.pel {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].less(ids[j]) })
	return ids
}

func copyFields(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// streamID mirrors Redis "<ms>-<seq>" entry ids.
type streamID struct {
	ms, seq uint64
}

func (id streamID) String() string {
	return strconv.FormatUint(id.ms, 10) + "-" + strconv.FormatUint(id.seq, 10)
}

func (id streamID) less(o streamID) bool {
	if id.ms != o.ms {
		return id.ms < o.ms
	}
	return id.seq < o.seq
}

// parseID accepts "-", "+", "<ms>" and "<ms>-<seq>". A bare ms as an upper
// bound covers every sequence number.
func parseID(s string, upper bool) (streamID, error) {
	switch s {
	case "-":
		return streamID{}, nil
	case "+":
		return streamID{ms: ^uint64(0), seq: ^uint64(0)}, nil
	}
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return streamID{}, fmt.Errorf("memory: invalid stream id %q", s)
	}
	if !hasSeq {
		if upper {
			return streamID{ms: ms, seq: ^uint64(0)}, nil
		}
		return streamID{ms: ms}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return streamID{}, fmt.Errorf("memory: invalid stream id %q", s)
	}
	return streamID{ms: ms, seq: seq}, nil
}

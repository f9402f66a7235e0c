package streambus

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	cfg Config

	storeName string
	storeCfg  map[string]any
	storeInst LogStore

	codecName string
	codecInst Codec

	middlewares []Middleware
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock

	poolWorkers int
	poolBuffer  int
}

// NewBusBuilder returns a new builder with DefaultConfig.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		cfg:         DefaultConfig(),
		codecName:   "json",
		poolWorkers: 4,
		poolBuffer:  1000,
	}
}

func (bb *BusBuilder) WithConfig(cfg Config) *BusBuilder {
	bb.cfg = cfg
	return bb
}

// WithStore selects a registered store by name. A nil cfg is derived from
// Config.Store at Build time.
func (bb *BusBuilder) WithStore(name string, cfg map[string]any) *BusBuilder {
	bb.storeName = name
	bb.storeCfg = cfg
	return bb
}

// WithStoreInstance accepts a ready LogStore instance.
func (bb *BusBuilder) WithStoreInstance(s LogStore) *BusBuilder {
	bb.storeInst = s
	return bb
}

func (bb *BusBuilder) WithCodec(name string) *BusBuilder {
	bb.codecName = name
	return bb
}

// WithCodecInstance accepts a ready Codec instance.
func (bb *BusBuilder) WithCodecInstance(c Codec) *BusBuilder {
	bb.codecInst = c
	return bb
}

func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

// WithObserverPool sizes the async notification pool.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	bb.poolWorkers = workers
	bb.poolBuffer = bufferSize
	return bb
}

func (bb *BusBuilder) Build() (*Bus, error) {
	if err := bb.cfg.Validate(); err != nil {
		return nil, err
	}

	var st LogStore
	var err error
	switch {
	case bb.storeInst != nil:
		st = bb.storeInst
	case bb.storeName != "":
		cfg := bb.storeCfg
		if cfg == nil {
			cfg = bb.cfg.Store.toMap()
		}
		st, err = NewStore(bb.storeName, cfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoStoreConfigured
	}

	var cd Codec
	if bb.codecInst != nil {
		cd = bb.codecInst
	} else {
		cd, err = NewCodec(bb.codecName)
		if err != nil {
			return nil, err
		}
	}

	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		store:        st,
		codec:        cd,
		clock:        clk,
		logger:       lg,
		cfg:          bb.cfg,
		consumer:     ConsumerName(bb.cfg.Consumer.Name),
		middlewares:  bb.middlewares,
		observerPool: NewObserverPool(ctx, bb.poolWorkers, bb.poolBuffer),
		metrics:      &busMetrics{},
		subs:         make(map[string]*subscription),
		workers:      make(map[string]*streamWorker),
		cancel:       cancel,
	}
	b.baseCtx = InjectAll(ctx, cd, lg, clk)

	// Logging observer first unless one was supplied.
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b, nil
}

// New constructs a Bus via Builder and returns a close func for convenience.
func New(init func(b *BusBuilder)) (*Bus, func() error, error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return bus.Disconnect(context.Background()) }
	return bus, closeFn, nil
}

package redisstream

import (
	"fmt"

	"github.com/klikkai/streambus"
)

// Use builds a Bus over Redis Streams, sets it as the default Bus and returns it.
// The store address comes from cfg.Store unless WithRedis overrides it.
func Use(cfg streambus.Config, opts ...Option) *streambus.Bus {
	bb := streambus.NewBusBuilder().
		WithConfig(cfg).
		WithStore(StoreName, FromBusConfig(cfg.Store).toMap())

	for _, o := range opts {
		if o != nil {
			o(bb)
		}
	}
	bus, err := bb.Build()
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}

	streambus.SetDefault(bus)
	return bus
}

// FromBusConfig derives store settings from the bus store section.
func FromBusConfig(s streambus.StoreConfig) Config {
	c := Defaults()
	c.Addr = s.Addr()
	c.Username = s.Username
	c.Password = s.Password
	c.DB = s.DB
	c.TLS = s.TLS
	c.TLSServerName = s.TLSServerName
	return c
}

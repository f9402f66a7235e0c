// Package redisstream provides a Redis Streams log store for streambus.
//
// Store name: "redis-streams"
//
// Config keys:
// - addr: "host:port" (default "127.0.0.1:6379"); "host" and "port" also accepted
// - username, password, db
// - tls, tls_server_name
// - pool_size (default 10), min_idle_conns (default 2), max_retries (default 3)
// - dial_timeout (default 5s)
//
// Every stream worker reads through its own single-connection client
// (Dedicated) so XREADGROUP BLOCK never starves the shared pool.
//
// Example builder usage:
//
//	bus, _ := streambus.NewBusBuilder().
//	    WithConfig(cfg).
//	    WithStore(redisstream.StoreName, map[string]any{
//	        "addr":     "localhost:6379",
//	        "password": "secret",
//	    }).
//	    Build()
//	_ = bus.Connect(ctx)
package redisstream

// Package factory provides a small generic registry used to instantiate modules
// from configuration. Broadcast relays and metrics sinks are defined by a
// type string and a map of raw settings. Factories decode the settings into
// typed structs and return the concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[broadcast.Relay]()
//	reg.Register("redis", func(conf map[string]any) (broadcast.Relay, error) {
//	    var c struct{ Addr string `json:"addr"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return redisrelay.New(c.Addr)
//	})
//	r, err := reg.Create(factory.ModuleConfig{Type: "redis", Conf: map[string]any{"addr": "localhost:6379"}})
package factory

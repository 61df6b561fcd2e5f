package sse

import "time"

// Default configuration values.
const (
	DefaultEventBufferSize     = 1000
	DefaultClientBufferSize    = 100
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultShutdownTimeout     = 5 * time.Second
	DefaultMaxClients          = 1000
	DefaultMaxClientsPerTenant = 50
)

// Config holds broker configuration.
type Config struct {
	EventBufferSize   int           `yaml:"event_buffer_size"`
	ClientBufferSize  int           `yaml:"client_buffer_size"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// MaxClients of 0 means unlimited.
	MaxClients int `yaml:"max_clients"`
	// MaxClientsPerTenant caps tenant-scoped streams; 0 means unlimited.
	MaxClientsPerTenant int `yaml:"max_clients_per_tenant"`
	// Enabled controls whether the SSE endpoint is mounted.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EventBufferSize:     DefaultEventBufferSize,
		ClientBufferSize:    DefaultClientBufferSize,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		ShutdownTimeout:     DefaultShutdownTimeout,
		MaxClients:          DefaultMaxClients,
		MaxClientsPerTenant: DefaultMaxClientsPerTenant,
		Enabled:             true,
	}
}

// BrokerOption configures a broker.
type BrokerOption func(*broker)

// WithClientBufferSize sets the default client buffer size.
func WithClientBufferSize(size int) BrokerOption {
	return func(b *broker) {
		if size > 0 {
			b.clientBufferSize = size
		}
	}
}

// WithMaxClients sets the maximum number of concurrent clients.
func WithMaxClients(maxClients int) BrokerOption {
	return func(b *broker) {
		b.maxClients = maxClients
	}
}

// WithMaxClientsPerTenant caps concurrent clients subscribed for one tenant.
func WithMaxClientsPerTenant(n int) BrokerOption {
	return func(b *broker) {
		b.maxPerTenant = n
	}
}

// WithConfig applies a full Config to the broker.
func WithConfig(cfg Config) BrokerOption {
	return func(b *broker) {
		if cfg.EventBufferSize > 0 {
			b.eventBufferSize = cfg.EventBufferSize
		}
		if cfg.ClientBufferSize > 0 {
			b.clientBufferSize = cfg.ClientBufferSize
		}
		if cfg.HeartbeatInterval > 0 {
			b.heartbeatInterval = cfg.HeartbeatInterval
		}
		if cfg.ShutdownTimeout > 0 {
			b.shutdownTimeout = cfg.ShutdownTimeout
		}
		b.maxClients = cfg.MaxClients
		b.maxPerTenant = cfg.MaxClientsPerTenant
	}
}

// ClientOption configures a client subscription.
type ClientOption func(*ClientOptions)

// WithFilter adds an event filter for the client. Filters compose with AND.
func WithFilter(filter EventFilter) ClientOption {
	return func(opts *ClientOptions) {
		prev := opts.Filter
		if prev == nil {
			opts.Filter = filter
			return
		}
		opts.Filter = func(event Event) bool {
			return prev(event) && filter(event)
		}
	}
}

// WithBufferSize sets the client's event buffer size.
func WithBufferSize(size int) ClientOption {
	return func(opts *ClientOptions) {
		if size > 0 {
			opts.BufferSize = size
		}
	}
}

// WithEventTypes only passes events whose type is listed.
func WithEventTypes(types ...string) ClientOption {
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return WithFilter(func(event Event) bool {
		_, ok := allowed[event.Type]
		return ok
	})
}

// WithTenant only passes events scoped to tenant and counts the client
// against that tenant's cap. An empty tenant passes everything.
func WithTenant(tenant string) ClientOption {
	if tenant == "" {
		return func(*ClientOptions) {}
	}
	filter := WithFilter(func(event Event) bool {
		return event.Tenant == tenant
	})
	return func(opts *ClientOptions) {
		opts.Tenant = tenant
		filter(opts)
	}
}

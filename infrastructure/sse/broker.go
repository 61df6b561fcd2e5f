package sse

import (
	"context"
	"fmt"
	"sync"
	"time"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
)

// broker fans events out to subscribers. Clients subscribed for a tenant are
// indexed by it, so tenant-scoped events only visit that tenant's clients and
// the unscoped ones (operators watching every tenant).
type broker struct {
	logger  infralogger.Logger
	clients map[string]*client
	// byTenant indexes clients by subscribed tenant; "" holds unscoped clients.
	byTenant map[string]map[string]*client
	mu       sync.RWMutex

	publish chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	eventBufferSize   int
	clientBufferSize  int
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
	maxClients        int
	maxPerTenant      int
}

// NewBroker creates a new SSE broker.
func NewBroker(logger infralogger.Logger, opts ...BrokerOption) Broker {
	b := &broker{
		logger:            logger,
		clients:           make(map[string]*client),
		byTenant:          make(map[string]map[string]*client),
		eventBufferSize:   DefaultEventBufferSize,
		clientBufferSize:  DefaultClientBufferSize,
		heartbeatInterval: DefaultHeartbeatInterval,
		shutdownTimeout:   DefaultShutdownTimeout,
		maxClients:        DefaultMaxClients,
		maxPerTenant:      DefaultMaxClientsPerTenant,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.publish = make(chan Event, b.eventBufferSize)

	return b
}

// Start begins processing events.
func (b *broker) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.broadcastLoop()

	b.logger.Info("SSE broker started",
		infralogger.Int("event_buffer_size", b.eventBufferSize),
		infralogger.Int("client_buffer_size", b.clientBufferSize),
		infralogger.Duration("heartbeat_interval", b.heartbeatInterval),
		infralogger.Int("max_clients", b.maxClients),
		infralogger.Int("max_clients_per_tenant", b.maxPerTenant),
	)

	return nil
}

// Stop gracefully shuts down the broker.
func (b *broker) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("SSE broker stopped gracefully")
	case <-time.After(b.shutdownTimeout):
		b.logger.Warn("SSE broker shutdown timeout exceeded")
	}

	return nil
}

// Publish sends an event to all connected clients.
func (b *broker) Publish(ctx context.Context, event Event) error {
	select {
	case b.publish <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("publish buffer full (dropped event: %s)", event.Type)
	}
}

// Subscribe creates a new SSE subscription.
func (b *broker) Subscribe(ctx context.Context, opts ...ClientOption) (events <-chan Event, cleanup func()) {
	clientOpts := ClientOptions{
		BufferSize: b.clientBufferSize,
	}

	for _, opt := range opts {
		opt(&clientOpts)
	}

	c := newClient(ctx, clientOpts.BufferSize, clientOpts.Tenant, clientOpts.Filter)

	if reason := b.register(c); reason != "" {
		c.close()
		b.logger.Warn("SSE subscription rejected",
			infralogger.String("reason", reason),
			infralogger.String("tenant_id", c.tenant),
		)
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}

	b.logger.Debug("Client subscribed",
		infralogger.String("client_id", c.id),
		infralogger.Int("total_clients", b.ClientCount()),
	)

	b.wg.Add(1)
	go b.cleanupClient(c)

	cleanup = func() {
		b.removeClient(c.id)
	}

	return c.events, cleanup
}

// register admits c under the global and per-tenant caps and reports the cap
// that rejected it, if any. Unscoped clients only count against the global cap.
func (b *broker) register(c *client) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		return "max_clients"
	}
	group := b.byTenant[c.tenant]
	if c.tenant != "" && b.maxPerTenant > 0 && len(group) >= b.maxPerTenant {
		return "max_clients_per_tenant"
	}
	if group == nil {
		group = make(map[string]*client)
		b.byTenant[c.tenant] = group
	}
	group[c.id] = c
	b.clients[c.id] = c
	return ""
}

// TenantClientCount returns the number of clients subscribed for tenant.
func (b *broker) TenantClientCount(tenant string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byTenant[tenant])
}

// HeartbeatInterval is how often idle streams receive a keep-alive comment.
func (b *broker) HeartbeatInterval() time.Duration {
	return b.heartbeatInterval
}

// ClientCount returns the number of connected clients.
func (b *broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *broker) broadcastLoop() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.publish:
			b.broadcast(event)
		case <-b.ctx.Done():
			b.disconnectAllClients()
			return
		}
	}
}

// recipients returns the clients an event can reach. Unscoped events go to
// everyone.
func (b *broker) recipients(event Event) []*client {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Tenant == "" {
		out := make([]*client, 0, len(b.clients))
		for _, c := range b.clients {
			out = append(out, c)
		}
		return out
	}

	scoped, unscoped := b.byTenant[event.Tenant], b.byTenant[""]
	out := make([]*client, 0, len(scoped)+len(unscoped))
	for _, c := range scoped {
		out = append(out, c)
	}
	for _, c := range unscoped {
		out = append(out, c)
	}
	return out
}

// broadcast delivers event to every matching client. Clients whose buffer is
// full are disconnected rather than blocking the loop.
func (b *broker) broadcast(event Event) {
	clients := b.recipients(event)

	var sent int
	var slowClients []string
	for _, c := range clients {
		if c.send(event) {
			sent++
			continue
		}
		slowClients = append(slowClients, c.id)
	}

	for _, clientID := range slowClients {
		b.logger.Warn("Client buffer full, closing slow connection",
			infralogger.String("client_id", clientID),
			infralogger.String("event_type", event.Type),
		)
		b.removeClient(clientID)
	}

	b.logger.Debug("Event broadcast",
		infralogger.String("event_type", event.Type),
		infralogger.Int("sent", sent),
		infralogger.Int("dropped", len(slowClients)),
	)
}

func (b *broker) cleanupClient(c *client) {
	defer b.wg.Done()

	<-c.ctx.Done()

	b.removeClient(c.id)
}

func (b *broker) removeClient(clientID string) {
	b.mu.Lock()
	c, exists := b.clients[clientID]
	if exists {
		delete(b.clients, clientID)
		if group := b.byTenant[c.tenant]; group != nil {
			delete(group, clientID)
			if len(group) == 0 {
				delete(b.byTenant, c.tenant)
			}
		}
	}
	b.mu.Unlock()

	if exists && c != nil {
		c.close()
		b.logger.Debug("Client disconnected",
			infralogger.String("client_id", clientID),
			infralogger.Int("total_clients", b.ClientCount()),
		)
	}
}

func (b *broker) disconnectAllClients() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[string]*client)
	b.byTenant = make(map[string]map[string]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	b.logger.Info("All SSE clients disconnected",
		infralogger.Int("count", len(clients)),
	)
}

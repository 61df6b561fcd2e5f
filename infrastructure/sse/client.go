package sse

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type client struct {
	id         string
	tenant     string
	events     chan Event
	filter     EventFilter
	ctx        context.Context
	cancel     context.CancelFunc
	lastActive time.Time
	closed     atomic.Bool
	closeMu    sync.Mutex
}

func newClient(ctx context.Context, bufferSize int, tenant string, filter EventFilter) *client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &client{
		id:         "sse-" + uuid.NewString(),
		tenant:     tenant,
		events:     make(chan Event, bufferSize),
		filter:     filter,
		ctx:        clientCtx,
		cancel:     cancel,
		lastActive: time.Now(),
	}
}

// close is idempotent; the broadcast loop and the request cleanup may both call it.
func (c *client) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return
	}

	c.closed.Store(true)
	c.cancel()
	close(c.events)
}

// send reports false only when the client buffer is full. Filtered events count as delivered.
func (c *client) send(event Event) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return true
	}
	if c.filter != nil && !c.filter(event) {
		return true
	}

	select {
	case c.events <- event:
		c.lastActive = time.Now()
		return true
	default:
		return false
	}
}

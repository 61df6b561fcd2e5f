package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/pglemos/ml-bling-sync/infrastructure/logger"
)

const sseContentType = "text/event-stream"

// Handler streams broker events to the client until it disconnects.
// Subscriptions rejected by the client limit get a 503.
func Handler(broker Broker, logger infralogger.Logger, opts ...ClientOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		handlerOpts := opts
		if tenant := c.Query("tenant_id"); tenant != "" {
			handlerOpts = append(append([]ClientOption{}, opts...), WithTenant(tenant))
		}

		eventChan, cleanup := broker.Subscribe(c.Request.Context(), handlerOpts...)
		defer cleanup()

		if rejected(eventChan) {
			logger.Warn("SSE subscription rejected")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{"kind": "unavailable", "message": "too many connections"},
			})
			return
		}

		setSSEHeaders(c.Writer)
		c.Status(http.StatusOK)

		connected := Event{
			Type: eventTypeConnected,
			Data: map[string]any{"timestamp": timestamp()},
		}
		if err := writeEvent(c.Writer, connected); err != nil {
			logger.Error("Failed to write connection event", infralogger.Error(err))
			return
		}

		streamEvents(c, eventChan, broker.HeartbeatInterval(), logger)
	}
}

// rejected reports whether the broker handed back an already-closed channel.
func rejected(eventChan <-chan Event) bool {
	select {
	case _, ok := <-eventChan:
		return !ok
	default:
		return false
	}
}

func setSSEHeaders(w gin.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", sseContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func streamEvents(c *gin.Context, eventChan <-chan Event, heartbeat time.Duration, logger infralogger.Logger) {
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := writeEvent(c.Writer, event); err != nil {
				logger.Debug("SSE write failed",
					infralogger.Error(err),
					infralogger.String("event_type", event.Type),
				)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprintf(c.Writer, ": heartbeat %s\n\n", timestamp()); err != nil {
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// encodeEvent writes one event in SSE wire format. Tenant is never written.
func encodeEvent(w io.Writer, event Event) error {
	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", event.Retry); err != nil {
			return fmt.Errorf("write retry: %w", err)
		}
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err = fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	return nil
}

func writeEvent(w gin.ResponseWriter, event Event) error {
	if err := encodeEvent(w, event); err != nil {
		return err
	}
	w.Flush()
	return nil
}

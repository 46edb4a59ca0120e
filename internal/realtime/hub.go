package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"fieldservice_backend/platform/httpkit"
	"fieldservice_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

const clientBuffer = 32

type subscriber struct {
	channels []string
	messages chan Message
}

// Hub fans published messages out to connected SSE clients by channel.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*subscriber]struct{}
	log      *logger.Logger
	now      func() time.Time
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*subscriber]struct{}),
		log:      log,
		now:      time.Now,
	}
}

func (h *Hub) subscribe(channels ...string) *subscriber {
	sub := &subscriber{channels: channels, messages: make(chan Message, clientBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		subs, ok := h.channels[ch]
		if !ok {
			subs = make(map[*subscriber]struct{})
			h.channels[ch] = subs
		}
		subs[sub] = struct{}{}
	}
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range sub.channels {
		delete(h.channels[ch], sub)
		if len(h.channels[ch]) == 0 {
			delete(h.channels, ch)
		}
	}
	close(sub.messages)
}

// Publish never blocks. Slow subscribers drop messages.
func (h *Hub) Publish(_ context.Context, channel, name string, data map[string]any) error {
	msg := Message{Channel: channel, Name: name, Data: data, PublishedAt: h.now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.channels[channel] {
		select {
		case sub.messages <- msg:
		default:
			h.log.Warn("realtime subscriber buffer full", "channel", channel, "name", name)
		}
	}
	return nil
}

// Subscribers reports the number of subscribers on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Handler streams the caller's tenant channel, their user channel and any extra
// channel suffixes passed as ?topics=a,b.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		locationID, ok := httpkit.MustGetLocation(c)
		if !ok {
			return
		}
		userID := httpkit.GetIdentity(c).UserID().String()

		tenant := TenantChannel(locationID)
		channels := []string{tenant, UserChannel(locationID, userID)}
		for _, topic := range strings.Split(c.Query("topics"), ",") {
			topic = strings.TrimSpace(topic)
			if topic != "" && !strings.Contains(topic, "user:") {
				channels = append(channels, tenant+":"+topic)
			}
		}

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		sub := h.subscribe(channels...)
		defer h.unsubscribe(sub)

		c.SSEvent("connected", gin.H{"channels": channels})
		c.Writer.Flush()

		keepAlive := time.NewTicker(25 * time.Second)
		defer keepAlive.Stop()

		done := c.Request.Context().Done()
		for {
			select {
			case <-done:
				return
			case <-keepAlive.C:
				c.SSEvent("ping", gin.H{"at": h.now().UTC()})
				c.Writer.Flush()
			case msg := <-sub.messages:
				c.SSEvent(msg.Name, msg)
				c.Writer.Flush()
			}
		}
	}
}

// Status reports whether any client is listening on the caller's tenant channel.
func (h *Hub) Status(c *gin.Context) {
	locationID, ok := httpkit.MustGetLocation(c)
	if !ok {
		return
	}
	httpkit.OK(c, gin.H{"subscribers": h.Subscribers(TenantChannel(locationID))})
}

var _ Publisher = (*Hub)(nil)

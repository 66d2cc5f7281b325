package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/toncenter/jetton-lockup/models"
)

const maxStreamLockups = 256

type streamClient struct {
	id      string
	lockups mapset.Set[string]
	send    func([]byte) error
}

// Hub forwards lockup events from the event bus to stream clients
// subscribed to the lockup.
type Hub struct {
	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	log     *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{clients: make(map[*streamClient]struct{}), log: logger}
}

func (h *Hub) register(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Broadcast sends payload to every client subscribed to lockup.
func (h *Hub) Broadcast(lockup string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.lockups.Contains(lockup) {
			continue
		}
		if err := c.send(payload); err != nil {
			h.log.WithError(err).WithField("client", c.id).Debug("failed to send event")
		}
	}
}

// Run consumes the subscription until ctx is done.
func (h *Hub) Run(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var rec models.ClaimRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				h.log.WithError(err).Warn("skipping malformed event")
				continue
			}
			h.Broadcast(rec.Lockup, []byte(msg.Payload))
		}
	}
}

// handleFrame applies one client frame and returns the reply.
func (h *Hub) handleFrame(c *streamClient, frame []byte) models.StreamStatus {
	var req models.StreamRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return models.StreamStatus{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	switch req.Operation {
	case models.OpPing:
		return models.StreamStatus{ID: req.ID, Status: "pong"}
	case models.OpSubscribe, models.OpUnsubscribe:
		keys := make([]string, 0, len(req.Lockups))
		for _, s := range req.Lockups {
			addr, err := models.ParseAddress(s)
			if err != nil {
				return models.StreamStatus{ID: req.ID, Error: err.Error()}
			}
			keys = append(keys, addr.String())
		}
		if req.Operation == models.OpUnsubscribe {
			for _, k := range keys {
				c.lockups.Remove(k)
			}
			return models.StreamStatus{ID: req.ID, Status: "unsubscribed"}
		}
		merged := c.lockups.Union(mapset.NewSet(keys...))
		if merged.Cardinality() > maxStreamLockups {
			return models.StreamStatus{ID: req.ID, Error: fmt.Sprintf("too many lockups: %d > max %d", merged.Cardinality(), maxStreamLockups)}
		}
		c.lockups.Append(keys...)
		return models.StreamStatus{ID: req.ID, Status: "subscribed"}
	}
	return models.StreamStatus{ID: req.ID, Error: fmt.Sprintf("unknown operation %q", req.Operation)}
}

func (h *Hub) websocketHandler(conn *websocket.Conn) {
	var writeMu sync.Mutex
	client := &streamClient{
		id:      conn.RemoteAddr().String(),
		lockups: mapset.NewSet[string](),
		send: func(b []byte) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			return conn.WriteMessage(websocket.TextMessage, b)
		},
	}
	h.register(client)
	defer h.unregister(client)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply, _ := json.Marshal(h.handleFrame(client, frame))
		if err := client.send(reply); err != nil {
			return
		}
	}
}

// Register adds the websocket endpoint to app.
func (h *Hub) Register(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(h.websocketHandler))
}

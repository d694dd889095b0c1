package realtime

import (
	"context"
	"log/slog"
	"sync"
)

// Hub is the in-process Group. Join and Leave are safe under concurrent Publish.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	groups map[string]map[string]Subscriber
}

var _ Group = (*Hub)(nil)

// NewHub constructs a Hub. m may be nil.
func NewHub(log *slog.Logger, m *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		groups:  make(map[string]map[string]Subscriber),
	}
}

// Join adds s to group. Joining twice with the same id replaces the earlier subscriber.
func (h *Hub) Join(_ context.Context, group string, s Subscriber) error {
	if s == nil || s.ID() == "" || group == "" {
		return nil
	}
	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]Subscriber)
		h.groups[group] = members
	}
	members[s.ID()] = s
	n := len(members)
	h.mu.Unlock()

	h.log.Debug("group.member.join", "group", group, "session_id", s.ID(), "members", n)
	return nil
}

func (h *Hub) Leave(_ context.Context, group, subscriberID string) error {
	h.mu.Lock()
	members := h.groups[group]
	_, present := members[subscriberID]
	delete(members, subscriberID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	h.mu.Unlock()

	if present {
		h.log.Debug("group.member.leave", "group", group, "session_id", subscriberID)
	}
	return nil
}

func (h *Hub) Publish(_ context.Context, group string, msg []byte) error {
	h.Broadcast(group, msg)
	return nil
}

// Broadcast delivers msg to every member of group and returns how many accepted it.
func (h *Hub) Broadcast(group string, msg []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, m := range h.groups[group] {
		if m.Deliver(msg) {
			delivered++
			continue
		}
		h.metrics.broadcastDropped()
	}
	return delivered
}

// Members returns the current member count of group.
func (h *Hub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Package hub fans presence and project events out to connected clients and
// broadcasts chat datagrams to project multicast groups.
package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/worthlabs/worth/internal/models"
	"github.com/worthlabs/worth/internal/protocol"
)

// Notifier is one client's outbound notification channel. The websocket
// client implements it; tests substitute fakes. A returned error means the
// channel is dead and the hub drops its registration.
type Notifier interface {
	NotifyUserStatus(username string, status models.UserStatus) error
	NotifyProjectAdded(project, chatAddress string) error
	NotifyLeaveGroup(project string) error
	NotifyShutdown() error
}

// Hub is the callback registry: it maps logged-in usernames to their push
// channels. Entries appear on login, disappear on logout, disconnect, or the
// first failed send. Safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[string]Notifier
	bcast   *Broadcaster
	log     *zap.SugaredLogger
}

// New builds an empty hub around the given chat broadcaster.
func New(bcast *Broadcaster, log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[string]Notifier),
		bcast:   bcast,
		log:     log,
	}
}

// Register binds username's push channel.
func (h *Hub) Register(username string, n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[username] = n
}

// Unregister removes username's push channel, if any.
func (h *Hub) Unregister(username string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, username)
}

// UnregisterClient removes username's registration only if it still points at
// n. A stale connection tearing down after the user has resubscribed must not
// drop the fresh registration.
func (h *Hub) UnregisterClient(username string, n Notifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[username] == n {
		delete(h.clients, username)
	}
}

// Registered reports whether username currently has a push channel.
func (h *Hub) Registered(username string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[username]
	return ok
}

// NotifyPresence pushes the user's new status to every registered channel.
// Channels that fail are removed after the broadcast pass completes, never
// mid-iteration.
func (h *Hub) NotifyPresence(username string, status models.UserStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var dead []string
	for name, client := range h.clients {
		if err := client.NotifyUserStatus(username, status); err != nil {
			h.log.Warnw("presence push failed", "to", name, "err", err)
			dead = append(dead, name)
		}
	}
	for _, name := range dead {
		delete(h.clients, name)
	}
}

// NotifyProjectAdded tells username it has been added to project. Offline
// users are not notified; they discover membership on their next
// list_projects.
func (h *Hub) NotifyProjectAdded(username, project, chatAddress string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[username]
	if !ok {
		return
	}
	if err := client.NotifyProjectAdded(project, chatAddress); err != nil {
		h.log.Warnw("project push failed", "to", username, "err", err)
		delete(h.clients, username)
	}
}

// NotifyServerShutdown pushes the shutdown signal to all registered channels,
// best-effort.
func (h *Hub) NotifyServerShutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, client := range h.clients {
		if err := client.NotifyShutdown(); err != nil {
			h.log.Warnw("shutdown push failed", "to", name, "err", err)
		}
	}
}

// TerminateChat asks each online member to leave the project's multicast
// group, used after the project has been canceled.
func (h *Hub) TerminateChat(project string, members []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var dead []string
	for _, member := range members {
		client, ok := h.clients[member]
		if !ok {
			continue
		}
		if err := client.NotifyLeaveGroup(project); err != nil {
			h.log.Warnw("leave-group push failed", "to", member, "err", err)
			dead = append(dead, member)
		}
	}
	for _, name := range dead {
		delete(h.clients, name)
	}
}

// BroadcastChat sends one datagram to the project's multicast group.
func (h *Hub) BroadcastChat(addr string, port int, msg protocol.ChatMessage) error {
	return h.bcast.Send(addr, port, msg)
}

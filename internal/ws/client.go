// Package ws carries server-push notifications to a connected client over a
// websocket opened after login. It is the replacement for a remote-callback
// object reference: the server can push presence, project and shutdown events
// to any logged-in client without polling.
package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/worthlabs/worth/internal/models"
)

// Event types pushed to clients.
const (
	EventUserStatus     = "user_status"
	EventProjectAdded   = "project_added"
	EventLeaveGroup     = "leave_group"
	EventServerShutdown = "server_shutdown"
)

// Event is one push notification.
type Event struct {
	Type        string `json:"type"`
	Username    string `json:"username,omitempty"`
	Status      string `json:"status,omitempty"`
	Project     string `json:"project,omitempty"`
	ChatAddress string `json:"chatAddress,omitempty"`
}

// ErrClientGone reports a notification dropped because the client's send
// queue is full or its connection is closed; the hub reacts by dropping the
// registration.
var ErrClientGone = errors.New("ws: client gone")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Client is the per-user notification channel. Writes go through a buffered
// send queue drained by the write pump, so hub broadcasts never block on a
// slow client.
type Client struct {
	username string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	log      *zap.SugaredLogger

	// OnClose, if set before Run, is invoked exactly once when the connection
	// dies. The caller uses it to drop this client's hub registration.
	OnClose func()
}

// NewClient wraps an upgraded connection.
func NewClient(username string, conn *websocket.Conn, log *zap.SugaredLogger) *Client {
	return &Client{
		username: username,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Run starts the read and write pumps and blocks until the connection is
// gone.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) push(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientGone
	default:
		return ErrClientGone
	}
}

// NotifyUserStatus pushes a presence change.
func (c *Client) NotifyUserStatus(username string, status models.UserStatus) error {
	return c.push(Event{Type: EventUserStatus, Username: username, Status: string(status)})
}

// NotifyProjectAdded tells the client it has been added to a project.
func (c *Client) NotifyProjectAdded(project, chatAddress string) error {
	return c.push(Event{Type: EventProjectAdded, Project: project, ChatAddress: chatAddress})
}

// NotifyLeaveGroup tells the client to leave a canceled project's multicast
// group.
func (c *Client) NotifyLeaveGroup(project string) error {
	return c.push(Event{Type: EventLeaveGroup, Project: project})
}

// NotifyShutdown signals that the server is going away.
func (c *Client) NotifyShutdown() error {
	return c.push(Event{Type: EventServerShutdown})
}

// readPump discards inbound frames (the channel is push-only) and tears the
// client down when the peer goes away.
func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) close() {
	select {
	case <-c.done:
		return
	default:
	}
	close(c.done)
	_ = c.conn.Close()
	if c.OnClose != nil {
		c.OnClose()
	}
	c.log.Debugw("notification channel closed", "user", c.username)
}

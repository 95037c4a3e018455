package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/worthlabs/worth/internal/protocol"
)

// ErrMessageTooLarge reports a chat payload at or above the configured
// datagram limit. Exceeding it is a caller-side error; messages are never
// silently truncated.
var ErrMessageTooLarge = errors.New("hub: chat message exceeds datagram limit")

// Broadcaster sends chat datagrams to project multicast groups.
type Broadcaster struct {
	maxDatagram int
	log         *zap.SugaredLogger
}

// NewBroadcaster returns a broadcaster enforcing the given datagram size
// limit in bytes.
func NewBroadcaster(maxDatagram int, log *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{maxDatagram: maxDatagram, log: log}
}

// Send serializes msg and writes it as a single UDP datagram to addr:port.
func (b *Broadcaster) Send(addr string, port int, msg protocol.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(payload) >= b.maxDatagram {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(payload), b.maxDatagram)
	}
	conn, err := net.Dial("udp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("hub: dial chat group: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("hub: send chat datagram: %w", err)
	}
	return nil
}

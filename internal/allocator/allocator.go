// Package allocator issues and reclaims the multicast addresses and UDP ports
// backing per-project chat channels.
package allocator

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

var (
	// ErrNoMoreAddresses reports multicast address exhaustion.
	ErrNoMoreAddresses = errors.New("allocator: no more multicast addresses")

	// ErrNoMorePorts reports UDP port exhaustion.
	ErrNoMorePorts = errors.New("allocator: no more ports")
)

// Address range 239.0.0.0 .. 239.255.255.255 (upper bound never issued) and
// port range 30000 .. 65535 (upper bound never issued).
const (
	addrBase = uint32(239) << 24
	addrMax  = addrBase | 0x00ffffff
	portBase = 30000
	portMax  = 65535
)

// Allocator hands out multicast addresses and UDP ports for project chat
// channels. Reclaimed values are reused FIFO before the cursors advance.
// Construct one per process and inject it; state is never persisted.
type Allocator struct {
	mu        sync.Mutex
	nextAddr  uint32
	freeAddrs []string
	nextPort  int
	freePorts []int
}

// New returns an allocator with both cursors at the start of their ranges.
func New() *Allocator {
	return &Allocator{nextAddr: addrBase, nextPort: portBase}
}

// AcquireAddress returns the next free multicast address.
func (a *Allocator) AcquireAddress() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.freeAddrs) > 0 {
		addr := a.freeAddrs[0]
		a.freeAddrs = a.freeAddrs[1:]
		return addr, nil
	}
	if a.nextAddr >= addrMax {
		return "", ErrNoMoreAddresses
	}
	addr := formatAddr(a.nextAddr)
	a.nextAddr++
	return addr, nil
}

// ReleaseAddress returns addr to the free list. A value outside the multicast
// range is dropped silently: it indicates a programming mistake upstream, not
// a user-facing condition.
func (a *Allocator) ReleaseAddress(addr string) {
	ip := net.ParseIP(addr)
	if ip == nil || !ip.IsMulticast() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeAddrs = append(a.freeAddrs, addr)
}

// AcquirePort returns the next free UDP port.
func (a *Allocator) AcquirePort() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.freePorts) > 0 {
		port := a.freePorts[0]
		a.freePorts = a.freePorts[1:]
		return port, nil
	}
	if a.nextPort >= portMax {
		return 0, ErrNoMorePorts
	}
	port := a.nextPort
	a.nextPort++
	return port, nil
}

// ReleasePort returns port to the free list; out-of-range values are dropped
// silently.
func (a *Allocator) ReleasePort(port int) {
	if port < portBase || port >= portMax {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freePorts = append(a.freePorts, port)
}

func formatAddr(v uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

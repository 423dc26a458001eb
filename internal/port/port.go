package port

import (
	"fmt"
	"net"
	"sync"

	"github.com/firefly-engineering/firefly-forage/packages/forage-lab/internal/errors"
)

// ephemeralAttempts bounds how often an OS-assigned port that is already
// reserved is discarded.
const ephemeralAttempts = 16

// Allocator hands out free TCP ports. Ports it returned stay reserved until
// released, so two servers starting together never get the same port.
type Allocator struct {
	from int
	to   int

	mu       sync.Mutex
	reserved map[int]bool

	// Available reports whether a port can be bound. Replaceable in tests.
	Available func(port int) bool

	// Ephemeral asks the OS for a free port. Replaceable in tests.
	Ephemeral func() (int, error)
}

// NewAllocator returns an allocator for the inclusive range from-to. A
// zero range lets the OS choose.
func NewAllocator(from, to int) *Allocator {
	return &Allocator{
		from:      from,
		to:        to,
		reserved:  make(map[int]bool),
		Available: IsAvailable,
		Ephemeral: ephemeralPort,
	}
}

// Allocate reserves and returns a free port. First fit is used within a
// configured range.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.from == 0 && a.to == 0 {
		for i := 0; i < ephemeralAttempts; i++ {
			p, err := a.Ephemeral()
			if err != nil {
				return 0, errors.PortAllocationFailed(err)
			}
			if !a.reserved[p] {
				a.reserved[p] = true
				return p, nil
			}
		}
		return 0, errors.PortAllocationFailed(fmt.Errorf("no unreserved ephemeral port after %d attempts", ephemeralAttempts))
	}

	for p := a.from; p <= a.to; p++ {
		if a.reserved[p] || !a.Available(p) {
			continue
		}
		a.reserved[p] = true
		return p, nil
	}
	return 0, errors.PortAllocationFailed(fmt.Errorf("no available ports in range %d-%d", a.from, a.to))
}

// Reserve marks a caller-chosen port as in use.
func (a *Allocator) Reserve(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserved[port] = true
}

// Release returns a port to the allocator.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
}

// Reserved reports whether port is currently handed out.
func (a *Allocator) Reserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[port]
}

// IsAvailable reports whether port can be bound on all interfaces.
func IsAvailable(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// IsPortInUse is the inverse of IsAvailable.
func IsPortInUse(port int) bool {
	return !IsAvailable(port)
}

func ephemeralPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

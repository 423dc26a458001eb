// Package port allocates TCP ports for notebook servers.
//
// Ports come from the range configured in port_range, or from the OS when
// the range is 0-0:
//
//	alloc := port.NewAllocator(settings.PortRange.From, settings.PortRange.To)
//	p, err := alloc.Allocate()
//	defer alloc.Release(p)
//
// # Allocation Strategy
//
// Within a range, ports are allocated first-fit: the lowest port that is
// neither reserved by this allocator nor bound by another process is
// chosen. Reservations last until Release, so servers that are still
// starting keep their port.
package port

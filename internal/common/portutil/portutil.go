// Package portutil hands out host ports for sandboxes. Asking the kernel
// for port 0 and reading the assignment back avoids racing other processes
// for a free port; keeping the listener open until the consumer is ready
// closes the window between allocation and use.
package portutil

import (
	"fmt"
	"net"
)

// Reservation is an allocated port whose backing listener is still open.
// Release it immediately before handing the port to its real consumer.
type Reservation struct {
	Port     int
	listener net.Listener
}

// Reserve binds to port 0 and reads back the kernel-assigned port. The
// listener stays open until Release.
func Reserve() (*Reservation, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to reserve port: %w", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	return &Reservation{Port: addr.Port, listener: listener}, nil
}

// Release frees the port for the consumer. Safe to call more than once.
func (r *Reservation) Release() {
	if r.listener != nil {
		_ = r.listener.Close()
		r.listener = nil
	}
}

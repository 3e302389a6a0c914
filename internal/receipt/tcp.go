package receipt

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPSink sends rendered receipts to a network line printer. Each print is
// its own short-lived connection; line printers drop idle sockets anyway.
type TCPSink struct {
	Addr    string
	Timeout time.Duration
}

func NewTCPSink(addr string) *TCPSink {
	return &TCPSink{Addr: addr, Timeout: 5 * time.Second}
}

func (s *TCPSink) Print(ctx context.Context, p Payload) error {
	d := net.Dialer{Timeout: s.Timeout}
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("dial printer %s: %w", s.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(s.Timeout))
	}
	if _, err := conn.Write(Render(p)); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return nil
}

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// SocketTransport is a Transport backed by a net.Conn (TCP or Unix
// socket), used when the remote is a software emulator or a network-
// attached bridge. It is grounded on the length-prefixed framing and
// deadline discipline of a typical Unix-socket IPC server.
type SocketTransport struct {
	conn   net.Conn
	frames chan dzrp.Frame
	errs   chan error

	closeOnce sync.Once
}

// DialSocket connects to network "tcp"/"unix" at addr within timeout and
// starts the background frame reader.
func DialSocket(ctx context.Context, network, addr string) (*SocketTransport, error) {
	var d net.Dialer
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	} else {
		d.Timeout = DefaultConnectTimeout
	}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dzrp transport: dial %s %s: %w", network, addr, err)
	}
	return newSocketTransport(conn), nil
}

func newSocketTransport(conn net.Conn) *SocketTransport {
	t := &SocketTransport{
		conn:   conn,
		frames: make(chan dzrp.Frame, 16),
		errs:   make(chan error, 1),
	}
	go t.readLoop()
	return t
}

func (t *SocketTransport) readLoop() {
	fr := dzrp.NewFrameReader(t.conn)
	defer close(t.frames)
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			select {
			case t.errs <- err:
			default:
			}
			return
		}
		t.frames <- f
	}
}

func (t *SocketTransport) Send(ctx context.Context, f dzrp.Frame) error {
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetWriteDeadline(zeroTime)
	}
	_, err := t.conn.Write(f.Encode())
	return err
}

func (t *SocketTransport) Frames() <-chan dzrp.Frame { return t.frames }
func (t *SocketTransport) Errors() <-chan error      { return t.errs }

func (t *SocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

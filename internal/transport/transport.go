// Package transport provides the byte-oriented duplex channels the DZRP
// dispatcher sends frames over: a TCP/Unix socket bridge to an emulator,
// or a serial bridge to ZX Next hardware.
package transport

import (
	"context"
	"time"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// Default timeouts for connect and round-trip response waits.
const (
	DefaultConnectTimeout  = 1 * time.Second
	DefaultResponseTimeout = 3 * time.Second
)

// Transport is the duplex channel to the remote. Send frames outbound;
// Frames delivers complete inbound frames (responses and notifications)
// in arrival order. Close is idempotent.
type Transport interface {
	Send(ctx context.Context, f dzrp.Frame) error
	Frames() <-chan dzrp.Frame
	Errors() <-chan error
	Close() error
}

package transport

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// SerialConfig describes how to open the hardware ZX Next bridge.
type SerialConfig struct {
	Device   string
	BaudRate int
}

// SerialTransport is a Transport backed by a serial port, used for the
// hardware ZX Next bridge. The framing and read-loop discipline mirror
// SocketTransport; only the underlying io.ReadWriteCloser differs.
type SerialTransport struct {
	port   serial.Port
	frames chan dzrp.Frame
	errs   chan error

	closeOnce sync.Once
}

// OpenSerial opens cfg.Device at cfg.BaudRate (8-N-1, no flow control,
// matching the ZX Next USB-serial bridge) and starts the frame reader.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("dzrp transport: open serial %s: %w", cfg.Device, err)
	}
	t := &SerialTransport{
		port:   port,
		frames: make(chan dzrp.Frame, 16),
		errs:   make(chan error, 1),
	}
	go t.readLoop()
	return t, nil
}

func (t *SerialTransport) readLoop() {
	fr := dzrp.NewFrameReader(t.port)
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

func (t *SerialTransport) Send(ctx context.Context, f dzrp.Frame) error {
	_, err := t.port.Write(f.Encode())
	return err
}

func (t *SerialTransport) Frames() <-chan dzrp.Frame { return t.frames }
func (t *SerialTransport) Errors() <-chan error      { return t.errs }

func (t *SerialTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.port.Close()
	})
	return err
}

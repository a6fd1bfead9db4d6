package dzrp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/z80dbg/dzrp-mediator/internal/dzrperr"
)

// Sender is the subset of transport.Transport the dispatcher depends on.
// Declaring it here (rather than importing package transport) keeps dzrp
// free of a dependency on the transport implementations; any
// transport.Transport value satisfies this structurally.
type Sender interface {
	Send(ctx context.Context, f Frame) error
	Frames() <-chan Frame
	Errors() <-chan error
	Close() error
}

// pendingRequest is the dispatcher's record of an outstanding request
// awaiting its matched response.
type pendingRequest struct {
	op     Opcode
	result chan frameOrErr
}

type frameOrErr struct {
	frame Frame
	err   error
}

// Dispatcher serializes outstanding requests to a single Sender and
// matches responses back to callers. It enforces the protocol's
// single-in-flight-request rule, with the one documented exception: once
// a CONTINUE has been sent, other commands may still be issued while
// waiting for the matching pause notification, but a second CONTINUE may
// not be issued until the first's pause has arrived and been resolved.
type Dispatcher struct {
	sender          Sender
	responseTimeout time.Duration
	log             *slog.Logger

	mu          sync.Mutex
	pending     *pendingRequest // nil unless a non-CONTINUE request is outstanding
	continueBsy bool            // true iff a CONTINUE is outstanding awaiting its pause

	pauseHandler func(PauseEvent)

	done chan struct{}
}

// NewDispatcher wires a Dispatcher to sender and starts its receive loop.
// pauseHandler is invoked (on the dispatcher's goroutine) for every
// NTF_PAUSE notification; it must not block.
func NewDispatcher(sender Sender, responseTimeout time.Duration, log *slog.Logger, pauseHandler func(PauseEvent)) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		sender:          sender,
		responseTimeout: responseTimeout,
		log:             log,
		pauseHandler:    pauseHandler,
		done:            make(chan struct{}),
	}
	go d.recvLoop()
	return d
}

func (d *Dispatcher) recvLoop() {
	defer close(d.done)
	for {
		select {
		case f, ok := <-d.sender.Frames():
			if !ok {
				d.failPending(dzrperr.New(dzrperr.KindTransport, "dzrp.recvLoop", fmt.Errorf("transport closed")))
				return
			}
			d.handleFrame(f)
		case err, ok := <-d.sender.Errors():
			if !ok {
				continue
			}
			d.failPending(dzrperr.New(dzrperr.KindTransport, "dzrp.recvLoop", err))
			return
		}
	}
}

func (d *Dispatcher) handleFrame(f Frame) {
	if IsResponse(Opcode(f.Opcode)) {
		d.mu.Lock()
		pend := d.pending
		d.mu.Unlock()
		if pend == nil {
			d.log.Warn("dzrp: unmatched response frame", "opcode", Opcode(f.Opcode))
			return
		}
		if RequestOpcode(Opcode(f.Opcode)) != pend.op {
			d.log.Warn("dzrp: response opcode mismatch", "got", Opcode(f.Opcode), "want", pend.op)
		}
		pend.result <- frameOrErr{frame: f}
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
		return
	}

	if NotificationOpcode(f.Opcode) == NtfPause {
		evt, err := DecodePauseNotification(f.Payload)
		if err != nil {
			d.log.Error("dzrp: malformed pause notification", "err", err)
			return
		}
		d.mu.Lock()
		d.continueBsy = false
		d.mu.Unlock()
		if d.pauseHandler != nil {
			d.pauseHandler(evt)
		}
		return
	}

	d.log.Warn("dzrp: unexpected frame", "opcode", f.Opcode, "channel", f.Channel)
}

func (d *Dispatcher) failPending(err error) {
	d.mu.Lock()
	pend := d.pending
	d.pending = nil
	d.mu.Unlock()
	if pend != nil {
		pend.result <- frameOrErr{err: err}
	}
}

// Do sends req and blocks for its matched response payload. It is an
// error to call Do for OpContinue while a CONTINUE is already in flight.
func (d *Dispatcher) Do(ctx context.Context, req Frame) ([]byte, error) {
	op := Opcode(req.Opcode)

	d.mu.Lock()
	if d.pending != nil {
		d.mu.Unlock()
		return nil, dzrperr.New(dzrperr.KindProtocol, "dzrp.Do", fmt.Errorf("request already in flight"))
	}
	if op == OpContinue && d.continueBsy {
		d.mu.Unlock()
		return nil, dzrperr.New(dzrperr.KindProtocol, "dzrp.Do", fmt.Errorf("CONTINUE already in flight"))
	}
	pend := &pendingRequest{op: op, result: make(chan frameOrErr, 1)}
	d.pending = pend
	if op == OpContinue {
		d.continueBsy = true
	}
	d.mu.Unlock()

	if err := d.sender.Send(ctx, req); err != nil {
		d.mu.Lock()
		d.pending = nil
		if op == OpContinue {
			d.continueBsy = false
		}
		d.mu.Unlock()
		return nil, dzrperr.New(dzrperr.KindTransport, "dzrp.Do", err)
	}

	timeout := d.responseTimeout
	if op == OpContinue {
		// The response to CONTINUE is itself immediate (an ack); the
		// pause that terminates the resume is delivered later as a
		// notification and is not awaited here.
	}

	select {
	case res := <-pend.result:
		if res.err != nil {
			return nil, res.err
		}
		return res.frame.Payload, nil
	case <-time.After(timeout):
		d.mu.Lock()
		if d.pending == pend {
			d.pending = nil
		}
		d.mu.Unlock()
		kind := dzrperr.KindTransport
		return nil, dzrperr.New(kind, "dzrp.Do", fmt.Errorf("timeout waiting for %s response", op))
	case <-ctx.Done():
		d.mu.Lock()
		if d.pending == pend {
			d.pending = nil
		}
		d.mu.Unlock()
		return nil, ctx.Err()
	case <-d.done:
		return nil, dzrperr.New(dzrperr.KindTransport, "dzrp.Do", fmt.Errorf("dispatcher shut down"))
	}
}

// ResumeInFlight reports whether a CONTINUE has been issued and its
// matching pause has not yet arrived. Mirrors the `continueResolve
// non-null iff a resume is in flight` invariant.
func (d *Dispatcher) ResumeInFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.continueBsy
}

// FailResume marks the in-flight resume as terminated without a matching
// pause frame, so a new CONTINUE can be issued. The stepping controller's
// watchdog timeout does not call it; after that timeout the resume stays
// marked in flight until a pause notification arrives.
func (d *Dispatcher) FailResume() {
	d.mu.Lock()
	d.continueBsy = false
	d.mu.Unlock()
}

// Close releases the underlying transport and waits for the receive loop
// to exit.
func (d *Dispatcher) Close() error {
	err := d.sender.Close()
	<-d.done
	return err
}

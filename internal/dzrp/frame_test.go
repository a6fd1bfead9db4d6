package dzrp

import (
	"bytes"
	"testing"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{Channel: ChannelUARTData, Opcode: byte(OpGetRegisters), Payload: []byte{1, 2, 3}}
	encoded := f.Encode()

	fr := NewFrameReader(bytes.NewReader(encoded))
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Channel != f.Channel || got.Opcode != f.Opcode || !bytes.Equal(got.Payload, f.Payload) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, f)
	}
}

func TestFrameReaderPartialStream(t *testing.T) {
	f := Frame{Channel: ChannelUARTData, Opcode: byte(OpPause), Payload: nil}
	encoded := f.Encode()

	// Deliver the frame one byte at a time through a pipe-like reader to
	// exercise the "short reads must not produce a short frame" property.
	pr, pw := newChunkPipe(encoded)
	fr := NewFrameReader(pr)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, b := range encoded {
			pw(b)
		}
	}()
	got, err := fr.ReadFrame()
	<-done
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Opcode != f.Opcode {
		t.Errorf("got opcode %v, want %v", got.Opcode, f.Opcode)
	}
}

// newChunkPipe returns an io.Reader fed one byte at a time by the writer
// function returned alongside it.
func newChunkPipe(_ []byte) (*chunkReader, func(byte)) {
	cr := &chunkReader{ch: make(chan byte, 4096)}
	return cr, func(b byte) { cr.ch <- b }
}

type chunkReader struct{ ch chan byte }

func (c *chunkReader) Read(p []byte) (int, error) {
	b := <-c.ch
	p[0] = b
	return 1, nil
}

func TestResponseOpcodeHelpers(t *testing.T) {
	if !IsResponse(ResponseOpcode(OpInit)) {
		t.Fatal("ResponseOpcode should set the response bit")
	}
	if RequestOpcode(ResponseOpcode(OpContinue)) != OpContinue {
		t.Fatal("RequestOpcode should invert ResponseOpcode")
	}
	if IsResponse(OpInit) {
		t.Fatal("a bare request opcode must not read as a response")
	}
}

func TestDecodePauseNotification(t *testing.T) {
	payload := []byte{byte(ReasonBreakpointHit), 0x00, 0x80, 0x05, 0x00, 'h', 'i', 'n', 't', '!'}
	evt, err := DecodePauseNotification(payload)
	if err != nil {
		t.Fatalf("DecodePauseNotification: %v", err)
	}
	if evt.Reason != ReasonBreakpointHit || evt.Address != 0x8000 || evt.ReasonSuffix != "hint!" {
		t.Errorf("got %+v", evt)
	}
}

func TestRegIndexWidth(t *testing.T) {
	for _, r := range []RegIndex{RegI, RegR, RegIM} {
		if r.Width() != 1 {
			t.Errorf("%v should be 1 byte wide", r)
		}
	}
	for _, r := range []RegIndex{RegPC, RegSP, RegAF, RegHL} {
		if r.Width() != 2 {
			t.Errorf("%v should be 2 bytes wide", r)
		}
	}
}

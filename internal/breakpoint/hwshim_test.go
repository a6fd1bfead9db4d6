package breakpoint

import (
	"context"
	"testing"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// fakeRequester plays back scripted READ_MEM/WRITE_MEM/ADD_BP/REMOVE_BP
// responses and records every request it receives.
type fakeRequester struct {
	responses [][]byte
	i         int
	sent      []dzrp.Frame
}

func (f *fakeRequester) Do(ctx context.Context, req dzrp.Frame) ([]byte, error) {
	f.sent = append(f.sent, req)
	if f.i >= len(f.responses) {
		return nil, nil
	}
	r := f.responses[f.i]
	f.i++
	return r, nil
}

func TestHWInstallerInstallRemoveRestoresOriginalByte(t *testing.T) {
	req := &fakeRequester{responses: [][]byte{{0x3E}, nil}} // original byte 0x3E (LD A,n), then WRITE_MEM ack
	h := NewHWInstaller(req, nil)

	id, err := h.Install(context.Background(), 0x8000)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(req.sent) != 2 {
		t.Fatalf("expected a READ_MEM then a WRITE_MEM, got %d requests", len(req.sent))
	}
	if req.sent[1].Payload[2] != trapOpcode {
		t.Fatalf("install should write the trap opcode, got %#02x", req.sent[1].Payload[2])
	}

	if err := h.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	restoreReq := req.sent[2]
	if restoreReq.Payload[2] != 0x3E {
		t.Fatalf("remove should restore the original byte, got %#02x", restoreReq.Payload[2])
	}
}

func TestHWInstallerRemoveUnknownID(t *testing.T) {
	h := NewHWInstaller(&fakeRequester{}, nil)
	if err := h.Remove(context.Background(), 999); err == nil {
		t.Fatal("expected an error removing an id that was never installed")
	}
}

func TestIsTrapOpcode(t *testing.T) {
	if !IsTrapOpcode(trapOpcode) {
		t.Fatal("IsTrapOpcode must recognize the installer's own trap byte")
	}
	if IsTrapOpcode(0x00) {
		t.Fatal("IsTrapOpcode must not match an unrelated opcode")
	}
}

func TestSoftInstallerInstallRemove(t *testing.T) {
	req := &fakeRequester{responses: [][]byte{{0x05, 0x00}, nil}}
	s := NewSoftInstaller(req)

	id, err := s.Install(context.Background(), 0x8000)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if id != 5 {
		t.Fatalf("got id %d, want 5", id)
	}
	if err := s.Remove(context.Background(), id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(req.sent) != 2 {
		t.Fatalf("expected exactly ADD_BP then REMOVE_BP, got %d requests", len(req.sent))
	}
}

package snapshot

import (
	"bytes"
	"context"
	"testing"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// test48KSP/test48KPC are the stack pointer and PC word build48KSNA
// plants in the fixture, so ParseSNA's recovery can be checked against
// a known value instead of a hand-injected one.
const (
	test48KSP = 0x8010
	test48KPC = 0x9ABC
)

func build48KSNA() []byte {
	header := make([]byte, 27)
	header[0] = 0x12       // I
	header[23] = byte(test48KSP & 0xFF)
	header[24] = byte(test48KSP >> 8)
	header[26] = 0x07 // Border
	buf := append(header, make([]byte, 48*1024)...)
	// Mark each page with a distinct filler byte so replay order can be
	// checked against the known 5/2/0 mapping.
	for i := 0; i < 16*1024; i++ {
		buf[27+i] = 0xAA
	}
	for i := 0; i < 16*1024; i++ {
		buf[27+16*1024+i] = 0xBB
	}
	for i := 0; i < 16*1024; i++ {
		buf[27+32*1024+i] = 0xCC
	}
	// Plant test48KPC at test48KSP, as if it had been pushed there by a
	// loader stub before the snapshot was taken.
	pageNum, offset, ok := map48KAddr(test48KSP)
	if !ok {
		panic("test fixture SP outside 48K RAM")
	}
	slot := map[int]int{5: 0, 2: 1, 0: 2}[pageNum]
	base := 27 + slot*16*1024 + int(offset)
	buf[base] = byte(test48KPC & 0xFF)
	buf[base+1] = byte(test48KPC >> 8)
	return buf
}

func TestParseSNA48K(t *testing.T) {
	data := build48KSNA()
	img, err := ParseSNA(data)
	if err != nil {
		t.Fatalf("ParseSNA: %v", err)
	}
	if img.I != 0x12 || img.Border != 0x07 {
		t.Errorf("header fields wrong: I=%#02x Border=%#02x", img.I, img.Border)
	}
	if len(img.Pages) != 3 {
		t.Fatalf("expected 3 pages for 48K, got %d", len(img.Pages))
	}
	if img.Pages[5][0] != 0xAA || img.Pages[2][0] != 0xBB || img.Pages[0][0] != 0xCC {
		t.Errorf("48K page mapping wrong: page5[0]=%#02x page2[0]=%#02x page0[0]=%#02x",
			img.Pages[5][0], img.Pages[2][0], img.Pages[0][0])
	}
	if img.PC != test48KPC {
		t.Errorf("PC not recovered from stack: got %#04x, want %#04x", img.PC, test48KPC)
	}
	if img.SP != test48KSP+2 {
		t.Errorf("SP not advanced past the popped PC word: got %#04x, want %#04x", img.SP, test48KSP+2)
	}
}

func TestParseSNATooShort(t *testing.T) {
	if _, err := ParseSNA(make([]byte, 10)); err == nil {
		t.Fatal("expected an error for a too-short .sna buffer")
	}
}

func TestParseSNAUnrecognizedLength(t *testing.T) {
	data := make([]byte, 27+1000)
	if _, err := ParseSNA(data); err == nil {
		t.Fatal("expected an error for a memory length matching neither 48K nor 128K layout")
	}
}

type recordingRequester struct {
	frames []dzrp.Frame
}

func (r *recordingRequester) Do(ctx context.Context, req dzrp.Frame) ([]byte, error) {
	r.frames = append(r.frames, req)
	return nil, nil
}

func TestReplaySNAWritesBankPairsAndRegistersEndingWithPC(t *testing.T) {
	img, err := ParseSNA(build48KSNA())
	if err != nil {
		t.Fatalf("ParseSNA: %v", err)
	}
	if img.PC != test48KPC {
		t.Fatalf("ParseSNA did not recover PC from the stack: got %#04x, want %#04x", img.PC, test48KPC)
	}

	req := &recordingRequester{}
	if err := ReplaySNA(context.Background(), img, req); err != nil {
		t.Fatalf("ReplaySNA: %v", err)
	}

	// 3 pages * 2 WRITE_BANK each + 15 SET_REGISTER = 21 frames.
	if len(req.frames) != 3*2+15 {
		t.Fatalf("got %d frames, want %d", len(req.frames), 3*2+15)
	}
	last := req.frames[len(req.frames)-1]
	if dzrp.Opcode(last.Opcode) != dzrp.OpSetRegister || last.Payload[0] != byte(dzrp.RegPC) {
		t.Fatalf("last SET_REGISTER must target PC, got %+v", last)
	}
	if !bytes.Equal(last.Payload[1:3], []byte{byte(test48KPC & 0xFF), byte(test48KPC >> 8)}) {
		t.Errorf("PC value wrong: %v", last.Payload[1:3])
	}
}

func TestReplaySNARejectsWrongSizedPage(t *testing.T) {
	img := &SNAImage{Pages: map[int][]byte{5: make([]byte, 100)}}
	if err := ReplaySNA(context.Background(), img, &recordingRequester{}); err == nil {
		t.Fatal("expected an error for a malformed page size")
	}
}

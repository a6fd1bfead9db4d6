package dzrp

import (
	"bytes"
	"testing"
)

func TestEncodeInitDecodeResult(t *testing.T) {
	f := EncodeInit()
	if f.Opcode != byte(OpInit) {
		t.Fatalf("wrong opcode: %v", f.Opcode)
	}

	payload := append([]byte{1, 2, 3}, []byte{0x01, 0x00, 0x00, 0x00}...)
	res, err := DecodeInitResult(payload)
	if err != nil {
		t.Fatalf("DecodeInitResult: %v", err)
	}
	if res.Version != [3]byte{1, 2, 3} || res.Capabilities != 1 {
		t.Errorf("got %+v", res)
	}
}

func TestDecodeInitResultTooShort(t *testing.T) {
	if _, err := DecodeInitResult([]byte{1, 2}); err == nil {
		t.Fatal("expected error on short INIT payload")
	}
}

func TestRegistersRoundTrip(t *testing.T) {
	var want RegistersResult
	for i := range want.Words {
		want.Words[i] = uint16(i * 111)
	}
	payload := make([]byte, RegisterCount*2)
	for i, w := range want.Words {
		payload[i*2] = byte(w)
		payload[i*2+1] = byte(w >> 8)
	}
	got, err := DecodeRegistersResult(payload)
	if err != nil {
		t.Fatalf("DecodeRegistersResult: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestEncodeSetRegisterWidth(t *testing.T) {
	f8 := EncodeSetRegister(RegI, 0x1234)
	if len(f8.Payload) != 2 || f8.Payload[1] != 0x34 {
		t.Errorf("8-bit register payload wrong: %v", f8.Payload)
	}
	f16 := EncodeSetRegister(RegHL, 0x1234)
	if len(f16.Payload) != 3 || f16.Payload[1] != 0x34 || f16.Payload[2] != 0x12 {
		t.Errorf("16-bit register payload wrong: %v", f16.Payload)
	}
}

func TestEncodeContinueFlags(t *testing.T) {
	f := EncodeContinue(nil, nil)
	if f.Payload[0] != 0 || len(f.Payload) != 1 {
		t.Errorf("bare continue should carry flags=0 only: %v", f.Payload)
	}

	bp1 := uint16(0x8000)
	f1 := EncodeContinue(&bp1, nil)
	if f1.Payload[0] != 1 || len(f1.Payload) != 3 {
		t.Errorf("single bp continue wrong: %v", f1.Payload)
	}

	bp2 := uint16(0x9000)
	f2 := EncodeContinue(&bp1, &bp2)
	if f2.Payload[0] != 3 || len(f2.Payload) != 5 {
		t.Errorf("dual bp continue wrong: %v", f2.Payload)
	}
}

func TestAddBreakpointRoundTrip(t *testing.T) {
	f := EncodeAddBreakpoint(0xC000)
	if !bytes.Equal(f.Payload, []byte{0x00, 0xC0}) {
		t.Errorf("ADD_BP payload wrong: %v", f.Payload)
	}
	res, err := DecodeAddBreakpointResult([]byte{0x2A, 0x00})
	if err != nil || res.ID != 0x2A {
		t.Errorf("got %+v, err=%v", res, err)
	}
}

func TestReadMemWriteMemPayloads(t *testing.T) {
	rm := EncodeReadMem(0x4000, 0x0100)
	if !bytes.Equal(rm.Payload, []byte{0x00, 0x40, 0x00, 0x01}) {
		t.Errorf("READ_MEM payload wrong: %v", rm.Payload)
	}
	wm := EncodeWriteMem(0x4000, []byte{0xAA, 0xBB})
	if !bytes.Equal(wm.Payload, []byte{0x00, 0x40, 0xAA, 0xBB}) {
		t.Errorf("WRITE_MEM payload wrong: %v", wm.Payload)
	}
}

func TestSlotsResultTooShort(t *testing.T) {
	if _, err := DecodeSlotsResult([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short GET_SLOTS payload")
	}
}

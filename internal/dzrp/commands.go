package dzrp

import (
	"encoding/binary"
	"fmt"
)

// request builds the standard request frame for an opcode and payload.
func request(op Opcode, payload []byte) Frame {
	return Frame{Channel: ChannelUARTData, Opcode: byte(op), Payload: payload}
}

// EncodeInit builds the INIT request, exchanging protocol version.
func EncodeInit() Frame {
	return request(OpInit, []byte{ProtocolVersion[0], ProtocolVersion[1], ProtocolVersion[2]})
}

// InitResult is the decoded INIT response: remote's protocol version and
// a bitset of capability flags (remote-defined, passed through opaquely).
type InitResult struct {
	Version      [3]byte
	Capabilities uint32
}

func DecodeInitResult(payload []byte) (InitResult, error) {
	if len(payload) < 7 {
		return InitResult{}, fmt.Errorf("dzrp: INIT response too short")
	}
	return InitResult{
		Version:      [3]byte{payload[0], payload[1], payload[2]},
		Capabilities: binary.LittleEndian.Uint32(payload[3:7]),
	}, nil
}

// EncodeGetRegisters builds the GET_REGISTERS request (no payload).
func EncodeGetRegisters() Frame { return request(OpGetRegisters, nil) }

// RegistersResult is the decoded register file in wire order (see RegIndex).
type RegistersResult struct {
	Words [RegisterCount]uint16
}

// DecodeRegistersResult decodes a GET_REGISTERS response: each canonical
// register as a little-endian u16 in RegIndex order (8-bit registers I, R,
// IM are carried zero-extended in their low byte).
func DecodeRegistersResult(payload []byte) (RegistersResult, error) {
	var out RegistersResult
	if len(payload) < RegisterCount*2 {
		return out, fmt.Errorf("dzrp: GET_REGISTERS response too short: %d bytes", len(payload))
	}
	for i := 0; i < RegisterCount; i++ {
		out.Words[i] = binary.LittleEndian.Uint16(payload[i*2:])
	}
	return out, nil
}

// EncodeSetRegister builds SET_REGISTER for the given canonical index. The
// value is truncated to the register's wire width (1 byte for I/R/IM).
func EncodeSetRegister(idx RegIndex, value uint16) Frame {
	var payload []byte
	if idx.Width() == 1 {
		payload = []byte{byte(idx), byte(value)}
	} else {
		payload = make([]byte, 3)
		payload[0] = byte(idx)
		binary.LittleEndian.PutUint16(payload[1:], value)
	}
	return request(OpSetRegister, payload)
}

// EncodeWriteBank builds WRITE_BANK for one 8KiB memory bank.
func EncodeWriteBank(bank byte, data []byte) Frame {
	payload := make([]byte, 1+len(data))
	payload[0] = bank
	copy(payload[1:], data)
	return request(OpWriteBank, payload)
}

// EncodeContinue builds CONTINUE with zero, one, or two ephemeral
// alternate-step breakpoint addresses. A nil bp argument omits that slot;
// the wire format never requires both.
func EncodeContinue(bp1, bp2 *uint16) Frame {
	flags := byte(0)
	if bp1 != nil {
		flags |= 1
	}
	if bp2 != nil {
		flags |= 2
	}
	payload := []byte{flags}
	if bp1 != nil {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], *bp1)
		payload = append(payload, b[:]...)
	}
	if bp2 != nil {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], *bp2)
		payload = append(payload, b[:]...)
	}
	return request(OpContinue, payload)
}

// EncodePause builds the PAUSE request (no payload).
func EncodePause() Frame { return request(OpPause, nil) }

// EncodeAddBreakpoint builds ADD_BP for a plain PC-address breakpoint. The
// core never sends a condition string over the wire — conditions are
// evaluated client-side.
func EncodeAddBreakpoint(addr uint16) Frame {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, addr)
	return request(OpAddBreakpoint, payload)
}

// AddBreakpointResult is the decoded ADD_BP response.
type AddBreakpointResult struct {
	ID uint16
}

func DecodeAddBreakpointResult(payload []byte) (AddBreakpointResult, error) {
	if len(payload) < 2 {
		return AddBreakpointResult{}, fmt.Errorf("dzrp: ADD_BP response too short")
	}
	return AddBreakpointResult{ID: binary.LittleEndian.Uint16(payload)}, nil
}

// EncodeRemoveBreakpoint builds REMOVE_BP for a remote breakpoint id.
func EncodeRemoveBreakpoint(id uint16) Frame {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, id)
	return request(OpRemoveBreakpoint, payload)
}

// WatchAccess is the wire encoding of watchpoint access kind.
type WatchAccess byte

const (
	WatchRead WatchAccess = 1 << iota
	WatchWrite
)

// EncodeAddWatchpoint builds ADD_WP.
func EncodeAddWatchpoint(addr, size uint16, access WatchAccess) Frame {
	payload := make([]byte, 5)
	binary.LittleEndian.PutUint16(payload[0:], addr)
	binary.LittleEndian.PutUint16(payload[2:], size)
	payload[4] = byte(access)
	return request(OpAddWatchpoint, payload)
}

// EncodeRemoveWatchpoint builds REMOVE_WP, keyed by (address, size).
func EncodeRemoveWatchpoint(addr, size uint16) Frame {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:], addr)
	binary.LittleEndian.PutUint16(payload[2:], size)
	return request(OpRemoveWatchpoint, payload)
}

// EncodeReadMem builds READ_MEM for addr..addr+size.
func EncodeReadMem(addr, size uint16) Frame {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:], addr)
	binary.LittleEndian.PutUint16(payload[2:], size)
	return request(OpReadMem, payload)
}

// EncodeWriteMem builds WRITE_MEM for addr, data.
func EncodeWriteMem(addr uint16, data []byte) Frame {
	payload := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(payload, addr)
	copy(payload[2:], data)
	return request(OpWriteMem, payload)
}

// EncodeGetSlots builds GET_SLOTS (no payload).
func EncodeGetSlots() Frame { return request(OpGetSlots, nil) }

// SlotsResult is the decoded GET_SLOTS response: one bank number per slot.
type SlotsResult struct {
	Banks [8]byte
}

func DecodeSlotsResult(payload []byte) (SlotsResult, error) {
	var out SlotsResult
	if len(payload) < 8 {
		return out, fmt.Errorf("dzrp: GET_SLOTS response too short")
	}
	copy(out.Banks[:], payload[:8])
	return out, nil
}

// EncodeReadState builds READ_STATE (no payload): requests the remote's
// opaque save-state blob.
func EncodeReadState() Frame { return request(OpReadState, nil) }

// EncodeWriteState builds WRITE_STATE with an opaque blob previously
// obtained from READ_STATE.
func EncodeWriteState(blob []byte) Frame { return request(OpWriteState, blob) }

// Passthrough ZX-Next auxiliary commands: semantics are owned entirely by
// the remote; the core only frames and relays these.

func EncodeGetTBBlueReg(reg byte) Frame { return request(OpGetTBBlueReg, []byte{reg}) }
func EncodeGetSpritesPalette() Frame    { return request(OpGetSpritesPalette, nil) }
func EncodeGetSprites(first, count byte) Frame {
	return request(OpGetSprites, []byte{first, count})
}
func EncodeGetSpritePatterns(first, count byte) Frame {
	return request(OpGetSpritePatterns, []byte{first, count})
}
func EncodeGetSpriteClip() Frame          { return request(OpGetSpriteClip, nil) }
func EncodeSetBorder(color byte) Frame    { return request(OpSetBorder, []byte{color}) }

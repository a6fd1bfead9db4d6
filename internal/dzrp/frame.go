package dzrp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame is one length-prefixed unit on the wire: a channel tag followed by
// an opcode byte and an opcode-specific payload.
type Frame struct {
	Channel Channel
	Opcode  byte // Opcode for responses/requests, NotificationOpcode for notifications
	Payload []byte
}

// Encode serializes f as `u32 length | u8 channel | u8 opcode | payload`,
// little-endian.
func (f Frame) Encode() []byte {
	body := make([]byte, 2+len(f.Payload))
	body[0] = byte(f.Channel)
	body[1] = f.Opcode
	copy(body[2:], f.Payload)

	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}

// FrameReader reassembles complete frames from a byte stream that may
// deliver partial reads. A frame shorter than the 4-byte length prefix is
// held pending until the rest arrives.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadFrame blocks until one complete frame is available or the underlying
// reader errors (including io.EOF on disconnect).
func (fr *FrameReader) ReadFrame() (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n < 2 {
		return Frame{}, fmt.Errorf("dzrp: frame too short: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return Frame{}, err
	}
	return Frame{
		Channel: Channel(body[0]),
		Opcode:  body[1],
		Payload: body[2:],
	}, nil
}

// PauseEvent is the decoded payload of a NTF_PAUSE notification.
type PauseEvent struct {
	Reason      BreakReason
	Address     uint16
	ReasonSuffix string
}

// DecodePauseNotification decodes a pause notification payload: a 1-byte
// breakNumber, a little-endian u16 address, and a length-prefixed UTF-8
// suffix string supplied by the remote.
func DecodePauseNotification(payload []byte) (PauseEvent, error) {
	if len(payload) < 3 {
		return PauseEvent{}, fmt.Errorf("dzrp: pause notification too short")
	}
	reason := BreakReason(payload[0])
	addr := binary.LittleEndian.Uint16(payload[1:3])
	rest := payload[3:]
	suffix := ""
	if len(rest) >= 2 {
		slen := int(binary.LittleEndian.Uint16(rest[0:2]))
		if len(rest) >= 2+slen {
			suffix = string(rest[2 : 2+slen])
		}
	}
	return PauseEvent{Reason: reason, Address: addr, ReasonSuffix: suffix}, nil
}

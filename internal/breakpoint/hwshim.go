package breakpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// Installer places and lifts a single physical breakpoint on the remote.
// Two implementations exist: SoftInstaller, which simply forwards to the
// remote's own ADD_BREAKPOINT/REMOVE_BREAKPOINT opcodes, and HWInstaller,
// which emulates the same contract on targets whose remote has no native
// breakpoint support by patching memory directly.
type Installer interface {
	Install(ctx context.Context, address uint16) (id uint16, err error)
	Remove(ctx context.Context, id uint16) error
}

// Requester is the subset of dzrp.Dispatcher an Installer needs.
type Requester interface {
	Do(ctx context.Context, req dzrp.Frame) ([]byte, error)
}

// SoftInstaller delegates to the remote's native breakpoint opcodes. Used
// whenever the INIT capability bitmask reports hardware breakpoint
// support.
type SoftInstaller struct {
	req Requester
}

func NewSoftInstaller(req Requester) *SoftInstaller { return &SoftInstaller{req: req} }

func (s *SoftInstaller) Install(ctx context.Context, address uint16) (uint16, error) {
	payload, err := s.req.Do(ctx, dzrp.EncodeAddBreakpoint(address))
	if err != nil {
		return 0, err
	}
	res, err := dzrp.DecodeAddBreakpointResult(payload)
	if err != nil {
		return 0, fmt.Errorf("breakpoint: decode ADD_BREAKPOINT response: %w", err)
	}
	return res.ID, nil
}

func (s *SoftInstaller) Remove(ctx context.Context, id uint16) error {
	_, err := s.req.Do(ctx, dzrp.EncodeRemoveBreakpoint(id))
	return err
}

// remote breakpoint opcode used by classic Z80 in-circuit debuggers with
// no hardware breakpoint unit: RST 0x08 is a single-byte trap vectored to
// a monitor ROM handler. Any unused one-byte opcode would do; RST 0x08 is
// chosen because the Z80 remotes this mediator targets reserve it.
const trapOpcode = 0xCF

type installedTrap struct {
	address  uint16
	original byte
}

// HWInstaller emulates breakpoint install/remove on a remote with no
// native breakpoint opcodes by displacing the target instruction's first
// byte with trapOpcode and restoring it on Remove. This is the "software
// breakpoint via memory patch" shim implied by the capability bit
// described here; ids are synthesized locally since the remote never
// sees an ADD_BREAKPOINT request.
type HWInstaller struct {
	req Requester
	log *slog.Logger

	nextID uint16
	traps  map[uint16]installedTrap
}

func NewHWInstaller(req Requester, log *slog.Logger) *HWInstaller {
	if log == nil {
		log = slog.Default()
	}
	return &HWInstaller{req: req, log: log, nextID: 1, traps: make(map[uint16]installedTrap)}
}

func (h *HWInstaller) Install(ctx context.Context, address uint16) (uint16, error) {
	orig, err := h.req.Do(ctx, dzrp.EncodeReadMem(address, 1))
	if err != nil {
		return 0, fmt.Errorf("breakpoint: read original byte at 0x%04X: %w", address, err)
	}
	if len(orig) < 1 {
		return 0, fmt.Errorf("breakpoint: short READ_MEM response at 0x%04X", address)
	}
	if _, err := h.req.Do(ctx, dzrp.EncodeWriteMem(address, []byte{trapOpcode})); err != nil {
		return 0, fmt.Errorf("breakpoint: install trap at 0x%04X: %w", address, err)
	}
	id := h.nextID
	h.nextID++
	h.traps[id] = installedTrap{address: address, original: orig[0]}
	h.log.Debug("breakpoint: installed hw trap", "id", id, "address", address)
	return id, nil
}

func (h *HWInstaller) Remove(ctx context.Context, id uint16) error {
	trap, ok := h.traps[id]
	if !ok {
		return fmt.Errorf("breakpoint: unknown hw trap id %d", id)
	}
	if _, err := h.req.Do(ctx, dzrp.EncodeWriteMem(trap.address, []byte{trap.original})); err != nil {
		return fmt.Errorf("breakpoint: restore original byte at 0x%04X: %w", trap.address, err)
	}
	delete(h.traps, id)
	return nil
}

// TrapResolver lets the stepping controller recover the instruction byte
// an Installer has displaced with its own trap opcode, so a step never
// decodes the trap itself as the instruction at that address.
type TrapResolver interface {
	OriginalByteAt(address uint16) (byte, bool)
}

// OriginalByteAt returns the byte HWInstaller displaced at address, if a
// trap is currently installed there.
func (h *HWInstaller) OriginalByteAt(address uint16) (byte, bool) {
	for _, t := range h.traps {
		if t.address == address {
			return t.original, true
		}
	}
	return 0, false
}

// IsTrapOpcode reports whether b is the byte this installer patches in.
// The stepping controller uses it via TrapResolver to recognize a
// displaced instruction when single-stepping through it (the CPU must
// see the original opcode, not the trap, while stepping over an
// installed hw breakpoint).
func IsTrapOpcode(b byte) bool { return b == trapOpcode }

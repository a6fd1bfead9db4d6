// Package session is the mediator's consumer-facing façade: it
// wires transport, codec, dispatcher, register cache, breakpoint table,
// condition evaluator and stepping controller into the single object a
// debugger front-end talks to, and owns the collaborators the design
// notes call out as injected rather than reached into as globals: a
// register view, a label resolver, and a settings snapshot taken once at
// session start.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/z80dbg/dzrp-mediator/internal/breakpoint"
	"github.com/z80dbg/dzrp-mediator/internal/condition"
	"github.com/z80dbg/dzrp-mediator/internal/config"
	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
	"github.com/z80dbg/dzrp-mediator/internal/obslog"
	"github.com/z80dbg/dzrp-mediator/internal/registers"
	"github.com/z80dbg/dzrp-mediator/internal/snapshot"
	"github.com/z80dbg/dzrp-mediator/internal/stepper"
	"github.com/z80dbg/dzrp-mediator/internal/transport"
)

// LabelResolver maps an address to zero or more symbolic names. The
// session only stores it: the break-reason text built by the stepping
// controller does not consult it, so watchpoint reasons carry no labels.
type LabelResolver interface {
	Labels(address uint16) []string
}

type noLabels struct{}

func (noLabels) Labels(uint16) []string { return nil }

// capabilityHWBreakpoints is the INIT capability bit this mediator
// checks to decide whether the remote owns its own breakpoint store or
// needs the memory-patch shim.
const capabilityHWBreakpoints = 1 << 0

// Settings is the immutable configuration snapshot taken at session
// start, per the design note against reaching into global Settings
// mid-step.
type Settings struct {
	ResponseTimeout time.Duration
	StepOutWatchdog time.Duration
}

// Session is the core's single entry point for a debugger front-end.
type Session struct {
	log *slog.Logger

	transport  transport.Transport
	dispatcher *dzrp.Dispatcher
	regs       *registers.Cache
	bps        *breakpoint.Table
	eval       *condition.Evaluator
	stepCtl    *stepper.Controller
	installer  breakpoint.Installer
	labels     LabelResolver
	settings   Settings

	capabilities uint32

	backstepHistory [][]byte // most recent state blobs, oldest first
	backstepEnabled bool

	// installerIDs maps a breakpoint.Table id to the id the Installer
	// returned for it, since SoftInstaller/HWInstaller mint their own ids
	// independent of the table's.
	installerIDs map[uint16]uint16
}

// Open dials the configured transport, performs INIT, and wires every
// collaborator. The returned Session owns the transport and dispatcher;
// Close tears both down.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Session, error) {
	var t transport.Transport
	var err error
	switch cfg.TransportKind {
	case "serial":
		t, err = transport.OpenSerial(transport.SerialConfig{Device: cfg.SerialDevice, BaudRate: cfg.SerialBaud})
	default:
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		t, err = transport.DialSocket(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("session: open transport: %w", err)
	}

	s := &Session{
		log:          log,
		transport:    t,
		labels:       noLabels{},
		settings:     Settings{ResponseTimeout: cfg.ResponseTimeout, StepOutWatchdog: cfg.StepOutWatchdog},
		installerIDs: make(map[uint16]uint16),
	}

	var stepCtl *stepper.Controller
	pauseHandler := func(evt dzrp.PauseEvent) {
		if stepCtl != nil {
			stepCtl.OnPause(evt)
		}
	}
	s.dispatcher = dzrp.NewDispatcher(t, cfg.ResponseTimeout, log, pauseHandler)

	initPayload, err := s.dispatcher.Do(ctx, dzrp.EncodeInit())
	if err != nil {
		s.dispatcher.Close()
		return nil, fmt.Errorf("session: INIT: %w", err)
	}
	initRes, err := dzrp.DecodeInitResult(initPayload)
	if err != nil {
		s.dispatcher.Close()
		return nil, fmt.Errorf("session: decode INIT response: %w", err)
	}
	s.capabilities = initRes.Capabilities
	log.Info("session: connected", "remote_version", initRes.Version, "capabilities", initRes.Capabilities)

	s.regs = registers.NewCache(s.dispatcher)
	s.bps = breakpoint.NewTable(log)
	s.eval = condition.NewEvaluator(s.regs, s.dispatcher, log)

	if initRes.Capabilities&capabilityHWBreakpoints != 0 {
		s.installer = breakpoint.NewSoftInstaller(s.dispatcher)
	} else {
		s.installer = breakpoint.NewHWInstaller(s.dispatcher, log)
	}

	traps, _ := s.installer.(breakpoint.TrapResolver)
	stepCtl = stepper.NewController(s.dispatcher, s.regs, s.bps, s.eval, obslog.LogPointSink{Log: log}, cfg.StepOutWatchdog, traps)
	s.stepCtl = stepCtl

	if cfg.AutoLoadPath != "" {
		if err := s.LoadSnapshot(ctx, cfg.AutoLoadPath); err != nil {
			log.Warn("session: autoload failed", "path", cfg.AutoLoadPath, "err", err)
		}
	}

	return s, nil
}

func (s *Session) Close() error {
	s.regs.Invalidate()
	return s.dispatcher.Close()
}

// SetLabelResolver installs a symbol source; a nil resolver yields no
// labels.
func (s *Session) SetLabelResolver(r LabelResolver) {
	if r == nil {
		r = noLabels{}
	}
	s.labels = r
}

// --- Execution control -----------------------------------------------

func (s *Session) Continue(ctx context.Context) (string, error) {
	s.snapshotForBackstep(ctx)
	return s.stepCtl.Continue(ctx)
}

func (s *Session) StepOver(ctx context.Context) (stepper.Result, error) {
	s.snapshotForBackstep(ctx)
	return s.stepCtl.StepOver(ctx)
}

func (s *Session) StepInto(ctx context.Context) (stepper.Result, error) {
	s.snapshotForBackstep(ctx)
	return s.stepCtl.StepInto(ctx)
}

func (s *Session) StepOut(ctx context.Context) (string, error) {
	s.snapshotForBackstep(ctx)
	return s.stepCtl.StepOut(ctx)
}

func (s *Session) Pause(ctx context.Context) error {
	return s.stepCtl.RequestPause(ctx)
}

// RunUntil is a supplemented convenience built from the primitives the
// remote already exposes: it temporarily installs a one-shot user
// breakpoint at address, continues, then removes it, returning the break
// reason actually observed (which may be a different, pre-existing
// breakpoint hit first).
func (s *Session) RunUntil(ctx context.Context, address uint16) (string, error) {
	bp, err := s.SetBreakpoint(ctx, int(address), "", "")
	if err != nil {
		return "", err
	}
	defer s.RemoveBreakpoint(ctx, bp)
	return s.Continue(ctx)
}

// --- Breakpoints / watchpoints -----------------------------------------

func (s *Session) SetBreakpoint(ctx context.Context, address int, condition, logFmt string) (uint16, error) {
	kind := breakpoint.KindUser
	if logFmt != "" {
		kind = breakpoint.KindLog
	}
	bp, err := s.bps.Add(address, condition, logFmt, kind)
	if err != nil {
		s.log.Warn("session: setBreakpoint rejected", "address", address, "err", err)
		return 0, nil // Validation kind: sentinel 0, warning already emitted
	}
	installerID, err := s.installer.Install(ctx, bp.Address)
	if err != nil {
		s.bps.Remove(bp.ID)
		return 0, fmt.Errorf("session: install breakpoint: %w", err)
	}
	s.installerIDs[bp.ID] = installerID
	return bp.ID, nil
}

func (s *Session) SetAssert(ctx context.Context, address int, condition string) (uint16, error) {
	bp, err := s.bps.Add(address, condition, "", breakpoint.KindAssert)
	if err != nil {
		return 0, nil
	}
	installerID, err := s.installer.Install(ctx, bp.Address)
	if err != nil {
		s.bps.Remove(bp.ID)
		return 0, fmt.Errorf("session: install assert: %w", err)
	}
	s.installerIDs[bp.ID] = installerID
	return bp.ID, nil
}

func (s *Session) RemoveBreakpoint(ctx context.Context, id uint16) error {
	bp := s.bps.Get(id)
	if bp == nil {
		return fmt.Errorf("session: unknown breakpoint id %d", id)
	}
	installerID, ok := s.installerIDs[id]
	if !ok {
		return fmt.Errorf("session: breakpoint %d has no installed trap", id)
	}
	if err := s.installer.Remove(ctx, installerID); err != nil {
		return fmt.Errorf("session: remove installed breakpoint: %w", err)
	}
	delete(s.installerIDs, id)
	if !s.bps.Remove(id) {
		return fmt.Errorf("session: unknown breakpoint id %d", id)
	}
	return nil
}

func (s *Session) EnableAsserts(enabled bool) { s.bps.EnableAsserts(enabled) }

func (s *Session) EnableLogpoints(ids []uint16, enabled bool) { s.bps.EnableLogpoints(ids, enabled) }

func (s *Session) SetWatchpoint(ctx context.Context, address, size int, access breakpoint.Access, cond string) error {
	wp, err := s.bps.AddWatch(address, size, access, cond)
	if err != nil {
		return err
	}
	var wireAccess dzrp.WatchAccess
	if access&breakpoint.AccessRead != 0 {
		wireAccess |= dzrp.WatchRead
	}
	if access&breakpoint.AccessWrite != 0 {
		wireAccess |= dzrp.WatchWrite
	}
	_, err = s.dispatcher.Do(ctx, dzrp.EncodeAddWatchpoint(wp.Address, wp.Size, wireAccess))
	return err
}

func (s *Session) RemoveWatchpoint(ctx context.Context, address, size uint16) error {
	if !s.bps.RemoveWatch(address, size) {
		return fmt.Errorf("session: no watchpoint at 0x%04X/%d", address, size)
	}
	_, err := s.dispatcher.Do(ctx, dzrp.EncodeRemoveWatchpoint(address, size))
	return err
}

// --- Memory / registers -------------------------------------------------

func (s *Session) ReadMemory(ctx context.Context, addr, size uint16) ([]byte, error) {
	return s.dispatcher.Do(ctx, dzrp.EncodeReadMem(addr, size))
}

func (s *Session) WriteMemory(ctx context.Context, addr uint16, data []byte) error {
	_, err := s.dispatcher.Do(ctx, dzrp.EncodeWriteMem(addr, data))
	return err
}

func (s *Session) GetRegisters(ctx context.Context) (registers.Set, error) {
	return s.regs.Get(ctx)
}

func (s *Session) SetRegister(ctx context.Context, idx dzrp.RegIndex, value uint16) (uint16, error) {
	if _, err := s.dispatcher.Do(ctx, dzrp.EncodeSetRegister(idx, value)); err != nil {
		return 0, err
	}
	s.regs.Invalidate()
	set, err := s.regs.Get(ctx)
	if err != nil {
		return 0, err
	}
	return set.Words[idx], nil
}

// --- Snapshots / state ---------------------------------------------------

func (s *Session) LoadSnapshot(ctx context.Context, path string) error {
	if err := snapshot.LoadSnapshotFile(ctx, path, s.dispatcher); err != nil {
		return err
	}
	s.regs.Invalidate()
	return nil
}

func (s *Session) SaveState(ctx context.Context, path string) error {
	return snapshot.SaveState(ctx, path, s.dispatcher)
}

func (s *Session) RestoreState(ctx context.Context, path string) error {
	if err := snapshot.RestoreState(ctx, path, s.dispatcher); err != nil {
		return err
	}
	s.regs.Invalidate()
	return nil
}

// EnableBackstep turns on the in-memory state-blob history consulted by
// Backstep. Off by default: every Continue/step would otherwise cost an
// extra READ_STATE round trip.
func (s *Session) EnableBackstep(enabled bool) { s.backstepEnabled = enabled }

const backstepHistoryLimit = 32

func (s *Session) snapshotForBackstep(ctx context.Context) {
	if !s.backstepEnabled {
		return
	}
	blob, err := s.dispatcher.Do(ctx, dzrp.EncodeReadState())
	if err != nil {
		s.log.Warn("session: backstep snapshot failed", "err", err)
		return
	}
	s.backstepHistory = append(s.backstepHistory, blob)
	if len(s.backstepHistory) > backstepHistoryLimit {
		s.backstepHistory = s.backstepHistory[1:]
	}
}

// Backstep restores the state captured before the most recent resume,
// the supplemented "step backward" feature. Returns an error if no
// history is available (backstep disabled, or nothing executed yet).
func (s *Session) Backstep(ctx context.Context) error {
	if len(s.backstepHistory) == 0 {
		return fmt.Errorf("session: no backstep history available")
	}
	blob := s.backstepHistory[len(s.backstepHistory)-1]
	s.backstepHistory = s.backstepHistory[:len(s.backstepHistory)-1]
	if _, err := s.dispatcher.Do(ctx, dzrp.EncodeWriteState(blob)); err != nil {
		return fmt.Errorf("session: backstep WRITE_STATE: %w", err)
	}
	s.regs.Invalidate()
	return nil
}

// --- Passthroughs ---------------------------------------------------------

func (s *Session) GetSlots(ctx context.Context) ([8]byte, error) {
	payload, err := s.dispatcher.Do(ctx, dzrp.EncodeGetSlots())
	if err != nil {
		return [8]byte{}, err
	}
	res, err := dzrp.DecodeSlotsResult(payload)
	if err != nil {
		return [8]byte{}, err
	}
	return res.Banks, nil
}

func (s *Session) GetTBBlueReg(ctx context.Context, reg byte) ([]byte, error) {
	return s.dispatcher.Do(ctx, dzrp.EncodeGetTBBlueReg(reg))
}

func (s *Session) GetSpritesPalette(ctx context.Context) ([]byte, error) {
	return s.dispatcher.Do(ctx, dzrp.EncodeGetSpritesPalette())
}

func (s *Session) GetSprites(ctx context.Context, first, count byte) ([]byte, error) {
	return s.dispatcher.Do(ctx, dzrp.EncodeGetSprites(first, count))
}

func (s *Session) GetSpritePatterns(ctx context.Context, first, count byte) ([]byte, error) {
	return s.dispatcher.Do(ctx, dzrp.EncodeGetSpritePatterns(first, count))
}

func (s *Session) GetSpriteClip(ctx context.Context) ([]byte, error) {
	return s.dispatcher.Do(ctx, dzrp.EncodeGetSpriteClip())
}

func (s *Session) SetBorder(ctx context.Context, color byte) error {
	_, err := s.dispatcher.Do(ctx, dzrp.EncodeSetBorder(color))
	return err
}

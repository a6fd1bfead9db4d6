package stepper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/z80dbg/dzrp-mediator/internal/breakpoint"
	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
	"github.com/z80dbg/dzrp-mediator/internal/registers"
)

// Kind identifies which resume operation is in flight.
type Kind int

const (
	KindContinue Kind = iota
	KindStepOver
	KindStepInto
	KindStepOut
)

// Result is returned by step-over/step-into; Reason is empty for a plain
// ephemeral landing (NO_REASON).
type Result struct {
	Instruction string
	Reason      string
}

// Requester is the subset of dzrp.Dispatcher the controller drives.
type Requester interface {
	Do(ctx context.Context, req dzrp.Frame) ([]byte, error)
}

// RegisterSource is the subset of registers.Cache the controller needs.
type RegisterSource interface {
	Get(ctx context.Context) (registers.Set, error)
	Invalidate()
}

// Evaluator is the condition/logpoint expression backend.
type Evaluator interface {
	// Eval reports the truthiness of expr against the current register
	// cache and memory. An empty expr is "unset" and always evaluates true
	// (a plain, unconditional hit).
	Eval(ctx context.Context, expr string) (bool, error)
	// Format renders a log-format string (e.g. "A={A}") against current
	// state for a logpoint hit.
	Format(ctx context.Context, format string) (string, error)
}

// Logger receives formatted logpoint output.
type Logger interface {
	LogPoint(line string)
}

// Controller drives continue/step-over/step-into/step-out as an explicit
// state machine over CONTINUE requests and NTF_PAUSE notifications: no
// stored per-iteration closures, just Resume-time locals and the sticky
// pauseStep flag surviving across calls.
type Controller struct {
	req   Requester
	regs  RegisterSource
	bps   *breakpoint.Table
	eval  Evaluator
	log   Logger
	traps breakpoint.TrapResolver
	watchdog time.Duration

	mu        sync.Mutex
	pauseStep bool
	pauseCh   chan dzrp.PauseEvent
}

// traps may be nil, which is the common case for a SoftInstaller-backed
// session: no trap bytes are ever patched into the address space, so
// decodeAt has nothing to substitute.
func NewController(req Requester, regs RegisterSource, bps *breakpoint.Table, eval Evaluator, log Logger, watchdog time.Duration, traps breakpoint.TrapResolver) *Controller {
	return &Controller{
		req:      req,
		regs:     regs,
		bps:      bps,
		eval:     eval,
		log:      log,
		traps:    traps,
		watchdog: watchdog,
		pauseCh:  make(chan dzrp.PauseEvent, 1),
	}
}

// OnPause is wired as the dzrp.Dispatcher's pause handler. It must not
// block: a full channel means a pause arrived with no step awaiting it,
// which is a protocol-level surprise worth dropping rather than hanging
// the receive loop over.
func (c *Controller) OnPause(evt dzrp.PauseEvent) {
	select {
	case c.pauseCh <- evt:
	default:
	}
}

// RequestPause sets the sticky manual-pause flag and sends PAUSE. The
// next classification pass, whenever it occurs, reports MANUAL_BREAK
// regardless of what the remote's own notification says.
func (c *Controller) RequestPause(ctx context.Context) error {
	c.mu.Lock()
	c.pauseStep = true
	c.mu.Unlock()
	_, err := c.req.Do(ctx, dzrp.EncodePause())
	return err
}

func (c *Controller) takePauseSticky() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.pauseStep
	c.pauseStep = false
	return v
}

// Continue resumes unconditionally and blocks until an unconditional stop
// (a plain hit, manual break, watchpoint, or suppressed/logged conditions
// exhausted). Returns the user-visible break-reason string.
func (c *Controller) Continue(ctx context.Context) (string, error) {
	c.bps.RebuildIndex()
	for {
		c.regs.Invalidate()
		if _, err := c.req.Do(ctx, dzrp.EncodeContinue(nil, nil)); err != nil {
			return "", err
		}
		evt, err := c.awaitPause(ctx, 0)
		if err != nil {
			return "", err
		}
		reason, resumeSilently, err := c.classify(ctx, evt)
		if err != nil {
			return "", err
		}
		if resumeSilently {
			continue
		}
		return reason, nil
	}
}

// StepInto executes exactly one instruction's worth of control flow
// (the fall-through PC, and the statically-known branch target if any).
func (c *Controller) StepInto(ctx context.Context) (Result, error) {
	return c.step(ctx, KindStepInto)
}

// StepOver behaves like StepInto except that call-family and block
// instructions bound the step at the instruction-after rather than
// single-stepping into the subroutine/block.
func (c *Controller) StepOver(ctx context.Context) (Result, error) {
	return c.step(ctx, KindStepOver)
}

func (c *Controller) step(ctx context.Context, kind Kind) (Result, error) {
	c.bps.RebuildIndex()
	pc, instr, err := c.decodeAt(ctx)
	if err != nil {
		return Result{}, err
	}
	bp1, bp2 := stepBreakpoints(kind, pc, instr)
	for {
		c.regs.Invalidate()
		if _, err := c.req.Do(ctx, dzrp.EncodeContinue(&bp1, bp2)); err != nil {
			return Result{}, err
		}
		evt, err := c.awaitPause(ctx, 0)
		if err != nil {
			return Result{}, err
		}
		reason, resumeSilently, err := c.classify(ctx, evt)
		if err != nil {
			return Result{}, err
		}
		if resumeSilently {
			continue
		}
		return Result{Instruction: instr.Mnemonic, Reason: reason}, nil
	}
}

// stepBreakpoints computes the ephemeral CONTINUE breakpoint(s) for a
// step-into or step-over of instr starting at pc. Address wrap (PC =
// 0xFFFF falling through) wraps naturally via uint16 arithmetic.
func stepBreakpoints(kind Kind, pc uint16, instr Instruction) (bp1 uint16, bp2 *uint16) {
	fallThrough := pc + uint16(instr.Size)
	if kind == KindStepOver && (instr.IsCallFamily || instr.IsBlock) {
		bp1 = fallThrough
		if instr.IsBranch {
			target := instr.BranchTarget
			bp2 = &target
		}
		return bp1, bp2
	}
	bp1 = fallThrough
	if instr.IsBranch {
		target := instr.BranchTarget
		bp2 = &target
	}
	return bp1, bp2
}

// StepOut runs a repeating step-into with the SP/RET termination check
// the inner loop resumes silently on ephemeral landings until
// both "something was popped" (SP advanced past both the step-out's
// start SP and the previous iteration's SP) and the instruction at the
// previous PC classifies as a RET-family opcode.
func (c *Controller) StepOut(ctx context.Context) (string, error) {
	c.bps.RebuildIndex()

	startRegs, err := c.regs.Get(ctx)
	if err != nil {
		return "", err
	}
	startSp := startRegs.SP()
	prevSp := startSp
	prevPc := startRegs.PC()

	lastYield := time.Now()
	for {
		pc, instr, err := c.decodeAt(ctx)
		if err != nil {
			return "", err
		}
		bp1, bp2 := stepBreakpoints(KindStepInto, pc, instr)

		c.regs.Invalidate()
		if _, err := c.req.Do(ctx, dzrp.EncodeContinue(&bp1, bp2)); err != nil {
			return "", err
		}
		evt, err := c.awaitPause(ctx, c.watchdog)
		if err != nil {
			return "", err
		}
		reason, resumeSilently, err := c.classify(ctx, evt)
		if err != nil {
			return "", err
		}
		if !resumeSilently && reason != "" {
			// A real breakpoint, manual break, or watchpoint short-circuits
			// the outer loop and surfaces directly. An empty reason is an
			// ephemeral landing (NO_REASON) and goes on to the SP/RET check.
			return reason, nil
		}

		cur, err := c.regs.Get(ctx)
		if err != nil {
			return "", err
		}
		sp := cur.SP()

		op0, op1, err := c.readTwo(ctx, prevPc)
		if err != nil {
			return "", err
		}
		poppedSomething := sp > startSp && sp > prevSp
		if poppedSomething && IsRet(op0, op1) {
			return "", nil // NO_REASON: step-out terminated cleanly
		}

		prevPc = cur.PC()
		prevSp = sp

		if time.Since(lastYield) > time.Second {
			time.Sleep(200 * time.Millisecond)
			lastYield = time.Now()
		}
	}
}

func (c *Controller) decodeAt(ctx context.Context) (uint16, Instruction, error) {
	regs, err := c.regs.Get(ctx)
	if err != nil {
		return 0, Instruction{}, err
	}
	pc := regs.PC()
	data, err := c.readMem(ctx, pc, 4)
	if err != nil {
		return 0, Instruction{}, err
	}
	// A hw-installed breakpoint displaces the real opcode with a trap
	// byte; decode the instruction that's actually there, not the trap.
	if c.traps != nil && len(data) > 0 && breakpoint.IsTrapOpcode(data[0]) {
		if orig, ok := c.traps.OriginalByteAt(pc); ok {
			substituted := append([]byte{orig}, data[1:]...)
			data = substituted
		}
	}
	return pc, Decode(data, pc), nil
}

func (c *Controller) readTwo(ctx context.Context, addr uint16) (byte, byte, error) {
	data, err := c.readMem(ctx, addr, 2)
	if err != nil {
		return 0, 0, err
	}
	var op0, op1 byte
	if len(data) > 0 {
		op0 = data[0]
	}
	if len(data) > 1 {
		op1 = data[1]
	}
	return op0, op1, nil
}

func (c *Controller) readMem(ctx context.Context, addr uint16, size int) ([]byte, error) {
	payload, err := c.req.Do(ctx, dzrp.EncodeReadMem(addr, uint16(size)))
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Controller) awaitPause(ctx context.Context, timeout time.Duration) (dzrp.PauseEvent, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case evt := <-c.pauseCh:
		return evt, nil
	case <-timer:
		return dzrp.PauseEvent{}, fmt.Errorf("stepper: watchdog timeout waiting for pause notification")
	case <-ctx.Done():
		return dzrp.PauseEvent{}, ctx.Err()
	}
}

// classify turns a raw pause notification into a user-visible reason and
// decides whether the outer loop should resume silently (a suppressed
// condition, or a logpoint that emitted and continues) rather than
// surface the pause to the caller.
func (c *Controller) classify(ctx context.Context, evt dzrp.PauseEvent) (reason string, resumeSilently bool, err error) {
	if c.takePauseSticky() {
		return dzrp.ReasonManualBreak.String(), false, nil
	}

	switch evt.Reason {
	case dzrp.ReasonNone:
		return "", false, nil
	case dzrp.ReasonManualBreak:
		return dzrp.ReasonManualBreak.String(), false, nil
	case dzrp.ReasonWatchpointRead, dzrp.ReasonWatchpointWrite:
		verb := "read"
		if evt.Reason == dzrp.ReasonWatchpointWrite {
			verb = "write"
		}
		reason := fmt.Sprintf("Watchpoint %s access at address 0x%04X (%d).", verb, evt.Address, evt.Address)
		if evt.ReasonSuffix != "" {
			reason += " " + evt.ReasonSuffix
		}
		return reason, false, nil
	case dzrp.ReasonBreakpointHit:
		return c.classifyBreakpointHit(ctx, evt)
	default:
		return dzrp.ReasonManualBreak.String(), false, nil
	}
}

// HitCountSetter lets an Evaluator implementation resolve a "hitcount"
// reference against the breakpoint currently being classified.
type HitCountSetter interface {
	SetHitCount(uint64)
}

// FailureWarner lets an Evaluator implementation apply the
// warn-at-most-once-per-breakpoint-per-session policy for a condition
// that fails to parse or evaluate.
type FailureWarner interface {
	WarnFailure(id uint16, expr string, err error)
}

func (c *Controller) classifyBreakpointHit(ctx context.Context, evt dzrp.PauseEvent) (string, bool, error) {
	hits := c.bps.HitsAt(evt.Address)
	if len(hits) == 0 {
		// An ephemeral step landing coincides with evt.Address but no
		// persisted breakpoint lives there: treat as a plain hit.
		return fmt.Sprintf("Breakpoint hit @%04Xh.", evt.Address), false, nil
	}

	var pauseReason string
	shouldPause := false
	for _, bp := range hits {
		count := c.bps.IncrementHit(bp.ID)
		if hcs, ok := c.eval.(HitCountSetter); ok {
			hcs.SetHitCount(count)
		}

		truthy := true
		if bp.Condition != "" {
			var evalErr error
			truthy, evalErr = c.eval.Eval(ctx, bp.Condition)
			if evalErr != nil {
				truthy = false // Expression kind: treat as false, suppress hit
				if fw, ok := c.eval.(FailureWarner); ok {
					fw.WarnFailure(bp.ID, bp.Condition, evalErr)
				}
			}
		}

		switch bp.Kind {
		case breakpoint.KindLog:
			if truthy {
				line, ferr := c.eval.Format(ctx, bp.Log)
				if ferr == nil && c.log != nil {
					c.log.LogPoint(line)
				}
			}
			// Logpoints never pause execution.
		case breakpoint.KindAssert:
			if truthy {
				shouldPause = true
				pauseReason = fmt.Sprintf("Assertion failed: %s", bp.Condition)
			}
		default: // KindUser
			if bp.Condition == "" {
				shouldPause = true
				if pauseReason == "" {
					pauseReason = fmt.Sprintf("Breakpoint hit @%04Xh.", evt.Address)
				}
			} else if truthy {
				shouldPause = true
				pauseReason = fmt.Sprintf("Breakpoint hit @%04Xh. Condition: %s", evt.Address, bp.Condition)
			}
		}
	}

	if !shouldPause {
		return "", true, nil
	}
	return pauseReason, false, nil
}

// Package condition implements the breakpoint/logpoint condition
// evaluator. Conditions are small Lua expressions evaluated against
// the current register cache and remote memory: the three reference
// classes a condition can name (register, memory, hitcount) are exposed
// as Lua globals, so a condition is any Lua boolean expression over them
// rather than a fixed register/memory/hitcount-op-value grammar.
package condition

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
	"github.com/z80dbg/dzrp-mediator/internal/registers"
)

// RegisterSource is the subset of registers.Cache the evaluator reads.
type RegisterSource interface {
	Get(ctx context.Context) (registers.Set, error)
}

// Requester performs READ_MEM round trips for the mem() builtin.
type Requester interface {
	Do(ctx context.Context, req dzrp.Frame) ([]byte, error)
}

// Evaluator implements stepper.Evaluator against gopher-lua.
type Evaluator struct {
	regs RegisterSource
	req  Requester
	log  *slog.Logger

	mu       sync.Mutex
	hitCount uint64
	warned   map[uint16]bool
}

func NewEvaluator(regs RegisterSource, req Requester, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{regs: regs, req: req, log: log, warned: make(map[uint16]bool)}
}

// SetHitCount records the hit count of the breakpoint currently being
// classified, so the next Eval's "hitcount" reference resolves to it.
func (e *Evaluator) SetHitCount(n uint64) {
	e.mu.Lock()
	e.hitCount = n
	e.mu.Unlock()
}

// WarnFailure logs a condition failure once per breakpoint id per
// session, per the Expression error-kind policy.
func (e *Evaluator) WarnFailure(id uint16, expr string, err error) {
	e.mu.Lock()
	already := e.warned[id]
	e.warned[id] = true
	e.mu.Unlock()
	if already {
		return
	}
	e.log.Warn("condition: evaluation failed, treating as false", "breakpoint", id, "expr", expr, "err", err)
}

// Eval compiles and runs expr as a Lua expression and coerces the result
// to a boolean: numbers are truthy iff non-zero, booleans pass through,
// nil/false are falsy, anything else is truthy (matches Lua but biased
// toward a "truthy/falsy integer" framing for numeric results).
func (e *Evaluator) Eval(ctx context.Context, expr string) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	for _, lib := range []lua.LGFunctionReg{
		{lua.BaseLibName, lua.OpenBase},
		{lua.MathLibName, lua.OpenMath},
		{lua.StringLibName, lua.OpenString},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.Value), NRet: 0, Protect: true}, lua.LString(lib.Name)); err != nil {
			return false, fmt.Errorf("condition: init lua stdlib %s: %w", lib.Name, err)
		}
	}

	if err := e.bindGlobals(ctx, L); err != nil {
		return false, err
	}

	if err := L.DoString("__cond_result = (" + expr + ")"); err != nil {
		return false, fmt.Errorf("condition: evaluate %q: %w", expr, err)
	}
	result := L.GetGlobal("__cond_result")
	return luaTruthy(result), nil
}

func luaTruthy(v lua.LValue) bool {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t) != 0
	case *lua.LNilType:
		return false
	default:
		return true
	}
}

// Format renders a logpoint format string such as "A={A} HL={HL}" by
// substituting {REGNAME} and {[addr]} references against current state.
// This is deliberately a plain-text substitution rather than a Lua
// template: log formats are meant to be typed quickly at a breakpoint
// prompt, not programmed.
var formatRef = regexp.MustCompile(`\{([A-Za-z0-9_]+|\[[^\]]+\])\}`)

func (e *Evaluator) Format(ctx context.Context, format string) (string, error) {
	set, err := e.regs.Get(ctx)
	if err != nil {
		return "", err
	}
	var outerErr error
	out := formatRef.ReplaceAllStringFunc(format, func(m string) string {
		ref := m[1 : len(m)-1]
		if strings.HasPrefix(ref, "[") && strings.HasSuffix(ref, "]") {
			val, rerr := e.formatMemRef(ctx, ref[1:len(ref)-1])
			if rerr != nil {
				outerErr = rerr
				return m
			}
			return val
		}
		v, ok := registerValue(set, strings.ToUpper(ref))
		if !ok {
			return m
		}
		return fmt.Sprintf("%d", v)
	})
	if outerErr != nil {
		return "", outerErr
	}
	return out, nil
}

func (e *Evaluator) formatMemRef(ctx context.Context, addrExpr string) (string, error) {
	addr, err := parseNumber(addrExpr)
	if err != nil {
		return "", fmt.Errorf("condition: format memory reference %q: %w", addrExpr, err)
	}
	payload, err := e.req.Do(ctx, dzrp.EncodeReadMem(uint16(addr), 1))
	if err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("condition: short READ_MEM response at 0x%04X", addr)
	}
	return fmt.Sprintf("%d", payload[0]), nil
}

func parseNumber(s string) (int64, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "$") {
		s, base = s[1:], 16
	} else if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	return strconv.ParseInt(s, base, 64)
}

// bindGlobals exposes every canonical register plus common 8-bit halves
// as Lua number globals, the current hitcount, and a mem(addr) builtin.
func (e *Evaluator) bindGlobals(ctx context.Context, L *lua.LState) error {
	set, err := e.regs.Get(ctx)
	if err != nil {
		return err
	}
	for name, idx := range registerIndices {
		L.SetGlobal(name, lua.LNumber(set.Words[idx]))
	}
	L.SetGlobal("A", lua.LNumber(highByte(set.Words[dzrp.RegAF])))
	L.SetGlobal("F", lua.LNumber(lowByte(set.Words[dzrp.RegAF])))
	L.SetGlobal("B", lua.LNumber(highByte(set.Words[dzrp.RegBC])))
	L.SetGlobal("C", lua.LNumber(lowByte(set.Words[dzrp.RegBC])))
	L.SetGlobal("D", lua.LNumber(highByte(set.Words[dzrp.RegDE])))
	L.SetGlobal("E", lua.LNumber(lowByte(set.Words[dzrp.RegDE])))
	L.SetGlobal("H", lua.LNumber(highByte(set.Words[dzrp.RegHL])))
	L.SetGlobal("L", lua.LNumber(lowByte(set.Words[dzrp.RegHL])))
	L.SetGlobal("IXH", lua.LNumber(highByte(set.Words[dzrp.RegIX])))
	L.SetGlobal("IXL", lua.LNumber(lowByte(set.Words[dzrp.RegIX])))
	L.SetGlobal("IYH", lua.LNumber(highByte(set.Words[dzrp.RegIY])))
	L.SetGlobal("IYL", lua.LNumber(lowByte(set.Words[dzrp.RegIY])))

	e.mu.Lock()
	hc := e.hitCount
	e.mu.Unlock()
	L.SetGlobal("hitcount", lua.LNumber(hc))

	L.SetGlobal("mem", L.NewFunction(func(L *lua.LState) int {
		addr := uint16(L.ToInt(1))
		payload, merr := e.req.Do(ctx, dzrp.EncodeReadMem(addr, 1))
		if merr != nil || len(payload) == 0 {
			L.Push(lua.LNumber(0))
			return 1
		}
		L.Push(lua.LNumber(payload[0]))
		return 1
	}))
	return nil
}

var registerIndices = map[string]dzrp.RegIndex{
	"PC": dzrp.RegPC, "SP": dzrp.RegSP,
	"AF": dzrp.RegAF, "BC": dzrp.RegBC, "DE": dzrp.RegDE, "HL": dzrp.RegHL,
	"IX": dzrp.RegIX, "IY": dzrp.RegIY,
	"AF_": dzrp.RegAFShadow, "BC_": dzrp.RegBCShadow, "DE_": dzrp.RegDEShadow, "HL_": dzrp.RegHLShadow,
	"I": dzrp.RegI, "R": dzrp.RegR, "IM": dzrp.RegIM,
}

func registerValue(set registers.Set, name string) (uint16, bool) {
	switch name {
	case "A":
		return highByte(set.Words[dzrp.RegAF]), true
	case "F":
		return lowByte(set.Words[dzrp.RegAF]), true
	case "B":
		return highByte(set.Words[dzrp.RegBC]), true
	case "C":
		return lowByte(set.Words[dzrp.RegBC]), true
	case "D":
		return highByte(set.Words[dzrp.RegDE]), true
	case "E":
		return lowByte(set.Words[dzrp.RegDE]), true
	case "H":
		return highByte(set.Words[dzrp.RegHL]), true
	case "L":
		return lowByte(set.Words[dzrp.RegHL]), true
	}
	if idx, ok := registerIndices[name]; ok {
		return set.Words[idx], true
	}
	return 0, false
}

func highByte(v uint16) uint16 { return v >> 8 }
func lowByte(v uint16) uint16  { return v & 0xFF }

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/z80dbg/dzrp-mediator/internal/session"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the transport and serve an interactive debugging prompt on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, cleanup, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			sess, err := session.Open(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer sess.Close()

			fmt.Println(color.GreenString("connected; type 'help' for commands"))
			return runPrompt(ctx, sess)
		},
	}
}

func runPrompt(ctx context.Context, sess *session.Session) error {
	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := dispatchCommand(ctx, sess, line); err != nil {
			fmt.Println(color.RedString("error: %v", err))
		}
	}
}

func dispatchCommand(ctx context.Context, sess *session.Session, line string) error {
	fields := strings.Fields(line)
	cmd, rest := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Println("continue | step | next | out | pause | regs | bp <addr> | rmbp <id> | mem <addr> <size> | quit")
	case "continue", "c":
		reason, err := sess.Continue(ctx)
		if err != nil {
			return err
		}
		fmt.Println(reason)
	case "step", "s":
		res, err := sess.StepInto(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", res.Instruction, res.Reason)
	case "next", "n":
		res, err := sess.StepOver(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", res.Instruction, res.Reason)
	case "out", "o":
		reason, err := sess.StepOut(ctx)
		if err != nil {
			return err
		}
		fmt.Println(reason)
	case "pause":
		return sess.Pause(ctx)
	case "regs":
		set, err := sess.GetRegisters(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("PC=%04X SP=%04X\n", set.PC(), set.SP())
	case "bp":
		if len(rest) < 1 {
			return fmt.Errorf("usage: bp <addr> [condition]")
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(rest[0], "0x"), 16, 16)
		if err != nil {
			return err
		}
		cond := strings.Join(rest[1:], " ")
		id, err := sess.SetBreakpoint(ctx, int(addr), cond, "")
		if err != nil {
			return err
		}
		fmt.Printf("breakpoint id=%d\n", id)
	case "rmbp":
		if len(rest) < 1 {
			return fmt.Errorf("usage: rmbp <id>")
		}
		id, err := strconv.ParseUint(rest[0], 10, 16)
		if err != nil {
			return err
		}
		return sess.RemoveBreakpoint(ctx, uint16(id))
	case "mem":
		if len(rest) < 2 {
			return fmt.Errorf("usage: mem <addr> <size>")
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(rest[0], "0x"), 16, 16)
		if err != nil {
			return err
		}
		size, err := strconv.ParseUint(rest[1], 10, 16)
		if err != nil {
			return err
		}
		data, err := sess.ReadMemory(ctx, uint16(addr), uint16(size))
		if err != nil {
			return err
		}
		fmt.Printf("% X\n", data)
	case "quit", "q":
		os.Exit(0)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

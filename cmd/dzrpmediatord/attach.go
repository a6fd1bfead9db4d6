package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/z80dbg/dzrp-mediator/internal/session"
)

var errAttachLineEmpty = errors.New("empty input")

// attachCmd opens a session and puts the local terminal into raw mode,
// reading typed lines of the form "<hex-addr> [size]" and printing the
// bytes a READ_MEM of that range returns. It's a manual protocol-poking
// harness, not something an
// end-user debugger front-end would drive — useful for verifying a new
// transport or remote implementation speaks DZRP correctly.
func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Put the terminal in raw mode and read remote memory at typed hex addresses",
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

			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return fmt.Errorf("attach requires an interactive terminal on stdin")
			}
			oldState, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("attach: set raw mode: %w", err)
			}
			defer term.Restore(fd, oldState)

			fmt.Fprint(os.Stdout, color.YellowString("attached; ctrl-d to detach\r\n"))
			return runAttachLoop(ctx, sess, os.Stdin, os.Stdout)
		},
	}
}

// runAttachLoop echoes raw memory reads for whatever hex address the user
// types, one line at a time, until stdin is closed or ctx is canceled.
// It is split out from attachCmd so it can be driven by a plain io.Reader
// in tests, without a real terminal.
func runAttachLoop(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) error {
	buf := make([]byte, 1)
	var line []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := in.Read(buf)
		if n > 0 {
			b := buf[0]
			switch b {
			case '\r', '\n':
				if len(line) > 0 {
					attachEvalLine(ctx, sess, string(line), out)
					line = line[:0]
				}
			case 0x04: // ctrl-d
				return nil
			case 0x7f, 0x08: // backspace/delete
				if len(line) > 0 {
					line = line[:len(line)-1]
				}
			default:
				line = append(line, b)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func attachEvalLine(ctx context.Context, sess *session.Session, line string, out io.Writer) {
	addr, size, err := parseAttachLine(line)
	if err != nil {
		fmt.Fprintf(out, "\r\n%s\r\n", color.RedString("usage: <hex-addr> [size]"))
		return
	}
	data, err := sess.ReadMemory(ctx, addr, size)
	if err != nil {
		fmt.Fprintf(out, "\r\n%s\r\n", color.RedString("error: %v", err))
		return
	}
	fmt.Fprintf(out, "\r\n%04X: % X\r\n", addr, data)
}

func parseAttachLine(line string) (addr, size uint16, err error) {
	var a, s uint64
	n, _ := fmt.Sscanf(line, "%x %d", &a, &s)
	if n < 1 {
		return 0, 0, errAttachLineEmpty
	}
	if n < 2 || s == 0 {
		s = 1
	}
	return uint16(a), uint16(s), nil
}

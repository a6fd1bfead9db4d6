package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/z80dbg/dzrp-mediator/internal/session"
)

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <snapshot-file>",
		Short: "Connect, load a .sna/.nex snapshot or saved state, and exit",
		Args:  cobra.ExactArgs(1),
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

			if err := sess.LoadSnapshot(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println(color.GreenString("loaded %s", args[0]))
			return nil
		},
	}
}

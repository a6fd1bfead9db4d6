// Command dzrpmediatord runs the Z80 DZRP debugger mediator core as a
// standalone process: it opens a transport to the remote, exposes the
// session over a simple line-oriented prompt, and optionally auto-loads
// a snapshot on startup.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/z80dbg/dzrp-mediator/internal/config"
	"github.com/z80dbg/dzrp-mediator/internal/obslog"
)

var (
	cfgFile      string
	transportKind string
	host         string
	port         int
	serialDevice string
	serialBaud   int
	autoload     string
	logLevel     string
	logFile      string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dzrpmediatord",
		Short: "Z80 DZRP debugger mediator core",
		Long: `dzrpmediatord bridges a source-level debugger front-end to a remote
Z80 execution engine (hardware ZX Next bridge or software emulator) over
the DZRP binary protocol, presenting continue/step/breakpoint/memory
operations over a stable local interface.`,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML/TOML/JSON config file")
	root.PersistentFlags().StringVar(&transportKind, "transport", "", "transport.kind override: socket or serial")
	root.PersistentFlags().StringVar(&host, "host", "", "transport.host override")
	root.PersistentFlags().IntVar(&port, "port", 0, "transport.port override")
	root.PersistentFlags().StringVar(&serialDevice, "serial-device", "", "transport.serial_device override")
	root.PersistentFlags().IntVar(&serialBaud, "serial-baud", 0, "transport.serial_baud override")
	root.PersistentFlags().StringVar(&autoload, "autoload", "", "snapshot file to load at startup")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log.level override: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "optional JSON log file path")

	root.AddCommand(serveCmd(), loadCmd(), attachCmd(), versionCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Load(cfgFile, cmd.Flags())
}

func buildLogger(cfg config.Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
		// level already set from the unmarshal
	}
	log, closer, err := obslog.New(obslog.Config{Level: level, FilePath: cfg.LogFile})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer != nil {
			closer.Close()
		}
	}
	return log, cleanup, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mediator version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("dzrpmediatord (dzrp-mediator)")
			return nil
		},
	}
}

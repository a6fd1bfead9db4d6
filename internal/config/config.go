// Package config loads the mediator's external configuration: transport
// endpoint, optional auto-load snapshot path, and the step-out watchdog
// timeout. Sources, in increasing priority,
// are a config file (YAML/TOML/JSON via viper's auto-detection), then
// environment variables prefixed DZRP_, then command-line flags bound by
// cmd/dzrpmediatord.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved set of mediator settings.
type Config struct {
	TransportKind string // "socket" or "serial"
	Host          string
	Port          int
	SerialDevice  string
	SerialBaud    int

	AutoLoadPath string

	ResponseTimeout  time.Duration
	StepOutWatchdog  time.Duration

	LogLevel string
	LogFile  string
}

func defaults(v *viper.Viper) {
	v.SetDefault("transport.kind", "socket")
	v.SetDefault("transport.host", "127.0.0.1")
	v.SetDefault("transport.port", 12000)
	v.SetDefault("transport.serial_baud", 115200)
	v.SetDefault("timeouts.response", "3s")
	v.SetDefault("timeouts.step_out_watchdog", "5s")
	v.SetDefault("log.level", "info")
}

// Load builds a viper instance layered as file < environment < flags and
// unmarshals it into a Config. configPath may be empty, in which case
// only defaults, environment and flags apply.
func Load(configPath string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("DZRP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	if flags != nil {
		bindings := map[string]string{
			"transport.kind":          "transport",
			"transport.host":         "host",
			"transport.port":         "port",
			"transport.serial_device": "serial-device",
			"transport.serial_baud":  "serial-baud",
			"autoload":               "autoload",
			"log.level":              "log-level",
			"log.file":               "log-file",
		}
		for viperKey, flagName := range bindings {
			flag := flags.Lookup(flagName)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(viperKey, flag); err != nil {
				return Config{}, fmt.Errorf("config: bind flag %s: %w", flagName, err)
			}
		}
	}

	cfg := Config{
		TransportKind:   v.GetString("transport.kind"),
		Host:            v.GetString("transport.host"),
		Port:            v.GetInt("transport.port"),
		SerialDevice:    v.GetString("transport.serial_device"),
		SerialBaud:      v.GetInt("transport.serial_baud"),
		AutoLoadPath:    v.GetString("autoload"),
		ResponseTimeout: v.GetDuration("timeouts.response"),
		StepOutWatchdog: v.GetDuration("timeouts.step_out_watchdog"),
		LogLevel:        v.GetString("log.level"),
		LogFile:         v.GetString("log.file"),
	}

	if cfg.TransportKind != "socket" && cfg.TransportKind != "serial" {
		return Config{}, fmt.Errorf("config: unknown transport.kind %q (want socket or serial)", cfg.TransportKind)
	}
	return cfg, nil
}

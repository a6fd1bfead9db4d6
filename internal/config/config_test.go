package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TransportKind != "socket" || cfg.Host != "127.0.0.1" || cfg.Port != 12000 {
		t.Errorf("defaults wrong: %+v", cfg)
	}
	if cfg.ResponseTimeout.Seconds() != 3 || cfg.StepOutWatchdog.Seconds() != 5 {
		t.Errorf("timeout defaults wrong: %+v", cfg)
	}
}

func TestLoadRejectsUnknownTransportKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("transport:\n  kind: carrier-pigeon\n"), 0o644)
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected an error for an unrecognized transport kind")
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("transport:\n  kind: serial\n  serial_device: /dev/ttyUSB0\n"), 0o644)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TransportKind != "serial" || cfg.SerialDevice != "/dev/ttyUSB0" {
		t.Errorf("file override wrong: %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("transport:\n  host: 10.0.0.1\n"), 0o644)
	t.Setenv("DZRP_TRANSPORT_HOST", "192.168.1.1")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "192.168.1.1" {
		t.Errorf("env should win over file, got host=%q", cfg.Host)
	}
}

func TestLoadFlagOverridesEnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	os.WriteFile(path, []byte("transport:\n  host: 10.0.0.1\n"), 0o644)
	t.Setenv("DZRP_TRANSPORT_HOST", "192.168.1.1")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("host", "", "")
	flags.Parse([]string{"--host=172.16.0.1"})

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "172.16.0.1" {
		t.Errorf("flag should win over env and file, got host=%q", cfg.Host)
	}
}

func TestLoadUnsetFlagDoesNotClobberEnv(t *testing.T) {
	t.Setenv("DZRP_TRANSPORT_HOST", "192.168.1.1")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("host", "", "")
	// Not parsed with --host, so flag.Changed stays false.

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "192.168.1.1" {
		t.Errorf("an unset flag must not override env, got host=%q", cfg.Host)
	}
}

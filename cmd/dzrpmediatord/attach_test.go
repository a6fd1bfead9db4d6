package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestParseAttachLineAddressOnlyDefaultsToOneByte(t *testing.T) {
	addr, size, err := parseAttachLine("8000")
	if err != nil {
		t.Fatalf("parseAttachLine: %v", err)
	}
	if addr != 0x8000 || size != 1 {
		t.Errorf("got addr=%04X size=%d, want addr=8000 size=1", addr, size)
	}
}

func TestParseAttachLineAddressAndSize(t *testing.T) {
	addr, size, err := parseAttachLine("c000 16")
	if err != nil {
		t.Fatalf("parseAttachLine: %v", err)
	}
	if addr != 0xC000 || size != 16 {
		t.Errorf("got addr=%04X size=%d, want addr=C000 size=16", addr, size)
	}
}

func TestParseAttachLineEmptyErrors(t *testing.T) {
	if _, _, err := parseAttachLine(""); err == nil {
		t.Fatal("expected an error for an empty line")
	}
}

func TestRunAttachLoopReturnsOnEOF(t *testing.T) {
	var out bytes.Buffer
	err := runAttachLoop(context.Background(), nil, strings.NewReader(""), &out)
	if err != nil {
		t.Fatalf("expected nil error on immediate EOF, got %v", err)
	}
}

func TestRunAttachLoopDetachesOnCtrlD(t *testing.T) {
	var out bytes.Buffer
	// ctrl-d (0x04) should stop the loop before it ever touches sess,
	// even though a real sess is nil here.
	err := runAttachLoop(context.Background(), nil, strings.NewReader("\x04"), &out)
	if err != nil {
		t.Fatalf("expected nil error on ctrl-d, got %v", err)
	}
}

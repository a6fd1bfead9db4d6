package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// SaveState reads the remote's opaque state blob via READ_STATE and
// writes it to path gzip-compressed, with no client-side header: the
// file is exactly gzip(blob), so it can be inspected with any gzip
// tool. No magic, version or register-table framing is added on top,
// since the state blob's layout is owned entirely by the remote, not
// by this mediator.
func SaveState(ctx context.Context, path string, req Requester) error {
	blob, err := req.Do(ctx, dzrp.EncodeReadState())
	if err != nil {
		return fmt.Errorf("snapshot: READ_STATE: %w", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(blob); err != nil {
		return fmt.Errorf("snapshot: compress state: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("snapshot: close gzip writer: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}

// RestoreState reads a file written by SaveState, decompresses it, and
// pushes it back to the remote via WRITE_STATE.
func RestoreState(ctx context.Context, path string, req Requester) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("snapshot: %s is not a valid gzip state file: %w", path, err)
	}
	defer gz.Close()
	blob, err := io.ReadAll(gz)
	if err != nil {
		return fmt.Errorf("snapshot: decompress %s: %w", path, err)
	}
	if _, err := req.Do(ctx, dzrp.EncodeWriteState(blob)); err != nil {
		return fmt.Errorf("snapshot: WRITE_STATE: %w", err)
	}
	return nil
}

// LoadSnapshotFile dispatches on content: a file starting with the .nex
// magic "Next" goes to ParseNEX/ReplayNEX, and any other file is parsed
// as a .sna by ParseSNA/ReplaySNA.
func LoadSnapshotFile(ctx context.Context, path string, req Requester) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	if len(data) >= 4 && string(data[0:4]) == nexMagic {
		img, err := ParseNEX(data)
		if err != nil {
			return err
		}
		return ReplayNEX(ctx, img, req)
	}
	img, err := ParseSNA(data)
	if err != nil {
		return err
	}
	return ReplaySNA(ctx, img, req)
}

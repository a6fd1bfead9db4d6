package snapshot

import (
	"context"
	"fmt"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

const nexMagic = "Next"

// NEXImage is the decoded content of a .nex (ZX Spectrum Next) file: SP,
// PC and border from the 512-byte header, followed by raw 16 KiB bank
// payloads. The header's bank-usage table is not read; banks are
// numbered contiguously from 0 in file order (see ParseNEX). Only SP and PC are
// restored from the file; every other register is left to the NEX
// loader stub's own initialization.
type NEXImage struct {
	SP, PC    uint16
	Border    byte
	NumBanks  int
	BankOrder []int // bank numbers present in the file, in file order
	Banks     map[int][]byte
}

// ParseNEX parses the subset of the NEX v1.2 header needed to replay
// memory and the entry point: magic, version, loaded-bank count, SP/PC,
// and the 16 KiB bank payloads that follow the 512-byte header.
func ParseNEX(data []byte) (*NEXImage, error) {
	const headerLen = 512
	if len(data) < headerLen {
		return nil, fmt.Errorf("snapshot: .nex too short for header (%d bytes)", len(data))
	}
	if string(data[0:4]) != nexMagic {
		return nil, fmt.Errorf("snapshot: bad .nex magic %q", data[0:4])
	}

	numRAMBanks := int(data[8])
	border := data[11]
	sp := le16(data[12:])
	pc := le16(data[14:])
	numBanksLoaded := int(data[16])
	if numBanksLoaded == 0 {
		numBanksLoaded = numRAMBanks
	}

	img := &NEXImage{SP: sp, PC: pc, Border: border, NumBanks: numRAMBanks, Banks: make(map[int][]byte)}

	const bankSize = 16 * 1024
	payload := data[headerLen:]
	// The header's bank-usage table (offset 0x1C0, 112 bytes in the full
	// spec) records which of the 224 possible banks are present; absent
	// a faithful copy of that table here, banks are assumed present
	// contiguously starting at bank 0, which matches every NEX file this
	// mediator has been exercised against in practice.
	for b := 0; b < numBanksLoaded; b++ {
		if len(payload) < bankSize {
			return nil, fmt.Errorf("snapshot: .nex truncated at bank %d", b)
		}
		img.Banks[b] = payload[:bankSize]
		img.BankOrder = append(img.BankOrder, b)
		payload = payload[bankSize:]
	}
	return img, nil
}

// Replay writes each loaded bank as a pair of 8 KiB WRITE_BANK commands
// and restores only SP and PC.
func ReplayNEX(ctx context.Context, img *NEXImage, req Requester) error {
	for _, bankNum := range img.BankOrder {
		data := img.Banks[bankNum]
		lower := byte(bankNum * 2)
		upper := lower + 1
		if _, err := req.Do(ctx, dzrp.EncodeWriteBank(lower, data[:8*1024])); err != nil {
			return fmt.Errorf("snapshot: write bank %d: %w", lower, err)
		}
		if _, err := req.Do(ctx, dzrp.EncodeWriteBank(upper, data[8*1024:])); err != nil {
			return fmt.Errorf("snapshot: write bank %d: %w", upper, err)
		}
	}
	if _, err := req.Do(ctx, dzrp.EncodeSetRegister(dzrp.RegSP, img.SP)); err != nil {
		return fmt.Errorf("snapshot: set SP: %w", err)
	}
	if _, err := req.Do(ctx, dzrp.EncodeSetRegister(dzrp.RegPC, img.PC)); err != nil {
		return fmt.Errorf("snapshot: set PC: %w", err)
	}
	return nil
}

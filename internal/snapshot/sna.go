// Package snapshot implements the snapshot loader: parsing .sna and
// .nex ZX Spectrum / Next snapshot files and replaying them as
// WRITE_BANK/SET_REGISTER sequences, plus opaque on-disk state
// save/restore of the remote's own gzip-compressed state blob.
package snapshot

import (
	"context"
	"fmt"

	"github.com/z80dbg/dzrp-mediator/internal/dzrp"
)

// Requester performs the WRITE_BANK/SET_REGISTER round trips needed to
// replay a parsed snapshot onto the remote.
type Requester interface {
	Do(ctx context.Context, req dzrp.Frame) ([]byte, error)
}

// SNAImage is the decoded content of a .sna file: the fixed 27-byte
// register header plus one or more 16 KiB RAM pages. 48K files carry
// exactly pages 5, 2 and 0 (Spectrum's fixed layout); 128K files add an
// extended header selecting additional pages.
type SNAImage struct {
	I, R               byte
	HLShadow, DEShadow, BCShadow, AFShadow uint16
	HL, DE, BC, IY, IX uint16
	IFF2               byte
	AF                 uint16
	SP                 uint16
	IM                 byte
	Border             byte
	PC                 uint16 // from the 128K extended header, or recovered off the stack for 48K (see ParseSNA)
	Pages              map[int][]byte // page number -> 16 KiB
}

// ParseSNA parses both the 48K (49179-byte) and 128K (extended) .sna
// layouts.
func ParseSNA(data []byte) (*SNAImage, error) {
	if len(data) < 27 {
		return nil, fmt.Errorf("snapshot: .sna too short (%d bytes)", len(data))
	}
	img := &SNAImage{Pages: make(map[int][]byte)}
	img.I = data[0]
	img.HLShadow = le16(data[1:])
	img.DEShadow = le16(data[3:])
	img.BCShadow = le16(data[5:])
	img.AFShadow = le16(data[7:])
	img.HL = le16(data[9:])
	img.DE = le16(data[11:])
	img.BC = le16(data[13:])
	img.IY = le16(data[15:])
	img.IX = le16(data[17:])
	img.IFF2 = data[19]
	img.R = data[20]
	img.AF = le16(data[21:])
	img.SP = le16(data[23:])
	img.IM = data[25]
	img.Border = data[26]

	rest := data[27:]
	const page = 16 * 1024
	switch {
	case len(rest) == 48*1024:
		// Classic 48K layout: a single 48 KiB dump mapped to Spectrum
		// pages 5 (0x4000), 2 (0x8000), 0 (0xC000) in file order. The
		// format carries no PC field: the loader that produced the
		// snapshot pushed PC onto the stack before saving, so it is
		// recovered by reading the word at SP and advancing SP by 2.
		img.Pages[5] = rest[0*page : 1*page]
		img.Pages[2] = rest[1*page : 2*page]
		img.Pages[0] = rest[2*page : 3*page]
		pc, err := read48KWord(img, img.SP)
		if err != nil {
			return nil, err
		}
		img.PC = pc
		img.SP += 2
	case len(rest) >= 48*1024+4:
		ext := rest[48*1024:]
		img.PC = le16(ext)
		// ext[2] is the 0x7FFD port value (bank select + screen + ROM);
		// only the low 3 bits (RAM page mapped at 0xC000) are needed to
		// know which remaining pages follow.
		img.Pages[5] = rest[0*page : 1*page]
		img.Pages[2] = rest[1*page : 2*page]
		img.Pages[int(ext[2]&7)] = rest[2*page : 3*page]
		remaining := ext[4:]
		pageOrder := []int{0, 1, 3, 4, 6, 7} // pages already covered: 5, 2, and whichever is at 0xC000
		for _, pnum := range pageOrder {
			if len(remaining) < page {
				break
			}
			if _, ok := img.Pages[pnum]; !ok {
				img.Pages[pnum] = remaining[:page]
				remaining = remaining[page:]
			}
		}
	default:
		return nil, fmt.Errorf("snapshot: unrecognized .sna memory length %d", len(rest))
	}
	return img, nil
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

// read48KWord reads the little-endian word at addr in the reconstructed
// 48 KiB address space (pages 5/2/0 mapped at 0x4000/0x8000/0xC000),
// used to recover PC off the stack for classic 48K .sna files.
func read48KWord(img *SNAImage, addr uint16) (uint16, error) {
	pageNum, offset, ok := map48KAddr(addr)
	if !ok {
		return 0, fmt.Errorf("snapshot: .sna SP 0x%04X outside 48K RAM", addr)
	}
	data := img.Pages[pageNum]
	if int(offset)+2 > len(data) {
		return 0, fmt.Errorf("snapshot: .sna SP 0x%04X too close to a page boundary to recover PC", addr)
	}
	return le16(data[offset:]), nil
}

// map48KAddr maps a 16-bit Spectrum address to its 48K page number and
// in-page offset.
func map48KAddr(addr uint16) (pageNum int, offset uint16, ok bool) {
	switch {
	case addr >= 0x4000 && addr < 0x8000:
		return 5, addr - 0x4000, true
	case addr >= 0x8000 && addr < 0xC000:
		return 2, addr - 0x8000, true
	case addr >= 0xC000:
		return 0, addr - 0xC000, true
	default:
		return 0, 0, false
	}
}

// Replay writes a parsed SNA image to the remote as paired 8 KiB
// WRITE_BANK commands per 16 KiB page, then pushes registers via
// SET_REGISTER ending with PC.
func ReplaySNA(ctx context.Context, img *SNAImage, req Requester) error {
	for pageNum, data := range img.Pages {
		if len(data) != 16*1024 {
			return fmt.Errorf("snapshot: page %d has unexpected length %d", pageNum, len(data))
		}
		lowerBank := byte(pageNum * 2)
		upperBank := lowerBank + 1
		if _, err := req.Do(ctx, dzrp.EncodeWriteBank(lowerBank, data[:8*1024])); err != nil {
			return fmt.Errorf("snapshot: write bank %d: %w", lowerBank, err)
		}
		if _, err := req.Do(ctx, dzrp.EncodeWriteBank(upperBank, data[8*1024:])); err != nil {
			return fmt.Errorf("snapshot: write bank %d: %w", upperBank, err)
		}
	}

	order := []struct {
		idx dzrp.RegIndex
		val uint16
	}{
		{dzrp.RegI, uint16(img.I)},
		{dzrp.RegHLShadow, img.HLShadow},
		{dzrp.RegDEShadow, img.DEShadow},
		{dzrp.RegBCShadow, img.BCShadow},
		{dzrp.RegAFShadow, img.AFShadow},
		{dzrp.RegHL, img.HL},
		{dzrp.RegDE, img.DE},
		{dzrp.RegBC, img.BC},
		{dzrp.RegIY, img.IY},
		{dzrp.RegIX, img.IX},
		{dzrp.RegR, uint16(img.R)},
		{dzrp.RegAF, img.AF},
		{dzrp.RegSP, img.SP},
		{dzrp.RegIM, uint16(img.IM)},
		{dzrp.RegPC, img.PC},
	}
	for _, r := range order {
		if _, err := req.Do(ctx, dzrp.EncodeSetRegister(r.idx, r.val)); err != nil {
			return fmt.Errorf("snapshot: set register index %d: %w", r.idx, err)
		}
	}
	return nil
}

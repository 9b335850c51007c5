package velf

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

// relSize is the size of an ELF32 REL entry.
const relSize = 8

// thumbShuffle swaps the two 16-bit halfwords of a THUMB-2 instruction,
// which are stored in memory order rather than numeric order.
func thumbShuffle(x uint32) uint32 {
	return (x&0xFFFF0000)>>16 | (x&0xFFFF)<<16
}

type relHandling int

const (
	relNormal relHandling = iota
	relIgnore
	relInvalid
)

func relHandlingOf(t elf.R_ARM) relHandling {
	switch t {
	case elf.R_ARM_NONE, elf.R_ARM_V4BX:
		return relIgnore
	case elf.R_ARM_ABS32, elf.R_ARM_TARGET1,
		elf.R_ARM_REL32, elf.R_ARM_TARGET2, elf.R_ARM_PREL31,
		elf.R_ARM_THM_PC22, elf.R_ARM_CALL, elf.R_ARM_JUMP24,
		elf.R_ARM_MOVW_ABS_NC, elf.R_ARM_MOVT_ABS,
		elf.R_ARM_THM_MOVW_ABS_NC, elf.R_ARM_THM_MOVT_ABS:
		return relNormal
	}
	return relInvalid
}

// decodeRelTarget recovers the address a relocated instruction currently
// points at. data is the 32-bit word read from the target section and addr
// is the instruction's guest virtual address.
func decodeRelTarget(data uint32, t elf.R_ARM, addr uint32) uint32 {
	switch t {
	case elf.R_ARM_NONE, elf.R_ARM_V4BX:
		return 0xdeadbeef // never used
	case elf.R_ARM_ABS32, elf.R_ARM_TARGET1:
		return data
	case elf.R_ARM_REL32, elf.R_ARM_TARGET2, elf.R_ARM_PREL31:
		return data + addr
	case elf.R_ARM_THM_PC22: // bl (THUMB); this value is labelled R_ARM_THM_CALL in objdump output
		data = thumbShuffle(data)
		upper := data >> 16
		lower := data & 0xFFFF
		sign := (upper >> 10) & 1
		j1 := (lower >> 13) & 1
		j2 := (lower >> 11) & 1
		imm10 := upper & 0x3FF
		imm11 := lower & 0x7FF
		imm := imm11 | imm10<<11 | (j2^sign^1)<<21 | (j1^sign^1)<<22 | sign<<23
		imm <<= 1
		if sign != 0 {
			imm |= 0xFF000000
		}
		return addr + imm
	case elf.R_ARM_CALL, elf.R_ARM_JUMP24: // bl/blx, b/bl<cond>
		imm := (data & 0x00FFFFFF) << 2
		if imm&0x02000000 != 0 {
			imm |= 0xFC000000
		}
		return imm + addr
	case elf.R_ARM_MOVW_ABS_NC: // movw
		return (data&0xF0000)>>4 | data&0xFFF
	case elf.R_ARM_MOVT_ABS: // movt
		return ((data&0xF0000)>>4 | data&0xFFF) << 16
	case elf.R_ARM_THM_MOVW_ABS_NC: // movw (THUMB)
		data = thumbShuffle(data)
		return (data>>16&0xF)<<12 | (data>>26&1)<<11 | (data>>12&7)<<8 | data&0xFF
	case elf.R_ARM_THM_MOVT_ABS: // movt (THUMB)
		data = thumbShuffle(data)
		return ((data>>16&0xF)<<12 | (data>>26&1)<<11 | (data>>12&7)<<8 | data&0xFF) << 16
	}
	panic(fmt.Sprintf("invalid relocation type: %d", t))
}

// relAddend reconstructs the addend from the decoded target and the symbol
// value. The raw symbol value may include low bits that do not belong in
// the addend: the low halfword for MOVT pairs, the high halfword for MOVW
// pairs, and the THUMB flag bit for THM_CALL.
func relAddend(t elf.R_ARM, target, symValue uint32) int32 {
	switch t {
	case elf.R_ARM_MOVT_ABS, elf.R_ARM_THM_MOVT_ABS:
		return int32(target - symValue&0xFFFF0000)
	case elf.R_ARM_MOVW_ABS_NC, elf.R_ARM_THM_MOVW_ABS_NC:
		return int32(target - symValue&0xFFFF)
	case elf.R_ARM_THM_PC22:
		return int32(target - symValue&0xFFFFFFFE)
	}
	return int32(target - symValue)
}

// loadRelTable decodes one SHT_REL section into a relocation table and
// prepends it to the Binary's table list. On failure the partially built
// table is discarded; tables decoded earlier are preserved.
func (b *Binary) loadRelTable(s *elf.Section) error {
	link := int(s.Link)
	if link <= 0 || link >= len(b.elf.Sections) {
		return fmt.Errorf("relocation section links to invalid symbol table section %d", link)
	}
	if err := b.loadSymbols(link, b.elf.Sections[link]); err != nil {
		return err
	}

	targetNdx := int(s.Info)
	if targetNdx <= 0 || targetNdx >= len(b.elf.Sections) {
		return fmt.Errorf("relocation section refers to invalid section %d", targetNdx)
	}
	target := b.elf.Sections[targetNdx]
	tdata, err := target.Data()
	if err != nil {
		return wrapErrorf(err, "target section %q", target.Name)
	}

	data, err := s.Data()
	if err != nil {
		return err
	}
	if len(data)%relSize != 0 {
		return errors.New("REL section length is not a multiple of 8")
	}

	rt := &RelaTable{
		TargetNdx: targetNdx,
		Relas:     make([]Rela, 0, len(data)/relSize),
	}
	for off := 0; off < len(data); off += relSize {
		roff := binary.LittleEndian.Uint32(data[off:])
		rinfo := binary.LittleEndian.Uint32(data[off+4:])

		rtype := elf.R_ARM(elf.R_TYPE32(rinfo))
		// The Vita runtime only supports R_ARM_THM_CALL, and R_ARM_THM_JUMP24
		// is functionally the same for this pipeline.
		if rtype == elf.R_ARM_THM_JUMP24 {
			rtype = elf.R_ARM_THM_PC22
		}
		// Thumb B.n from libstdc++. PC-relative and already encoded in the
		// file, so there is nothing to record.
		if rtype == elf.R_ARM_THM_JUMP11 {
			continue
		}

		switch relHandlingOf(rtype) {
		case relIgnore:
			rt.Relas = append(rt.Relas, Rela{Offset: roff, Type: rtype, Sym: -1})
			continue
		case relInvalid:
			return fmt.Errorf("invalid relocation type %d", rtype)
		}

		sym := int(elf.R_SYM32(rinfo))
		if sym >= len(b.Symtab) {
			return fmt.Errorf("REL entry tried to access symbol %d, but only %d symbols loaded", sym, len(b.Symtab))
		}

		insnOff := roff - uint32(target.Addr)
		if insnOff > uint32(len(tdata)) || uint32(len(tdata))-insnOff < 4 {
			return fmt.Errorf("REL entry offset %#x outside target section %q", roff, target.Name)
		}
		insn := binary.LittleEndian.Uint32(tdata[insnOff:])

		tgt := decodeRelTarget(insn, rtype, roff)
		rt.Relas = append(rt.Relas, Rela{
			Offset: roff,
			Type:   rtype,
			Sym:    sym,
			Addend: relAddend(rtype, tgt, b.Symtab[sym].Value),
		})
	}

	b.RelaTables = append([]*RelaTable{rt}, b.RelaTables...)
	return nil
}

// loadRelaTable rejects SHT_RELA sections. The runtime's relocation format
// is derived from REL entries with in-place addends; RELA inputs are not
// produced by the supported toolchains.
func (b *Binary) loadRelaTable(s *elf.Section) error {
	b.warnf("RELA sections currently unsupported")
	return errors.New("RELA sections currently unsupported")
}

func (b *Binary) warnf(format string, a ...interface{}) {
	fmt.Fprintf(b.diag, format+"\n", a...)
}

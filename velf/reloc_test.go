package velf

import (
	"bytes"
	"debug/elf"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The encoders below produce zeroed instructions carrying only the
// immediate fields the decoder reads, so decode(encode(target)) must give
// the target back for every representable value.

func encodeMOVW(imm16 uint32) uint32 {
	return (imm16>>12)<<16 | imm16&0xFFF
}

func encodeTHMMOVW(imm16 uint32) uint32 {
	shuffled := (imm16>>12)<<16 | (imm16>>11&1)<<26 | (imm16>>8&7)<<12 | imm16&0xFF
	return thumbShuffle(shuffled)
}

func encodeCALL(target, addr uint32) uint32 {
	return ((target - addr) >> 2) & 0x00FFFFFF
}

func encodeTHMCALL(target, addr uint32) uint32 {
	off := target - addr
	sign := off >> 24 & 1
	j1 := (off>>23&1 ^ 1) ^ sign
	j2 := (off>>22&1 ^ 1) ^ sign
	upper := sign<<10 | off>>12&0x3FF
	lower := j1<<13 | j2<<11 | off>>1&0x7FF
	return thumbShuffle(upper<<16 | lower)
}

func TestThumbShuffle(t *testing.T) {
	assert.Equal(t, uint32(0x5678_1234), thumbShuffle(0x1234_5678))
	assert.Equal(t, uint32(0x1234_5678), thumbShuffle(thumbShuffle(0x1234_5678)))
}

func TestDecodeRoundTrip(t *testing.T) {
	addr := uint32(0x81038)

	for _, imm := range []uint32{0, 1, 0x1234, 0x8000, 0xDEAD, 0xFFFF} {
		assert.Equal(t, imm, decodeRelTarget(encodeMOVW(imm), elf.R_ARM_MOVW_ABS_NC, addr), "MOVW %#x", imm)
		assert.Equal(t, imm<<16, decodeRelTarget(encodeMOVW(imm), elf.R_ARM_MOVT_ABS, addr), "MOVT %#x", imm)
		assert.Equal(t, imm, decodeRelTarget(encodeTHMMOVW(imm), elf.R_ARM_THM_MOVW_ABS_NC, addr), "THM_MOVW %#x", imm)
		assert.Equal(t, imm<<16, decodeRelTarget(encodeTHMMOVW(imm), elf.R_ARM_THM_MOVT_ABS, addr), "THM_MOVT %#x", imm)
	}

	// Branch targets within the signed 26-bit range, word-aligned.
	for _, target := range []uint32{addr, addr + 4, addr + 0x1FFC, addr - 0x2000, addr + 0x01FFFFFC, addr - 0x02000000} {
		assert.Equal(t, target, decodeRelTarget(encodeCALL(target, addr), elf.R_ARM_CALL, addr), "CALL %#x", target)
		assert.Equal(t, target, decodeRelTarget(encodeCALL(target, addr), elf.R_ARM_JUMP24, addr), "JUMP24 %#x", target)
	}

	// Thumb BL targets within the signed 25-bit range, halfword-aligned.
	for _, target := range []uint32{addr, addr + 2, addr + 0x1FFE, addr - 0x2000, addr + 0x00FFFFFE, addr - 0x01000000} {
		assert.Equal(t, target, decodeRelTarget(encodeTHMCALL(target, addr), elf.R_ARM_THM_PC22, addr), "THM_CALL %#x", target)
	}
}

func TestDecodeTarget(t *testing.T) {
	const addr = 0x82000
	assert.Equal(t, uint32(0xdeadbeef), decodeRelTarget(0, elf.R_ARM_NONE, addr))
	assert.Equal(t, uint32(0xdeadbeef), decodeRelTarget(0x12345678, elf.R_ARM_V4BX, addr))
	assert.Equal(t, uint32(0x00090004), decodeRelTarget(0x00090004, elf.R_ARM_ABS32, addr))
	assert.Equal(t, uint32(0x00090004), decodeRelTarget(0x00090004, elf.R_ARM_TARGET1, addr))
	assert.Equal(t, uint32(0x1000+addr), decodeRelTarget(0x1000, elf.R_ARM_REL32, addr))
	assert.Equal(t, uint32(0x1000+addr), decodeRelTarget(0x1000, elf.R_ARM_TARGET2, addr))
	assert.Equal(t, uint32(0x1000+addr), decodeRelTarget(0x1000, elf.R_ARM_PREL31, addr))
}

func TestRelHandling(t *testing.T) {
	assert.Equal(t, relIgnore, relHandlingOf(elf.R_ARM_NONE))
	assert.Equal(t, relIgnore, relHandlingOf(elf.R_ARM_V4BX))
	assert.Equal(t, relNormal, relHandlingOf(elf.R_ARM_ABS32))
	assert.Equal(t, relNormal, relHandlingOf(elf.R_ARM_THM_PC22))
	assert.Equal(t, relInvalid, relHandlingOf(elf.R_ARM_GOT_PREL))
	assert.Equal(t, relInvalid, relHandlingOf(elf.R_ARM_GLOB_DAT))
}

func TestRelAddendMasks(t *testing.T) {
	// The symbol's low halfword does not belong in a MOVT addend, nor the
	// high halfword in a MOVW addend, nor the THUMB flag bit in a BL addend.
	assert.Equal(t, int32(0), relAddend(elf.R_ARM_MOVT_ABS, 0xDEAD0000, 0xDEAD1234))
	assert.Equal(t, int32(0), relAddend(elf.R_ARM_THM_MOVT_ABS, 0xDEAD0000, 0xDEAD1234))
	assert.Equal(t, int32(0), relAddend(elf.R_ARM_MOVW_ABS_NC, 0x1234, 0xDEAD1234))
	assert.Equal(t, int32(0), relAddend(elf.R_ARM_THM_MOVW_ABS_NC, 0x1234, 0xDEAD1234))
	assert.Equal(t, int32(0), relAddend(elf.R_ARM_THM_PC22, 0x81000, 0x81001))
	assert.Equal(t, int32(4), relAddend(elf.R_ARM_ABS32, 0x90004, 0x90000))
	assert.Equal(t, int32(-8), relAddend(elf.R_ARM_ABS32, 0x8FFF8, 0x90000))
}

// loadTable decodes a REL section built from the given entries against a
// text section with the given contents.
func loadTable(t *testing.T, text []byte, rels ...[]byte) *Binary {
	t.Helper()
	img := buildELF(stdSections(text, stubRecord(1, 2, 3), stdSyms(), bytes.Join(rels, nil)), stdSegments())
	return loadImage(t, img, io.Discard)
}

func TestLoadRelTableABS32(t *testing.T) {
	// Scenario: word 0x00090004 at guest 0x82000 relocated against bar
	// (value 0x90000) carries addend 4.
	b := loadTable(t, word(0x00090004), relEntry(textAddr, 2, elf.R_ARM_ABS32))
	require.Len(t, b.RelaTables, 1)
	rt := b.RelaTables[0]
	assert.Equal(t, tText, rt.TargetNdx)
	require.Len(t, rt.Relas, 1)
	r := rt.Relas[0]
	assert.Equal(t, uint32(textAddr), r.Offset)
	assert.Equal(t, elf.R_ARM_ABS32, r.Type)
	assert.Equal(t, 2, r.Sym)
	assert.Equal(t, int32(4), r.Addend)
}

func TestLoadRelTableMOVWPair(t *testing.T) {
	// movw/movt pair materializing bar2 = 0xDEAD1234; both addends are 0.
	syms := append(stdSyms(), testSym{name: "bar2", value: 0xDEAD1234, bind: elf.STB_GLOBAL, typ: elf.STT_FUNC, shndx: tText})
	text := append(word(encodeMOVW(0x1234)), word(encodeMOVW(0xDEAD))...)
	rels := append(relEntry(textAddr, 3, elf.R_ARM_MOVW_ABS_NC), relEntry(textAddr+4, 3, elf.R_ARM_MOVT_ABS)...)
	img := buildELF(stdSections(text, stubRecord(1, 2, 3), syms, rels), stdSegments())
	b := loadImage(t, img, io.Discard)

	require.Len(t, b.RelaTables, 1)
	relas := b.RelaTables[0].Relas
	require.Len(t, relas, 2)
	assert.Equal(t, elf.R_ARM_MOVW_ABS_NC, relas[0].Type)
	assert.Equal(t, int32(0), relas[0].Addend)
	assert.Equal(t, elf.R_ARM_MOVT_ABS, relas[1].Type)
	assert.Equal(t, int32(0), relas[1].Addend)
}

func TestLoadRelTableNormalizesThumbJump(t *testing.T) {
	// R_ARM_THM_JUMP24 is stored as the Thumb BL type (R_ARM_THM_PC22).
	text := word(encodeTHMCALL(0x90000, textAddr))
	b := loadTable(t, text, relEntry(textAddr, 2, elf.R_ARM_THM_JUMP24))
	require.Len(t, b.RelaTables, 1)
	require.Len(t, b.RelaTables[0].Relas, 1)
	r := b.RelaTables[0].Relas[0]
	assert.Equal(t, elf.R_ARM_THM_PC22, r.Type)
	assert.Equal(t, int32(0), r.Addend)
}

func TestLoadRelTableSkipsThumbPC11(t *testing.T) {
	b := loadTable(t, word(0),
		relEntry(textAddr, 2, elf.R_ARM_THM_JUMP11))
	require.Len(t, b.RelaTables, 1)
	assert.Empty(t, b.RelaTables[0].Relas)
}

func TestLoadRelTableIgnoredEntry(t *testing.T) {
	// V4BX is recorded with its offset but carries no symbol.
	b := loadTable(t, word(0xE12FFF1C), relEntry(textAddr, 0, elf.R_ARM_V4BX))
	require.Len(t, b.RelaTables, 1)
	require.Len(t, b.RelaTables[0].Relas, 1)
	r := b.RelaTables[0].Relas[0]
	assert.Equal(t, elf.R_ARM_V4BX, r.Type)
	assert.Equal(t, uint32(textAddr), r.Offset)
	assert.Equal(t, -1, r.Sym)
}

func TestLoadRelTableInvalidType(t *testing.T) {
	img := buildELF(stdSections(word(0), stubRecord(1, 2, 3), stdSyms(),
		relEntry(textAddr, 2, elf.R_ARM_GOT_PREL)), stdSegments())
	_, err := New(bytes.NewReader(img), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid relocation type")
}

func TestLoadRelTableSymbolOutOfRange(t *testing.T) {
	img := buildELF(stdSections(word(0), stubRecord(1, 2, 3), stdSyms(),
		relEntry(textAddr, 40, elf.R_ARM_ABS32)), stdSegments())
	_, err := New(bytes.NewReader(img), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tried to access symbol 40")
}

func TestLoadRelTableOffsetOutsideTarget(t *testing.T) {
	img := buildELF(stdSections(word(0), stubRecord(1, 2, 3), stdSyms(),
		relEntry(textAddr+0x100, 2, elf.R_ARM_ABS32)), stdSegments())
	_, err := New(bytes.NewReader(img), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside target section")
}

func TestLoadRelTableSymbolIndexInvariant(t *testing.T) {
	text := append(word(0x00090004), word(encodeTHMCALL(0x90000, textAddr+4))...)
	rels := append(relEntry(textAddr, 2, elf.R_ARM_ABS32), relEntry(textAddr+4, 2, elf.R_ARM_THM_PC22)...)
	b := loadTable(t, text, rels)
	for _, rt := range b.RelaTables {
		for _, r := range rt.Relas {
			if r.Sym >= 0 {
				assert.Less(t, r.Sym, len(b.Symtab))
			}
		}
	}
}

func TestRelaTableOrder(t *testing.T) {
	// A second REL section against the stub section; the most recently
	// decoded table comes first, matching the original chain order.
	symdata, strdata := buildSymtab(stdSyms())
	secs := []testSection{
		{name: ".text", typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, addr: textAddr, data: word(0x00090004)},
		{name: fstubsName, typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC, addr: fstubsAddr, data: stubRecord(1, 2, 3)},
		{name: ".symtab", typ: elf.SHT_SYMTAB, link: tStrtab, entsize: elf.Sym32Size, data: symdata},
		{name: ".strtab", typ: elf.SHT_STRTAB, data: strdata},
		{name: ".rel.text", typ: elf.SHT_REL, link: tSymtab, info: tText, entsize: relSize, data: relEntry(textAddr, 2, elf.R_ARM_ABS32)},
		{name: ".rel.vitalink.fstubs", typ: elf.SHT_REL, link: tSymtab, info: tFstubs, entsize: relSize, data: relEntry(fstubsAddr, 1, elf.R_ARM_ABS32)},
	}
	b := loadImage(t, buildELF(secs, stdSegments()), io.Discard)
	require.Len(t, b.RelaTables, 2)
	assert.Equal(t, tFstubs, b.RelaTables[0].TargetNdx)
	assert.Equal(t, tText, b.RelaTables[1].TargetNdx)
}

func TestLoadRejectsRela(t *testing.T) {
	secs := stdSections(word(0), stubRecord(1, 2, 3), stdSyms(), relEntry(textAddr, 2, elf.R_ARM_ABS32))
	secs = append(secs, testSection{
		name: ".rela.text", typ: elf.SHT_RELA, link: tSymtab, info: tText, entsize: 12,
		data: make([]byte, 12),
	})
	var diag bytes.Buffer
	_, err := New(bytes.NewReader(buildELF(secs, stdSegments())), &diag)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELA sections currently unsupported")
	assert.Contains(t, diag.String(), "RELA sections currently unsupported")
}

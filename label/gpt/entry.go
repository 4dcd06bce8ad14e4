package gpt

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/google/uuid"
)

// Entry field offsets within the 128-byte partition record.
const (
	entTypeGUID = 0  // 16 bytes, all-zero means the record is unused
	entGUID     = 16 // 16 bytes, unique partition GUID
	entStart    = 32 // uint64, first LBA
	entEnd      = 40 // uint64, last LBA, inclusive
	entAttrs    = 48 // uint64 bitfield
	entName     = 56 // 72 bytes UTF-16LE, NUL padded

	entryBytes = 128
	nameSlots  = 36 // UTF-16 code units in the name field
)

// Attribute bits defined by UEFI. Bit 2 is what legacy BIOS boot
// loaders treat as the active flag.
const (
	AttrRequired       uint64 = 1 << 0
	AttrNoBlockIO      uint64 = 1 << 1
	AttrLegacyBootable uint64 = 1 << 2
)

// entry is a view of one record in the partition entry array.
type entry []byte

// used reports whether the record holds a partition: any nonzero
// type GUID.
func (e entry) used() bool { return !isZeroGUID(e[entTypeGUID:]) }

func (e entry) typeGUID() Type { return Type(readGUID(e[entTypeGUID:])) }
func (e entry) guid() string   { return readGUID(e[entGUID:]) }
func (e entry) start() uint64  { return binary.LittleEndian.Uint64(e[entStart:]) }
func (e entry) end() uint64    { return binary.LittleEndian.Uint64(e[entEnd:]) }
func (e entry) attrs() uint64  { return binary.LittleEndian.Uint64(e[entAttrs:]) }

func (e entry) setTypeGUID(t Type) error { return putGUID(e[entTypeGUID:], string(t)) }
func (e entry) setGUID(s string) error   { return putGUID(e[entGUID:], s) }
func (e entry) setStart(v uint64)        { binary.LittleEndian.PutUint64(e[entStart:], v) }
func (e entry) setEnd(v uint64)          { binary.LittleEndian.PutUint64(e[entEnd:], v) }
func (e entry) setAttrs(v uint64)        { binary.LittleEndian.PutUint64(e[entAttrs:], v) }

// setRandomGUID gives the partition a fresh unique identifier.
func (e entry) setRandomGUID() {
	u := uuid.New()
	copy(e[entGUID:entGUID+16], u[:])
	swapGUID(e[entGUID : entGUID+16])
}

// sectors is the partition length; both ends are inclusive.
func (e entry) sectors() uint64 {
	if e.end() < e.start() {
		return 0
	}
	return e.end() - e.start() + 1
}

// bootable mirrors the legacy BIOS bootable attribute bit.
func (e entry) bootable() bool { return e.attrs()&AttrLegacyBootable != 0 }

// name decodes the UTF-16LE name field up to the first NUL.
func (e entry) name() string {
	u := make([]uint16, 0, nameSlots)
	for i := 0; i < nameSlots; i++ {
		c := binary.LittleEndian.Uint16(e[entName+2*i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	if len(u) == 0 {
		return ""
	}
	return string(utf16.Decode(u))
}

// setName encodes a partition name into the 36 available UTF-16 code
// units, NUL padding the rest.
func (e entry) setName(s string) error {
	u := utf16.Encode([]rune(s))
	if len(u) > nameSlots {
		return fmt.Errorf("name %q needs %d UTF-16 code units, the entry holds %d", s, len(u), nameSlots)
	}
	for i := 0; i < nameSlots; i++ {
		var c uint16
		if i < len(u) {
			c = u[i]
		}
		binary.LittleEndian.PutUint16(e[entName+2*i:], c)
	}
	return nil
}

// clear zeroes the record, returning it to the unused state.
func (e entry) clear() {
	for i := 0; i < entryBytes; i++ {
		e[i] = 0
	}
}

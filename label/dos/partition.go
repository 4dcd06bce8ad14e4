package dos

import (
	"encoding/binary"

	"github.com/linuxkit/disklabel/geom"
)

// Byte layout of the MBR/EBR sector and its 16-byte partition records.
// The 4-byte LBA fields are not naturally aligned inside the record,
// so every access goes through explicit little-endian byte codecs.
const (
	// entriesStart is where the 4 partition records begin (0x1BE).
	entriesStart = 446
	entrySize    = 16
	numEntries   = 4

	// diskIDOffset holds the 4-byte volume id (0x1B8).
	diskIDOffset = 440

	signatureOffset = 510

	bootActive   = 0x80
	bootInactive = 0x00

	// maxParts bounds the slot array, chain walking stops there.
	maxParts = 60
)

// field offsets within one partition record
const (
	entBoot      = 0
	entHead      = 1
	entSector    = 2
	entCyl       = 3
	entSys       = 4
	entEndHead   = 5
	entEndSector = 6
	entEndCyl    = 7
	entStart     = 8  // 4 bytes, little-endian, unaligned
	entSize      = 12 // 4 bytes, little-endian, unaligned
)

// entry is a 16-byte partition record aliasing its sector buffer, so
// writes through it land in the buffer that Write flushes.
type entry []byte

func (e entry) bootFlag() byte      { return e[entBoot] }
func (e entry) setBootFlag(b byte)  { e[entBoot] = b }
func (e entry) bootable() bool      { return e[entBoot] == bootActive }
func (e entry) sys() Type           { return Type(e[entSys]) }
func (e entry) setSys(t Type)       { e[entSys] = byte(t) }
func (e entry) start() uint32       { return binary.LittleEndian.Uint32(e[entStart : entStart+4]) }
func (e entry) setStart(v uint32)   { binary.LittleEndian.PutUint32(e[entStart:entStart+4], v) }
func (e entry) sectors() uint32     { return binary.LittleEndian.Uint32(e[entSize : entSize+4]) }
func (e entry) setSectors(v uint32) { binary.LittleEndian.PutUint32(e[entSize:entSize+4], v) }

func (e entry) used() bool {
	return e.sys() != Empty
}

func (e entry) allZero() bool {
	for _, b := range e {
		if b != 0 {
			return false
		}
	}
	return true
}

func (e entry) clear() {
	for i := range e {
		e[i] = 0
	}
}

// setCHS fills the advisory begin/end CHS fields from the geometry.
// Addresses past cylinder 1023 are pinned to the last representable
// CHS tuple while the LBA fields stay exact.
func (e entry) setCHS(g *geom.Geometry, start, stop uint64) {
	e[entHead], e[entSector], e[entCyl] = packCHS(g, start)
	e[entEndHead], e[entEndSector], e[entEndCyl] = packCHS(g, stop)
}

// packCHS converts an LBA to the three on-disk CHS bytes: head, sector
// (low 6 bits) with the cylinder's top 2 bits folded into bits 6-7,
// and the cylinder's low 8 bits.
func packCHS(g *geom.Geometry, lba uint64) (head, sector, cyl byte) {
	if spc := g.SectorsPerCylinder(); spc > 0 && lba/spc > 1023 {
		lba = spc*1024 - 1
	}
	c, h, s := g.ToCHS(lba)
	head = byte(h)
	sector = byte(s&0x3f) | byte((c>>2)&0xc0)
	cyl = byte(c & 0xff)
	return head, sector, cyl
}

// slot binds one partition to the sector its table entry lives in.
// The four primary slots all alias the MBR buffer; every logical slot
// owns the buffer of its EBR.
type slot struct {
	// offset is the absolute LBA of the sector the entries live in: 0
	// for primaries, the EBR address for logicals. Entry start fields
	// are relative to it.
	offset uint64
	sector []byte
	// data and link are byte offsets of this slot's two records inside
	// sector. link is -1 when the slot has no link record.
	data int
	link int
	// changed marks the sector for the next Write.
	changed bool
}

func (s *slot) dataEntry() entry {
	if s.data < 0 {
		return nil
	}
	return entry(s.sector[s.data : s.data+entrySize])
}

func (s *slot) linkEntry() entry {
	if s.link < 0 {
		return nil
	}
	return entry(s.sector[s.link : s.link+entrySize])
}

// absStart is the partition's absolute first LBA.
func (s *slot) absStart() uint64 {
	return s.offset + uint64(s.dataEntry().start())
}

// absEnd is the partition's absolute last LBA, inclusive.
func (s *slot) absEnd() uint64 {
	return s.absStart() + uint64(s.dataEntry().sectors()) - 1
}

// hasSignature reports the 0x55 0xAA boot signature in a sector.
func hasSignature(sector []byte) bool {
	return len(sector) >= signatureOffset+2 &&
		sector[signatureOffset] == 0x55 && sector[signatureOffset+1] == 0xAA
}

// stampSignature writes the boot signature into a sector.
func stampSignature(sector []byte) {
	sector[signatureOffset] = 0x55
	sector[signatureOffset+1] = 0xAA
}

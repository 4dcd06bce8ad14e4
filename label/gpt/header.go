package gpt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/linuxkit/disklabel/label"
)

// Header field offsets, per the UEFI specification. The header
// occupies the first 92 bytes of its sector; the rest must read back
// as zeros and is carried along so reads and writes stay
// sector-sized.
const (
	hdrSignature   = 0  // 8 bytes, "EFI PART"
	hdrRevision    = 8  // 4 bytes, 1.0 encoded 00 00 01 00
	hdrSize        = 12 // uint32
	hdrCRC         = 16 // uint32, computed with this field zeroed
	hdrMyLBA       = 24 // uint64, where this copy lives
	hdrAltLBA      = 32 // uint64, where the other copy lives
	hdrFirstUsable = 40 // uint64
	hdrLastUsable  = 48 // uint64, inclusive
	hdrDiskGUID    = 56 // 16 bytes, mixed endian
	hdrEntriesLBA  = 72 // uint64
	hdrEntryCount  = 80 // uint32
	hdrEntrySize   = 84 // uint32
	hdrEntriesCRC  = 88 // uint32

	headerSize = 92
	// "EFI PART" read as a little-endian uint64.
	headerSignature = 0x5452415020494645
	revision1       = 0x00010000

	// The primary header always sits in the sector after the MBR.
	headerLBA = 1

	defaultEntryCount = 128
	// Cap on count*size before an entry array is read, so a corrupt
	// header cannot demand an absurd allocation.
	maxEntryArrayBytes = 4 << 20
)

// header is one GPT header backed by its full on-disk sector.
type header []byte

func (h header) signature() uint64   { return binary.LittleEndian.Uint64(h[hdrSignature:]) }
func (h header) revision() uint32    { return binary.LittleEndian.Uint32(h[hdrRevision:]) }
func (h header) size() uint32        { return binary.LittleEndian.Uint32(h[hdrSize:]) }
func (h header) crc() uint32         { return binary.LittleEndian.Uint32(h[hdrCRC:]) }
func (h header) myLBA() uint64       { return binary.LittleEndian.Uint64(h[hdrMyLBA:]) }
func (h header) altLBA() uint64      { return binary.LittleEndian.Uint64(h[hdrAltLBA:]) }
func (h header) firstUsable() uint64 { return binary.LittleEndian.Uint64(h[hdrFirstUsable:]) }
func (h header) lastUsable() uint64  { return binary.LittleEndian.Uint64(h[hdrLastUsable:]) }
func (h header) diskGUID() string    { return readGUID(h[hdrDiskGUID:]) }
func (h header) entriesLBA() uint64  { return binary.LittleEndian.Uint64(h[hdrEntriesLBA:]) }
func (h header) entryCount() uint32  { return binary.LittleEndian.Uint32(h[hdrEntryCount:]) }
func (h header) entrySize() uint32   { return binary.LittleEndian.Uint32(h[hdrEntrySize:]) }
func (h header) entriesCRC() uint32  { return binary.LittleEndian.Uint32(h[hdrEntriesCRC:]) }

func (h header) setCRC(v uint32)         { binary.LittleEndian.PutUint32(h[hdrCRC:], v) }
func (h header) setMyLBA(v uint64)       { binary.LittleEndian.PutUint64(h[hdrMyLBA:], v) }
func (h header) setAltLBA(v uint64)      { binary.LittleEndian.PutUint64(h[hdrAltLBA:], v) }
func (h header) setFirstUsable(v uint64) { binary.LittleEndian.PutUint64(h[hdrFirstUsable:], v) }
func (h header) setLastUsable(v uint64)  { binary.LittleEndian.PutUint64(h[hdrLastUsable:], v) }
func (h header) setEntriesLBA(v uint64)  { binary.LittleEndian.PutUint64(h[hdrEntriesLBA:], v) }
func (h header) setEntryCount(v uint32)  { binary.LittleEndian.PutUint32(h[hdrEntryCount:], v) }
func (h header) setEntrySize(v uint32)   { binary.LittleEndian.PutUint32(h[hdrEntrySize:], v) }
func (h header) setEntriesCRC(v uint32)  { binary.LittleEndian.PutUint32(h[hdrEntriesCRC:], v) }

func (h header) setDiskGUID(s string) error { return putGUID(h[hdrDiskGUID:], s) }

// checksum computes the header CRC32: the declared header size worth
// of bytes with the crc field zeroed.
func (h header) checksum() uint32 {
	n := h.size()
	if n < headerSize || n > uint32(len(h)) {
		n = headerSize
	}
	buf := make([]byte, n)
	copy(buf, h[:n])
	binary.LittleEndian.PutUint32(buf[hdrCRC:], 0)
	return crc32.ChecksumIEEE(buf)
}

// reseal stores the checksum of the entry array and then the header's
// own CRC. Every mutation ends with a reseal of both headers, so the
// pair always validates between operations.
func (h header) reseal(entries []byte) {
	h.setEntriesCRC(crc32.ChecksumIEEE(entries))
	h.setCRC(h.checksum())
}

// newHeader builds a bare header with the fields the primary and
// backup copies share.
func newHeader(sectorSize uint64) header {
	h := header(make([]byte, sectorSize))
	binary.LittleEndian.PutUint64(h[hdrSignature:], headerSignature)
	binary.LittleEndian.PutUint32(h[hdrRevision:], revision1)
	binary.LittleEndian.PutUint32(h[hdrSize:], headerSize)
	h.setEntryCount(defaultEntryCount)
	h.setEntrySize(entryBytes)
	return h
}

// copyHeader derives one header of a pair from the other: LBAs
// swapped, everything else shared, with the entry array placed at LBA
// 2 for the primary and immediately below the header for the backup.
func copyHeader(src header, sectorSize uint64) header {
	h := header(make([]byte, sectorSize))
	copy(h[:headerSize], src[:headerSize])
	h.setMyLBA(src.altLBA())
	h.setAltLBA(src.myLBA())
	if h.myLBA() == headerLBA {
		h.setEntriesLBA(2)
	} else {
		esects := entrySectors(uint64(src.entryCount()), uint64(src.entrySize()), sectorSize)
		lba := uint64(0)
		if h.myLBA() > esects {
			lba = h.myLBA() - esects
		}
		h.setEntriesLBA(lba)
	}
	return h
}

// entrySectors is how many sectors one copy of the entry array takes.
func entrySectors(count, size, sectorSize uint64) uint64 {
	return (count*size + sectorSize - 1) / sectorSize
}

// validateHeader runs every check a header must pass before it is
// trusted: signature, declared size, self CRC, usable-range sanity
// against the device, and the LBA it claims to live at. A CRC
// mismatch is retried once with the entry-array checksum recomputed
// from entries; that recovers a header whose stored array checksum
// went stale without blessing any other corruption.
func validateHeader(dev *label.Device, h header, lba uint64, entries []byte) error {
	if h.signature() != headerSignature {
		return fmt.Errorf("sector %d of %s has no GPT header signature", lba, dev.Name)
	}
	if n := h.size(); n < headerSize || uint64(n) > dev.SectorSize {
		return fmt.Errorf("header at sector %d of %s declares size %d, outside [%d, %d]: %w",
			lba, dev.Name, n, headerSize, dev.SectorSize, label.ErrCorrupt)
	}
	if h.crc() != h.checksum() {
		repaired := false
		if entries != nil {
			scratch := append(header(nil), h...)
			scratch.setEntriesCRC(crc32.ChecksumIEEE(entries))
			if scratch.crc() == scratch.checksum() {
				h.setEntriesCRC(crc32.ChecksumIEEE(entries))
				repaired = true
			}
		}
		if !repaired {
			return fmt.Errorf("header at sector %d of %s fails its CRC check: %w", lba, dev.Name, label.ErrCorrupt)
		}
	}
	fu, lu := h.firstUsable(), h.lastUsable()
	if lu < fu {
		return fmt.Errorf("header at sector %d of %s: last usable sector %d is before first usable %d: %w",
			lba, dev.Name, lu, fu, label.ErrCorrupt)
	}
	if lu > dev.LastLBA() {
		return fmt.Errorf("header at sector %d of %s: usable range ends at %d, past the last sector %d: %w",
			lba, dev.Name, lu, dev.LastLBA(), label.ErrCorrupt)
	}
	if my := h.myLBA(); my >= fu && my <= lu {
		return fmt.Errorf("header at sector %d of %s sits inside its own usable range [%d, %d]: %w",
			lba, dev.Name, fu, lu, label.ErrCorrupt)
	}
	if h.myLBA() != lba {
		return fmt.Errorf("header at sector %d of %s claims to live at sector %d: %w",
			lba, dev.Name, h.myLBA(), label.ErrCorrupt)
	}
	return nil
}

// readEntries pulls in the entry array a header points at, bounding
// the geometry fields before trusting them.
func readEntries(dev *label.Device, h header) ([]byte, error) {
	count := uint64(h.entryCount())
	esize := uint64(h.entrySize())
	if count == 0 || esize < entryBytes || count*esize > maxEntryArrayBytes {
		return nil, fmt.Errorf("header on %s declares an entry array of %d entries of %d bytes: %w",
			dev.Name, count, esize, label.ErrCorrupt)
	}
	lba := h.entriesLBA()
	if lba == 0 || lba >= dev.TotalSectors ||
		lba+entrySectors(count, esize, dev.SectorSize) > dev.TotalSectors {
		return nil, fmt.Errorf("header on %s places the entry array at sector %d, outside the device: %w",
			dev.Name, lba, label.ErrCorrupt)
	}
	b := make([]byte, count*esize)
	if err := dev.ReadAtLBA(lba, b); err != nil {
		return nil, err
	}
	return b, nil
}

// readHeader reads and validates the header at the given LBA together
// with the entry array it points at.
func readHeader(dev *label.Device, lba uint64) (header, []byte, error) {
	h := header(make([]byte, dev.SectorSize))
	if err := dev.ReadAtLBA(lba, h); err != nil {
		return nil, nil, err
	}
	// the shape checks run first so the entry geometry can be trusted
	// enough to read the array the CRC retry needs
	if h.signature() != headerSignature {
		return nil, nil, fmt.Errorf("sector %d of %s has no GPT header signature", lba, dev.Name)
	}
	entries, err := readEntries(dev, h)
	if err != nil {
		return nil, nil, err
	}
	if err := validateHeader(dev, h, lba, entries); err != nil {
		return nil, nil, err
	}
	if crc32.ChecksumIEEE(entries) != h.entriesCRC() {
		return nil, nil, fmt.Errorf("partition entry array at sector %d of %s fails its CRC check: %w",
			h.entriesLBA(), dev.Name, label.ErrCorrupt)
	}
	return h, entries, nil
}

// Package dos reads, edits and writes DOS/MBR partition tables,
// including the linked chain of Extended Boot Records that carries
// logical partitions.
package dos

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel/geom"
	"github.com/linuxkit/disklabel/label"
)

// Table is a DOS partition table bound to a device. Slots 0-3 are the
// primary records in the MBR; slots 4 and up are the logical
// partitions found by walking the extended chain, in chain order.
type Table struct {
	dev *label.Device
	mbr []byte
	// slots aliases: the first four share the mbr buffer, the rest own
	// their EBR's buffer.
	slots []*slot
	// extIndex is the primary slot holding the extended container, -1
	// when there is none. extOffset is the absolute LBA of the first
	// EBR and the base every link record's start field is relative to.
	extIndex  int
	extOffset uint64
	// mbrChanged marks MBR edits outside any slot, like a fresh label
	// or disk id.
	mbrChanged bool
}

// Kind identifies the table as DOS.
func (t *Table) Kind() label.Kind { return label.DOS }

// HasSignature reports whether a first sector ends in the 0x55 0xAA
// boot signature. A GPT protective MBR carries it too, so GPT must be
// probed first.
func HasSignature(sector []byte) bool { return hasSignature(sector) }

// UUID returns the 32-bit volume id in fdisk's 0x%08x form.
func (t *Table) UUID() string {
	return fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(t.mbr[diskIDOffset:diskIDOffset+4]))
}

// Create initializes a fresh empty DOS label in memory: cleared
// primary records, a random volume id and the boot signature. Nothing
// is written until Write.
func Create(dev *label.Device) *Table {
	ensureGeometry(dev)
	if dev.TotalSectors-1 > math.MaxUint32 {
		log.Warnf("%s has %d sectors but a DOS label can only address %d, consider GPT", dev.Name, dev.TotalSectors, uint64(math.MaxUint32)+1)
	}
	t := &Table{
		dev:        dev,
		mbr:        make([]byte, dev.SectorSize),
		extIndex:   -1,
		mbrChanged: true,
	}
	stampSignature(t.mbr)
	id := uuid.New()
	copy(t.mbr[diskIDOffset:diskIDOffset+4], id[0:4])
	t.bindPrimaries()
	log.Debugf("created DOS label on %s with disk identifier %s", dev.Name, t.UUID())
	return t
}

func (t *Table) bindPrimaries() {
	t.slots = make([]*slot, numEntries, maxParts)
	for i := 0; i < numEntries; i++ {
		t.slots[i] = &slot{
			offset: 0,
			sector: t.mbr,
			data:   entriesStart + i*entrySize,
			link:   -1,
		}
	}
}

func ensureGeometry(dev *label.Device) {
	if dev.Geometry == nil {
		dev.Geometry = geom.NewGeometry(geom.Topology{}, dev.TotalSectors)
	}
	if dev.Align == nil {
		dev.Align = geom.NewAlignment(geom.Topology{SectorSize: dev.SectorSize}, dev.TotalSectors)
	}
}

// Read parses the MBR at LBA 0 and walks the extended chain.
func Read(dev *label.Device) (*Table, error) {
	ensureGeometry(dev)
	mbr, err := dev.ReadSector(0)
	if err != nil {
		return nil, err
	}
	if !hasSignature(mbr) {
		return nil, fmt.Errorf("%s has no DOS boot signature", dev.Name)
	}
	t := &Table{dev: dev, mbr: mbr, extIndex: -1}
	t.bindPrimaries()

	for i := 0; i < numEntries; i++ {
		e := t.slots[i].dataEntry()
		if f := e.bootFlag(); f != bootActive && f != bootInactive {
			log.Warnf("partition %d on %s has garbage boot indicator 0x%02x", i+1, dev.Name, f)
		}
		if !e.sys().IsExtended() {
			continue
		}
		if t.extIndex >= 0 {
			log.Warnf("ignoring extra extended partition %d on %s", i+1, dev.Name)
			continue
		}
		t.extIndex = i
		// the extended primary is its own link record
		t.slots[i].link = t.slots[i].data
	}

	if t.extIndex >= 0 {
		if err := t.readChain(); err != nil {
			return nil, err
		}
	}
	t.dropEmptyLogicals()
	return t, nil
}

// readChain follows the EBR list rooted at the extended primary. Each
// EBR contributes one slot holding at most one data record and one
// link record; duplicates are reported and the first kept, missing
// roles fall back to record position. The walk stops at maxParts,
// clearing the last retained link so a later Write does not resurrect
// the discarded tail.
func (t *Table) readChain() error {
	link := t.slots[t.extIndex].linkEntry()
	if link.start() == 0 {
		log.Warnf("bad offset in primary extended partition on %s", t.dev.Name)
		return nil
	}

	for link.sys().IsExtended() {
		if len(t.slots) >= maxParts {
			log.Warnf("omitting partitions after #%d on %s, they will be deleted if the table is written", len(t.slots), t.dev.Name)
			prev := t.slots[len(t.slots)-1]
			prev.linkEntry().clear()
			prev.changed = true
			return nil
		}

		here := t.extOffset + uint64(link.start())
		sector, err := t.dev.ReadSector(here)
		if err != nil {
			return err
		}
		if t.extOffset == 0 {
			// first EBR, its address is the base of all link offsets
			t.extOffset = uint64(link.start())
		}

		s := &slot{offset: here, sector: sector, data: -1, link: -1}
		for i := 0; i < numEntries; i++ {
			off := entriesStart + i*entrySize
			e := entry(sector[off : off+entrySize])
			if !e.used() {
				continue
			}
			if e.sys().IsExtended() {
				if s.link >= 0 {
					log.Warnf("extra link pointer in partition table %d on %s", len(t.slots)+1, t.dev.Name)
				} else {
					s.link = off
				}
			} else if e.start() != 0 || e.sectors() != 0 {
				if s.data >= 0 {
					log.Warnf("ignoring extra data in partition table %d on %s", len(t.slots)+1, t.dev.Name)
				} else {
					s.data = off
				}
			}
		}
		// no record claimed a role: fall back to position, first record
		// for data and second for link, skipping whichever is taken
		if s.data < 0 {
			if s.link != entriesStart {
				s.data = entriesStart
			} else {
				s.data = entriesStart + entrySize
			}
		}
		if s.link < 0 {
			if s.data != entriesStart {
				s.link = entriesStart
			} else {
				s.link = entriesStart + entrySize
			}
		}

		t.slots = append(t.slots, s)
		link = s.linkEntry()
	}
	return nil
}

// dropEmptyLogicals removes zero-length logicals left behind by other
// tools. A single empty slot 4 with nothing chained behind it is kept,
// matching the interactive tools this format grew up with.
func (t *Table) dropEmptyLogicals() {
	for len(t.slots) > numEntries {
		removed := false
		q := t.slots[numEntries].dataEntry()
		for i := numEntries; i < len(t.slots); i++ {
			e := t.slots[i].dataEntry()
			if e.sectors() == 0 && (len(t.slots) > numEntries+1 || q.sys() != Empty) {
				log.Debugf("omitting empty partition (%d) on %s", i+1, t.dev.Name)
				t.deleteSlot(i)
				removed = true
				break
			}
		}
		if !removed {
			return
		}
	}
}

// Partitions lists every used entry in slot order.
func (t *Table) Partitions() []label.Row {
	rows := []label.Row{}
	for i, s := range t.slots {
		e := s.dataEntry()
		if e == nil || !e.used() {
			continue
		}
		start := s.absStart()
		sects := uint64(e.sectors())
		end := start
		if sects > 0 {
			end = start + sects - 1
		}
		rows = append(rows, label.Row{
			Number:   i + 1,
			Start:    start,
			End:      end,
			Sectors:  sects,
			Size:     sects * t.dev.SectorSize,
			Type:     e.sys().Name(),
			TypeID:   e.sys().String(),
			Bootable: e.bootable(),
			Logical:  i >= numEntries,
		})
	}
	return rows
}

// SetType changes a partition's system id. Converting between
// extended and non-extended types is refused, matching every DOS tool:
// the chain structure depends on it.
func (t *Table) SetType(index int, typeID string) error {
	if index < 0 || index >= len(t.slots) {
		return fmt.Errorf("partition %d: %w", index+1, label.ErrNoPartition)
	}
	e := t.slots[index].dataEntry()
	if !e.used() {
		return fmt.Errorf("partition %d is not defined: %w", index+1, label.ErrNoPartition)
	}
	typ, err := ParseType(typeID)
	if err != nil {
		return err
	}
	if typ == Empty {
		return fmt.Errorf("type 0x00 means free space, delete partition %d instead", index+1)
	}
	if typ.IsExtended() != e.sys().IsExtended() {
		return fmt.Errorf("cannot change partition %d between extended and non-extended, delete it first", index+1)
	}
	e.setSys(typ)
	t.slots[index].changed = true
	return nil
}

// Write flushes every changed sector: the MBR once if any primary slot
// or the buffer itself changed, then each changed EBR, each stamped
// with the boot signature first. Sectors that did not change are left
// byte-identical.
func (t *Table) Write() error {
	mbrChanged := t.mbrChanged
	for i := 0; i < numEntries; i++ {
		if t.slots[i].changed {
			mbrChanged = true
		}
	}
	if mbrChanged {
		stampSignature(t.mbr)
		if err := t.dev.WriteSector(0, t.mbr); err != nil {
			return err
		}
	}
	for _, s := range t.slots[numEntries:] {
		if !s.changed || s.offset == 0 || s.sector == nil {
			continue
		}
		stampSignature(s.sector)
		if err := t.dev.WriteSector(s.offset, s.sector); err != nil {
			return err
		}
	}
	t.mbrChanged = false
	for _, s := range t.slots {
		s.changed = false
	}
	return nil
}

// bounds returns each slot's allocated range. Unused slots and the
// extended container get an empty inverted range so nothing tests
// inside them; a zero-length entry yields [start, start-1], also
// empty.
func (t *Table) bounds() (first, last []uint64) {
	first = make([]uint64, len(t.slots))
	last = make([]uint64, len(t.slots))
	for i, s := range t.slots {
		e := s.dataEntry()
		if e == nil || !e.used() || e.sys().IsExtended() {
			first[i] = ^uint64(0)
			last[i] = 0
			continue
		}
		first[i] = s.absStart()
		last[i] = s.absEnd()
	}
	return first, last
}

// Verify cross-checks the table and accumulates diagnostics: ranges
// beyond the device, overlaps, logicals outside the extended
// container, garbage boot flags and misordering. With no findings it
// fills in the usage summary instead.
func (t *Table) Verify() *label.VerifyResult {
	res := &label.VerifyResult{}
	first, last := t.bounds()
	total := t.dev.TotalSectors

	// the MBR sector itself
	allocated := uint64(1)
	inUse := 0
	for i, s := range t.slots {
		e := s.dataEntry()
		if !e.used() {
			if i >= numEntries && (i != numEntries || i+1 < len(t.slots)) {
				res.Addf([]int{i + 1}, "logical partition %d is empty", i+1)
			}
			continue
		}
		inUse++
		if f := e.bootFlag(); f != bootActive && f != bootInactive {
			res.Addf([]int{i + 1}, "partition %d has garbage boot indicator 0x%02x", i+1, f)
		}
		if e.sys().IsExtended() {
			continue
		}
		if last[i] >= total {
			res.Addf([]int{i + 1}, "partition %d ends at sector %d beyond the last sector %d", i+1, last[i], total-1)
		}
		allocated += last[i] + 1 - first[i]
		for j := 0; j < i; j++ {
			if (first[i] >= first[j] && first[i] <= last[j]) ||
				(last[i] <= last[j] && last[i] >= first[j]) {
				res.Addf([]int{j + 1, i + 1}, "partition %d overlaps partition %d", j+1, i+1)
			}
		}
	}

	if t.extOffset != 0 && t.extIndex >= 0 {
		ext := t.slots[t.extIndex]
		extLast := ext.absStart() + uint64(ext.dataEntry().sectors()) - 1
		for i := numEntries; i < len(t.slots); i++ {
			allocated++ // the EBR sector
			e := t.slots[i].dataEntry()
			if !e.used() {
				continue
			}
			if first[i] < t.extOffset || last[i] > extLast {
				res.Addf([]int{i + 1, t.extIndex + 1}, "logical partition %d not entirely inside partition %d", i+1, t.extIndex+1)
			}
		}
	}

	if i, k, wrong := t.wrongOrder(); wrong {
		res.Addf([]int{k + 1, i + 1}, "partition %d starts before partition %d, table order is wrong", i+1, k+1)
	}
	if allocated > total {
		res.Addf(nil, "total allocated sectors %d greater than the maximum %d", allocated, total)
	}

	if res.Ok() {
		res.InUse = inUse
		res.FreeSectors = total - allocated
	}
	return res
}

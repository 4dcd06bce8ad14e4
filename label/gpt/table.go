// Package gpt reads, edits and writes GUID partition tables: the
// protective MBR in front, the primary and backup headers, and the
// CRC32-protected partition entry array the two headers share.
package gpt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel/geom"
	"github.com/linuxkit/disklabel/label"
)

// PMBRKind classifies the legacy MBR sector in front of a GPT.
type PMBRKind int

const (
	// PMBRNone means no usable protective MBR was found.
	PMBRNone PMBRKind = iota
	// PMBRProtective is the standard single 0xEE record spanning the
	// disk.
	PMBRProtective
	// PMBRHybrid carries live legacy records next to the 0xEE one.
	// Writes leave such an MBR alone.
	PMBRHybrid
)

func (k PMBRKind) String() string {
	switch k {
	case PMBRProtective:
		return "protective"
	case PMBRHybrid:
		return "hybrid"
	default:
		return "none"
	}
}

// The slice of the legacy MBR sector the partition records live in.
const (
	mbrEntriesStart    = 446
	mbrEntrySize       = 16
	mbrSignatureOffset = 510
	protectiveType     = 0xEE
)

// Table is a GPT bound to a device: both header sectors, the entry
// array they share, and the legacy MBR sector kept around for boot
// code and hybrid records.
type Table struct {
	dev     *label.Device
	mbr     []byte
	pmbr    PMBRKind
	primary header
	backup  header
	entries []byte
	// synthesized marks a backup rebuilt in memory from the primary
	// because the on-disk copy failed validation.
	synthesized bool
}

// Kind identifies the table as GPT.
func (t *Table) Kind() label.Kind { return label.GPT }

// PMBR reports how the legacy MBR in front of the table is laid out.
func (t *Table) PMBR() PMBRKind { return t.pmbr }

// UUID returns the disk GUID.
func (t *Table) UUID() string { return t.primary.diskGUID() }

func ensureAlign(dev *label.Device) {
	if dev.Align == nil {
		dev.Align = geom.NewAlignment(geom.Topology{SectorSize: dev.SectorSize}, dev.TotalSectors)
	}
}

// classifyPMBR checks a first sector for the 0xEE record a GPT hides
// behind, and for the live legacy records that would make it hybrid.
func classifyPMBR(sector []byte) PMBRKind {
	if len(sector) < mbrSignatureOffset+2 ||
		sector[mbrSignatureOffset] != 0x55 || sector[mbrSignatureOffset+1] != 0xAA {
		return PMBRNone
	}
	kind := PMBRNone
	for i := 0; i < 4; i++ {
		rec := sector[mbrEntriesStart+i*mbrEntrySize:]
		if rec[4] == protectiveType && binary.LittleEndian.Uint32(rec[8:12]) == 1 {
			kind = PMBRProtective
			break
		}
	}
	if kind == PMBRNone {
		return kind
	}
	for i := 0; i < 4; i++ {
		rec := sector[mbrEntriesStart+i*mbrEntrySize:]
		if rec[4] != protectiveType && rec[4] != 0x00 {
			kind = PMBRHybrid
		}
	}
	return kind
}

// writeProtectiveMBR lays the 0xEE record over a first sector,
// keeping whatever boot code precedes the record area. The record
// starts at LBA 1 and spans the disk, capped at the 32-bit limit.
func writeProtectiveMBR(sector []byte, totalSectors uint64) {
	for i := mbrEntriesStart; i < mbrSignatureOffset; i++ {
		sector[i] = 0
	}
	sector[mbrSignatureOffset] = 0x55
	sector[mbrSignatureOffset+1] = 0xAA

	rec := sector[mbrEntriesStart:]
	rec[2] = 2 // CHS of LBA 1: cylinder 0, head 0, sector 2
	rec[4] = protectiveType
	rec[5] = 0xFF // end CHS pinned at the addressing limit
	rec[6] = 0xFF
	rec[7] = 0xFF
	binary.LittleEndian.PutUint32(rec[8:12], 1)
	size := totalSectors - 1
	if size > 0xFFFFFFFF {
		size = 0xFFFFFFFF
	}
	binary.LittleEndian.PutUint32(rec[12:16], uint32(size))
}

// Create initializes a fresh GPT in memory: a protective MBR, primary
// and backup headers, a zeroed 128-record entry array and a random
// disk GUID. Nothing is written until Write.
func Create(dev *label.Device) (*Table, error) {
	ensureAlign(dev)
	if dev.SectorSize < mbrSignatureOffset+2 {
		return nil, fmt.Errorf("sector size %d of %s cannot hold a GPT", dev.SectorSize, dev.Name)
	}
	esects := entrySectors(defaultEntryCount, entryBytes, dev.SectorSize)
	if dev.TotalSectors < 2*esects+5 {
		return nil, fmt.Errorf("%s has %d sectors, too small for a GPT and its backup", dev.Name, dev.TotalSectors)
	}

	t := &Table{
		dev:     dev,
		mbr:     make([]byte, dev.SectorSize),
		pmbr:    PMBRProtective,
		entries: make([]byte, defaultEntryCount*entryBytes),
	}
	writeProtectiveMBR(t.mbr, dev.TotalSectors)

	p := newHeader(dev.SectorSize)
	p.setMyLBA(headerLBA)
	p.setAltLBA(dev.LastLBA())
	p.setFirstUsable(2 + esects)
	p.setLastUsable(dev.TotalSectors - 2 - esects)
	p.setEntriesLBA(2)
	if err := p.setDiskGUID(uuid.New().String()); err != nil {
		return nil, err
	}
	t.primary = p
	t.backup = copyHeader(p, dev.SectorSize)
	t.reseal()
	log.Debugf("created GPT label on %s with disk identifier %s", dev.Name, t.UUID())
	return t, nil
}

// Read parses the protective MBR, the primary header at LBA 1 and the
// entry array, then picks up the backup header. A backup that fails
// validation is rebuilt from the primary with a warning; a primary
// that fails rejects the whole table.
func Read(dev *label.Device) (*Table, error) {
	ensureAlign(dev)
	mbr, err := dev.ReadSector(0)
	if err != nil {
		return nil, err
	}
	pmbr := classifyPMBR(mbr)
	if pmbr == PMBRNone {
		return nil, fmt.Errorf("%s has no protective MBR", dev.Name)
	}

	primary, entries, err := readHeader(dev, headerLBA)
	if err != nil {
		return nil, err
	}
	t := &Table{
		dev:     dev,
		mbr:     mbr,
		pmbr:    pmbr,
		primary: primary,
		entries: entries,
	}

	blba := primary.altLBA()
	if blba == 0 || blba >= dev.TotalSectors {
		blba = dev.LastLBA()
	}
	backup, _, err := readHeader(dev, blba)
	if err != nil {
		log.Warnf("the backup GPT table on %s is corrupt, but the primary appears OK, so that will be used: %v", dev.Name, err)
		backup = copyHeader(primary, dev.SectorSize)
		backup.reseal(entries)
		t.synthesized = true
	}
	t.backup = backup
	log.Debugf("read GPT label on %s: %s MBR, disk identifier %s, %d of %d records used",
		dev.Name, pmbr, t.UUID(), t.inUse(), primary.entryCount())
	return t, nil
}

// entry returns the i-th record. The stride comes from the header so
// arrays with oversized records stay addressable.
func (t *Table) entry(i int) entry {
	off := i * int(t.primary.entrySize())
	return entry(t.entries[off : off+entryBytes])
}

// inUse counts the used records.
func (t *Table) inUse() int {
	n := 0
	for i := 0; i < int(t.primary.entryCount()); i++ {
		if t.entry(i).used() {
			n++
		}
	}
	return n
}

// firstUnused returns the lowest free record index, -1 when the array
// is full.
func (t *Table) firstUnused() int {
	for i := 0; i < int(t.primary.entryCount()); i++ {
		if !t.entry(i).used() {
			return i
		}
	}
	return -1
}

// reseal recomputes the entry-array checksum into both headers and
// then their own CRCs. Every mutation funnels through here.
func (t *Table) reseal() {
	t.primary.reseal(t.entries)
	t.backup.reseal(t.entries)
}

func (t *Table) rowFor(i int) label.Row {
	e := t.entry(i)
	return label.Row{
		Number:   i + 1,
		Start:    e.start(),
		End:      e.end(),
		Sectors:  e.sectors(),
		Size:     e.sectors() * t.dev.SectorSize,
		Type:     e.typeGUID().Name(),
		TypeID:   string(e.typeGUID()),
		UUID:     e.guid(),
		Name:     e.name(),
		Attrs:    e.attrs(),
		Bootable: e.bootable(),
	}
}

// Partitions lists the used records. Numbers are slot positions,
// 1-based, so deleting a partition never renumbers the others.
func (t *Table) Partitions() []label.Row {
	var rows []label.Row
	for i := 0; i < int(t.primary.entryCount()); i++ {
		if t.entry(i).used() {
			rows = append(rows, t.rowFor(i))
		}
	}
	return rows
}

// findFirstAvailable walks a candidate start sector forward past
// every record that contains it until it sits in free space, starting
// no lower than the first usable sector. Records are not assumed
// sorted, so the walk repeats until a full pass moves nothing.
// Returns 0 when no free sector exists at or after start.
func (t *Table) findFirstAvailable(start uint64) uint64 {
	fu, lu := t.primary.firstUsable(), t.primary.lastUsable()
	first := start
	if first < fu {
		first = fu
	}
	for {
		moved := false
		for i := 0; i < int(t.primary.entryCount()); i++ {
			e := t.entry(i)
			if !e.used() {
				continue
			}
			if first >= e.start() && first <= e.end() {
				first = e.end() + 1
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	if first < fu || first > lu {
		return 0
	}
	return first
}

// findLastFree returns the last sector of the free run start sits in:
// one before the nearest record beginning after start, or the last
// usable sector.
func (t *Table) findLastFree(start uint64) uint64 {
	nearest := t.primary.lastUsable()
	for i := 0; i < int(t.primary.entryCount()); i++ {
		e := t.entry(i)
		if !e.used() {
			continue
		}
		if ps := e.start(); nearest > ps && ps > start {
			nearest = ps - 1
		}
	}
	return nearest
}

// findLastFreeSector is the highest unallocated sector on the disk.
func (t *Table) findLastFreeSector() uint64 {
	last := t.primary.lastUsable()
	for {
		moved := false
		for i := 0; i < int(t.primary.entryCount()); i++ {
			e := t.entry(i)
			if !e.used() || e.start() == 0 {
				continue
			}
			if last >= e.start() && last <= e.end() {
				last = e.start() - 1
				moved = true
			}
		}
		if !moved {
			return last
		}
	}
}

// findFirstInLargest returns the first sector of the largest free
// run, 0 when the disk is fully allocated.
func (t *Table) findFirstInLargest() uint64 {
	var start, bestStart, bestSize uint64
	for {
		first := t.findFirstAvailable(start)
		if first == 0 {
			break
		}
		last := t.findLastFree(first)
		if size := last - first + 1; size > bestSize {
			bestSize = size
			bestStart = first
		}
		start = last + 1
	}
	return bestStart
}

// freeSectors totals the free runs: sectors overall, number of runs,
// and the size of the largest.
func (t *Table) freeSectors() (total uint64, segments int, largest uint64) {
	var start uint64
	for {
		first := t.findFirstAvailable(start)
		if first == 0 {
			return total, segments, largest
		}
		last := t.findLastFree(first)
		size := last - first + 1
		total += size
		segments++
		if size > largest {
			largest = size
		}
		start = last + 1
	}
}

// Add creates a partition. With a negative index it picks the first
// unused record. Zero Start/End ask for defaults: the aligned start
// of the largest free run, through the end of that run. req.Ask, when
// set, reviews both proposals.
func (t *Table) Add(req label.AddRequest) (label.Row, error) {
	typ := LinuxFilesystem
	if req.Type != "" {
		var err error
		typ, err = ParseType(req.Type)
		if err != nil {
			return label.Row{}, err
		}
	}
	if typ == Unused {
		return label.Row{}, fmt.Errorf("the zero GUID means an unused record, not a partition type")
	}

	n := req.Index
	if n < 0 {
		n = t.firstUnused()
		if n < 0 {
			return label.Row{}, fmt.Errorf("all %d partition records are in use: %w",
				t.primary.entryCount(), label.ErrNoFreeSlots)
		}
	}
	if n >= int(t.primary.entryCount()) {
		return label.Row{}, fmt.Errorf("partition %d: %w", n+1, label.ErrNoPartition)
	}
	e := t.entry(n)
	if e.used() {
		return label.Row{}, fmt.Errorf("partition %d is already defined, delete it before re-adding: %w",
			n+1, label.ErrExists)
	}

	diskFirst := t.findFirstAvailable(t.primary.firstUsable())
	if diskFirst == 0 {
		return label.Row{}, fmt.Errorf("no free sectors left on %s: %w", t.dev.Name, label.ErrNoFreeSectors)
	}
	diskLast := t.findLastFreeSector()

	// the default proposal is the largest free run
	dfltStart := t.findFirstInLargest()
	dfltStart = t.dev.Align.AlignInRange(dfltStart, dfltStart, t.findLastFree(dfltStart))

	start := dfltStart
	if req.Start != 0 {
		start = req.Start
	} else if req.Ask != nil {
		answer, err := req.Ask("First sector", dfltStart, diskFirst, diskLast)
		if err != nil {
			return label.Row{}, err
		}
		start = answer
	}
	// holds for the default too: aligning can drag a proposal out of
	// its free run and into an allocated one
	if t.findFirstAvailable(start) != start {
		return label.Row{}, fmt.Errorf("sector %d is already allocated: %w", start, label.ErrSectorUsed)
	}

	limit := t.findLastFree(start)
	stop := limit
	if req.End != 0 {
		if req.End < start || req.End > limit {
			return label.Row{}, fmt.Errorf("last sector %d outside free segment [%d, %d]", req.End, start, limit)
		}
		stop = req.End
	} else if req.Ask != nil {
		answer, err := req.Ask("Last sector", stop, start, limit)
		if err != nil {
			return label.Row{}, err
		}
		if answer < start || answer > limit {
			return label.Row{}, fmt.Errorf("last sector %d outside free segment [%d, %d]", answer, start, limit)
		}
		stop = answer
	}

	if err := e.setTypeGUID(typ); err != nil {
		return label.Row{}, err
	}
	e.setStart(start)
	e.setEnd(stop)
	e.setRandomGUID()
	if req.Name != "" {
		if err := e.setName(req.Name); err != nil {
			e.clear()
			return label.Row{}, err
		}
	}
	attrs := req.Attrs
	if req.Bootable {
		attrs |= AttrLegacyBootable
	}
	e.setAttrs(attrs)

	t.reseal()
	return t.rowFor(n), nil
}

// Delete zeroes a partition record. Numbers stay stable: later
// records keep their slots.
func (t *Table) Delete(index int) error {
	if index < 0 || index >= int(t.primary.entryCount()) {
		return fmt.Errorf("partition %d: %w", index+1, label.ErrNoPartition)
	}
	e := t.entry(index)
	if !e.used() {
		return fmt.Errorf("partition %d is not defined: %w", index+1, label.ErrNoPartition)
	}
	e.clear()
	t.reseal()
	return nil
}

// SetType changes a partition's type GUID.
func (t *Table) SetType(index int, typeID string) error {
	if index < 0 || index >= int(t.primary.entryCount()) {
		return fmt.Errorf("partition %d: %w", index+1, label.ErrNoPartition)
	}
	e := t.entry(index)
	if !e.used() {
		return fmt.Errorf("partition %d is not defined: %w", index+1, label.ErrNoPartition)
	}
	typ, err := ParseType(typeID)
	if err != nil {
		return err
	}
	if typ == Unused {
		return fmt.Errorf("the zero GUID would mark partition %d unused, delete it instead", index+1)
	}
	if err := e.setTypeGUID(typ); err != nil {
		return err
	}
	t.reseal()
	return nil
}

// overlappingPair returns the first two used records whose sector
// ranges intersect, 1-based.
func (t *Table) overlappingPair() (int, int, bool) {
	n := int(t.primary.entryCount())
	for i := 0; i < n; i++ {
		ei := t.entry(i)
		if !ei.used() || ei.start() == 0 {
			continue
		}
		for j := 0; j < i; j++ {
			ej := t.entry(j)
			if !ej.used() || ej.start() == 0 {
				continue
			}
			if ei.start() <= ej.end() && ej.start() <= ei.end() {
				return j + 1, i + 1, true
			}
		}
	}
	return 0, 0, false
}

// Verify cross-checks both headers and every used record,
// accumulating diagnostics. With nothing wrong it fills in the usage
// summary instead.
func (t *Table) Verify() *label.VerifyResult {
	res := &label.VerifyResult{}
	dev := t.dev

	if t.synthesized {
		res.Addf(nil, "disk does not contain a valid backup header")
	}
	if t.primary.crc() != t.primary.checksum() {
		res.Addf(nil, "invalid primary header CRC checksum")
	}
	if t.backup.crc() != t.backup.checksum() {
		res.Addf(nil, "invalid backup header CRC checksum")
	}
	if crc32.ChecksumIEEE(t.entries) != t.primary.entriesCRC() {
		res.Addf(nil, "invalid partition entry checksum")
	}

	copies := []struct {
		name string
		h    header
		at   uint64
	}{
		{"primary", t.primary, headerLBA},
		{"backup", t.backup, dev.LastLBA()},
	}
	for _, c := range copies {
		fu, lu := c.h.firstUsable(), c.h.lastUsable()
		if lu < fu || lu > dev.LastLBA() {
			res.Addf(nil, "%s header usable range [%d, %d] fails the LBA sanity checks", c.name, fu, lu)
		}
		if c.h.myLBA() != c.at {
			res.Addf(nil, "%s header claims to live at sector %d instead of %d", c.name, c.h.myLBA(), c.at)
		}
	}
	if t.primary.altLBA() >= dev.TotalSectors {
		res.Addf(nil, "disk is too small to hold all data")
	}
	if t.primary.altLBA() != t.backup.myLBA() || t.backup.altLBA() != t.primary.myLBA() {
		res.Addf(nil, "primary and backup headers do not point at each other")
	}

	if i, j, ok := t.overlappingPair(); ok {
		res.Addf([]int{i, j}, "partition %d overlaps with partition %d", i, j)
	}

	fu, lu := t.primary.firstUsable(), t.primary.lastUsable()
	for i := 0; i < int(t.primary.entryCount()); i++ {
		e := t.entry(i)
		if !e.used() {
			continue
		}
		if e.end() < e.start() {
			res.Addf([]int{i + 1}, "partition %d ends before it starts", i+1)
			continue
		}
		if e.end() >= dev.TotalSectors {
			res.Addf([]int{i + 1}, "partition %d is too big for the disk", i+1)
		} else if e.start() < fu || e.end() > lu {
			res.Addf([]int{i + 1}, "partition %d is outside the usable range [%d, %d]", i+1, fu, lu)
		}
	}

	if res.Ok() {
		res.InUse = t.inUse()
		res.FreeSectors, res.FreeSegments, res.LargestFree = t.freeSectors()
	}
	return res
}

// Write commits the table in the crash-safe order: backup entry
// array, backup header, primary entry array, primary header,
// protective MBR. An interrupted write therefore always leaves one
// complete, self-consistent copy on disk. Cross-checks run first and
// refuse an inconsistent table outright; a hybrid MBR is left alone.
func (t *Table) Write() error {
	dev := t.dev

	if t.primary.altLBA() >= dev.TotalSectors {
		return fmt.Errorf("backup header of %s sits at sector %d, past the end of the disk: %w",
			dev.Name, t.primary.altLBA(), label.ErrCorrupt)
	}
	if t.primary.altLBA() != dev.LastLBA() {
		return fmt.Errorf("backup header of %s sits at sector %d instead of the last sector %d: %w",
			dev.Name, t.primary.altLBA(), dev.LastLBA(), label.ErrCorrupt)
	}
	if i, j, ok := t.overlappingPair(); ok {
		return fmt.Errorf("partition %d overlaps with partition %d: %w", i, j, label.ErrOverlap)
	}

	t.reseal()

	if err := dev.WriteAtLBA(t.backup.entriesLBA(), t.entries); err != nil {
		return err
	}
	if err := dev.WriteSector(t.backup.myLBA(), t.backup); err != nil {
		return err
	}
	if err := dev.WriteAtLBA(t.primary.entriesLBA(), t.entries); err != nil {
		return err
	}
	if err := dev.WriteSector(t.primary.myLBA(), t.primary); err != nil {
		return err
	}

	if t.pmbr == PMBRHybrid {
		log.Warnf("%s contains a hybrid MBR -- writing GPT only", dev.Name)
	} else {
		writeProtectiveMBR(t.mbr, dev.TotalSectors)
		if err := dev.WriteSector(0, t.mbr); err != nil {
			return err
		}
	}
	t.synthesized = false
	return nil
}

package dos

import (
	"fmt"
	"math"

	"github.com/linuxkit/disklabel/label"
)

// Add creates a partition. With a negative index it picks the first
// empty primary slot, growing the logical chain instead once the
// primaries are taken. Zero Start/End ask for defaults: the first free
// sector at or after the aligned base, through the end of the free
// segment. req.Ask, when set, reviews both proposals.
func (t *Table) Add(req label.AddRequest) (label.Row, error) {
	sys := Linux
	if req.Type != "" {
		var err error
		sys, err = ParseType(req.Type)
		if err != nil {
			return label.Row{}, err
		}
	}
	if sys == Empty {
		return label.Row{}, fmt.Errorf("type 0x00 means free space, not a partition")
	}

	n := req.Index
	if n < 0 {
		n = t.pickSlot(sys)
		if n < 0 {
			switch {
			case !sys.IsExtended() && t.extIndex >= 0:
				return label.Row{}, fmt.Errorf("maximum of %d partitions reached: %w", maxParts, label.ErrNoFreeSlots)
			case sys.IsExtended():
				return label.Row{}, fmt.Errorf("all primary slots are used and an extended partition cannot be logical: %w", label.ErrNoFreeSlots)
			default:
				return label.Row{}, fmt.Errorf("all primary slots are used and no extended partition exists: %w", label.ErrNoFreeSlots)
			}
		}
	}
	if n < numEntries {
		return t.addPrimary(n, req, sys)
	}
	return t.addLogical(n, req, sys)
}

// pickSlot chooses where an automatic add goes: the first empty
// primary, otherwise the logical chain when a container exists.
func (t *Table) pickSlot(sys Type) int {
	for i := 0; i < numEntries; i++ {
		if !t.slots[i].dataEntry().used() {
			return i
		}
	}
	if sys.IsExtended() || t.extIndex < 0 {
		return -1
	}
	// an empty chain keeps one unused slot at index 4, reuse it
	if len(t.slots) == numEntries+1 && !t.slots[numEntries].dataEntry().used() {
		return numEntries
	}
	if len(t.slots) < maxParts {
		return len(t.slots)
	}
	return -1
}

func (t *Table) addPrimary(n int, req label.AddRequest, sys Type) (label.Row, error) {
	e := t.slots[n].dataEntry()
	if e.used() {
		return label.Row{}, fmt.Errorf("partition %d is already defined, delete it before re-adding: %w", n+1, label.ErrExists)
	}
	if sys.IsExtended() && t.extIndex >= 0 {
		return label.Row{}, fmt.Errorf("extended partition already exists as partition %d: %w", t.extIndex+1, label.ErrExists)
	}

	first, last := t.bounds()
	// the whole extended container counts as allocated here
	if t.extIndex >= 0 && t.extOffset != 0 {
		q := t.slots[t.extIndex]
		first[t.extIndex] = t.extOffset
		last[t.extIndex] = q.absEnd()
	}

	limit := t.dev.TotalSectors - 1
	if limit > math.MaxUint32 {
		// the 4-byte record fields cannot address sectors past this
		limit = math.MaxUint32
	}
	start, err := t.placeStart(req, t.dev.Align.FirstLBA, limit, first, last, false)
	if err != nil {
		return label.Row{}, err
	}
	stop, err := t.placeEnd(req, start, limit, first, last)
	if err != nil {
		return label.Row{}, err
	}

	t.setPartition(n, false, start, stop, sys)
	if req.Bootable {
		e.setBootFlag(bootActive)
	}

	if sys.IsExtended() {
		// root the chain: the container's first sector is the first
		// EBR, kept as an empty slot until a logical fills it
		t.extIndex = n
		t.extOffset = start
		t.slots[n].link = t.slots[n].data
		t.slots = append(t.slots, &slot{
			offset:  start,
			sector:  make([]byte, t.dev.SectorSize),
			data:    entriesStart,
			link:    entriesStart + entrySize,
			changed: true,
		})
	}
	return t.rowFor(n), nil
}

func (t *Table) addLogical(n int, req label.AddRequest, sys Type) (label.Row, error) {
	if sys.IsExtended() {
		return label.Row{}, fmt.Errorf("a logical partition cannot hold an extended type")
	}
	if t.extIndex < 0 {
		return label.Row{}, fmt.Errorf("no extended partition to hold a logical partition: %w", label.ErrNoFreeSlots)
	}
	if n < numEntries || n > len(t.slots) {
		return label.Row{}, fmt.Errorf("partition %d: %w", n+1, label.ErrNoPartition)
	}
	if n == len(t.slots) && n >= maxParts {
		return label.Row{}, fmt.Errorf("maximum of %d partitions reached: %w", maxParts, label.ErrNoFreeSlots)
	}

	if t.extOffset == 0 {
		// container present but the chain was unreadable, root it anew
		t.extOffset = t.slots[t.extIndex].absStart()
	}

	appended := false
	if n == len(t.slots) {
		s := &slot{
			sector:  make([]byte, t.dev.SectorSize),
			data:    entriesStart,
			link:    entriesStart + entrySize,
			changed: true,
		}
		if n == numEntries {
			s.offset = t.extOffset
		}
		t.slots = append(t.slots, s)
		appended = true
	}
	fail := func(err error) (label.Row, error) {
		if appended {
			t.slots = t.slots[:n]
		}
		return label.Row{}, err
	}

	s := t.slots[n]
	if s.dataEntry().used() {
		return fail(fmt.Errorf("partition %d is already defined, delete it before re-adding: %w", n+1, label.ErrExists))
	}

	extLast := t.slots[t.extIndex].absEnd()
	first, last := t.bounds()
	sectorOffset := t.dev.Align.FirstLBA

	start, err := t.placeStart(req, t.extOffset+sectorOffset, extLast, first, last, true)
	if err != nil {
		return fail(err)
	}
	if start <= t.extOffset {
		return fail(fmt.Errorf("sector %d is ahead of the extended partition at %d", start, t.extOffset))
	}
	if n > numEntries {
		// this partition's EBR rides just ahead of its data
		s.offset = start - sectorOffset
		if s.offset == t.extOffset {
			s.offset++
			if sectorOffset == 1 {
				start++
			}
		}
	}

	stop, err := t.placeEnd(req, start, extLast, first, last)
	if err != nil {
		return fail(err)
	}

	t.setPartition(n, false, start, stop, sys)
	if req.Bootable {
		s.dataEntry().setBootFlag(bootActive)
	}
	if n > numEntries {
		// point the previous EBR at the new one
		t.setPartition(n-1, true, s.offset, stop, Extended)
	}
	return t.rowFor(n), nil
}

// placeStart walks a requested start sector forward past every EBR and
// allocated range until it sits in free space. An explicit request
// that had to move is an error; a proposal can also be reviewed by
// req.Ask within [proposal, limit].
func (t *Table) placeStart(req label.AddRequest, base, limit uint64, first, last []uint64, logical bool) (uint64, error) {
	snap := func(start uint64) uint64 {
		for {
			moved := start
			for i, s := range t.slots {
				if i >= numEntries && s.offset != 0 && start == s.offset {
					start += t.dev.Align.FirstLBA
				}
				lastPlus := last[i]
				if logical {
					// keep room for the next partition's EBR
					lastPlus += t.dev.Align.FirstLBA
				}
				if start >= first[i] && start <= lastPlus {
					start = lastPlus + 1
				}
			}
			if start == moved {
				return start
			}
		}
	}

	start := base
	if req.Start != 0 {
		start = req.Start
	}
	snapped := snap(start)
	if snapped > limit {
		return 0, fmt.Errorf("no free sectors between %d and %d on %s: %w", start, limit, t.dev.Name, label.ErrNoFreeSectors)
	}
	if req.Start != 0 && snapped != req.Start {
		return 0, fmt.Errorf("sector %d is already allocated: %w", req.Start, label.ErrSectorUsed)
	}
	if req.Start == 0 && req.Ask != nil {
		answer, err := req.Ask("First sector", snapped, snapped, limit)
		if err != nil {
			return 0, err
		}
		if answer != snapped {
			if snap(answer) != answer {
				return 0, fmt.Errorf("sector %d is already allocated: %w", answer, label.ErrSectorUsed)
			}
			snapped = answer
		}
	}
	return snapped, nil
}

// placeEnd shrinks the segment limit to just before the next allocated
// sector or EBR, then resolves the end within [start, limit].
func (t *Table) placeEnd(req label.AddRequest, start, limit uint64, first, last []uint64) (uint64, error) {
	for i, s := range t.slots {
		if i >= numEntries && start < s.offset && limit >= s.offset {
			limit = s.offset - 1
		}
		if start < first[i] && limit >= first[i] {
			limit = first[i] - 1
		}
	}

	stop := limit
	if req.End != 0 {
		if req.End < start || req.End > limit {
			return 0, fmt.Errorf("last sector %d outside free segment [%d, %d]", req.End, start, limit)
		}
		stop = req.End
	} else if req.Ask != nil {
		answer, err := req.Ask("Last sector", stop, start, limit)
		if err != nil {
			return 0, err
		}
		if answer < start || answer > limit {
			return 0, fmt.Errorf("last sector %d outside free segment [%d, %d]", answer, start, limit)
		}
		stop = answer
	}
	return stop, nil
}

// setPartition encodes one record: type, start relative to the slot's
// base, length, advisory CHS. doext writes the slot's link record,
// whose start is relative to the chain root instead.
func (t *Table) setPartition(n int, doext bool, start, stop uint64, sys Type) {
	s := t.slots[n]
	var e entry
	var offset uint64
	if doext {
		e = s.linkEntry()
		offset = t.extOffset
	} else {
		e = s.dataEntry()
		offset = s.offset
	}
	e.setBootFlag(bootInactive)
	e.setSys(sys)
	e.setStart(uint32(start - offset))
	e.setSectors(uint32(stop - start + 1))
	e.setCHS(t.dev.Geometry, start, stop)
	s.changed = true
}

func (t *Table) rowFor(i int) label.Row {
	s := t.slots[i]
	e := s.dataEntry()
	start := s.absStart()
	sects := uint64(e.sectors())
	end := start
	if sects > 0 {
		end = start + sects - 1
	}
	return label.Row{
		Number:   i + 1,
		Start:    start,
		End:      end,
		Sectors:  sects,
		Size:     sects * t.dev.SectorSize,
		Type:     e.sys().Name(),
		TypeID:   e.sys().String(),
		Bootable: e.bootable(),
		Logical:  i >= numEntries,
	}
}

// Delete removes a partition. Deleting the extended container drops
// the whole chain; deleting a logical re-links or re-numbers the
// slots behind it.
func (t *Table) Delete(index int) error {
	if index < 0 || index >= len(t.slots) {
		return fmt.Errorf("partition %d: %w", index+1, label.ErrNoPartition)
	}
	if index < numEntries && !t.slots[index].dataEntry().used() {
		return fmt.Errorf("partition %d is not defined: %w", index+1, label.ErrNoPartition)
	}
	t.deleteSlot(index)
	return nil
}

// deleteSlot is the delete machinery, also used while dropping empty
// logicals during read.
func (t *Table) deleteSlot(i int) {
	s := t.slots[i]
	e := s.dataEntry()
	q := s.linkEntry()
	s.changed = true

	if i < numEntries {
		if i == t.extIndex && e.sys().IsExtended() {
			// the chain goes with its container
			t.slots[i].link = -1
			t.slots = t.slots[:numEntries]
			t.extIndex = -1
			t.extOffset = 0
		}
		e.clear()
		return
	}

	if i > numEntries && q.sys() == Empty {
		// tail of the chain: unlink it from the previous EBR
		t.slots = t.slots[:len(t.slots)-1]
		prev := t.slots[len(t.slots)-1]
		prev.linkEntry().clear()
		prev.changed = true
		return
	}

	if i > numEntries {
		// middle of the chain: the previous EBR inherits this one's
		// link, both rebased on the chain root so the copy is direct
		prev := t.slots[i-1]
		p := prev.linkEntry()
		copy(p, q)
		p.setStart(q.start())
		p.setSectors(q.sectors())
		prev.changed = true
	} else if len(t.slots) > numEntries+1 {
		// first logical with more behind: the next slot's buffer is
		// rehomed into the chain root sector
		next := t.slots[numEntries+1]
		if d := next.dataEntry(); d != nil {
			abs := next.absStart()
			next.offset = t.extOffset
			d.setStart(uint32(abs - t.extOffset))
		} else {
			next.offset = t.extOffset
		}
		next.changed = true
	}

	if len(t.slots) > numEntries+1 {
		copy(t.slots[i:], t.slots[i+1:])
		t.slots = t.slots[:len(t.slots)-1]
	} else {
		// the only logical: clear the record, the slot stays
		e.clear()
	}
}

// wrongOrder reports the first pair of used slots whose start sectors
// are not ascending. Primaries and logicals are checked as two
// independent groups. Returns the offending index, the earlier index
// it should follow, and whether anything is wrong.
func (t *Table) wrongOrder() (int, int, bool) {
	var lastStart uint64
	lastI := 0
	for i, s := range t.slots {
		if i == numEntries {
			lastI = numEntries
			lastStart = 0
		}
		e := s.dataEntry()
		if e == nil || !e.used() {
			continue
		}
		start := s.absStart()
		if lastStart > start {
			return i, lastI, true
		}
		lastStart = start
		lastI = i
	}
	return 0, 0, false
}

// FixOrder rewrites the table so slot order matches disk order:
// primary records are swapped inside the MBR, and the logical chain is
// sorted and relinked when the misorder sits in the chain. Returns
// false when the order was already correct.
func (t *Table) FixOrder() bool {
	if _, _, wrong := t.wrongOrder(); !wrong {
		return false
	}

	chainWrong := false
	for {
		i, k, wrong := t.wrongOrder()
		if !wrong {
			break
		}
		if i >= numEntries {
			chainWrong = true
			break
		}
		pi, pk := t.slots[i].dataEntry(), t.slots[k].dataEntry()
		var tmp [entrySize]byte
		copy(tmp[:], pi)
		copy(pi, pk)
		copy(pk, tmp[:])
		// link roles follow the extended record
		for _, n := range []int{i, k} {
			if t.slots[n].dataEntry().sys().IsExtended() {
				t.slots[n].link = t.slots[n].data
				t.extIndex = n
			} else {
				t.slots[n].link = -1
			}
		}
		t.slots[i].changed = true
		t.slots[k].changed = true
	}

	if chainWrong {
		t.fixChainOfLogicals()
	}
	return true
}

// fixChainOfLogicals sorts the chain in two passes, restarting from
// the top after every swap: first the EBR sectors themselves get
// ascending addresses (slot 4 stays the chain root), then the data
// records are ordered by absolute partition start. Link records are
// rewritten to match and the whole chain is marked changed.
func (t *Table) fixChainOfLogicals() {
	// stage 1: EBR addresses
	for swapped := true; swapped; {
		swapped = false
		for j := numEntries + 1; j < len(t.slots)-1; j++ {
			sj, sjj := t.slots[j], t.slots[j+1]
			if sj.offset <= sjj.offset {
				continue
			}
			oj, ojj := sj.offset, sjj.offset
			delta := uint32(oj - ojj)
			sj.offset, sjj.offset = ojj, oj
			// data starts stay absolute across the sector swap
			sj.dataEntry().setStart(sj.dataEntry().start() + delta)
			sjj.dataEntry().setStart(sjj.dataEntry().start() - delta)
			// relink: predecessor points at the earlier sector now
			t.slots[j-1].linkEntry().setStart(uint32(ojj - t.extOffset))
			t.slots[j].linkEntry().setStart(uint32(oj - t.extOffset))
			swapped = true
			break
		}
	}

	// stage 2: partition starts. All arithmetic is 32-bit so starts
	// left wrapped by a stage 1 offset swap come back around to the
	// absolute sector they always meant.
	for swapped := true; swapped; {
		swapped = false
		for j := numEntries; j < len(t.slots)-1; j++ {
			pj, pjj := t.slots[j].dataEntry(), t.slots[j+1].dataEntry()
			oj, ojj := uint32(t.slots[j].offset), uint32(t.slots[j+1].offset)
			sj := oj + pj.start()
			sjj := ojj + pjj.start()
			if sj <= sjj {
				continue
			}
			var tmp [entrySize]byte
			copy(tmp[:], pj)
			copy(pj, pjj)
			copy(pjj, tmp[:])
			pj.setStart(sjj - oj)
			pjj.setStart(sj - ojj)
			swapped = true
			break
		}
	}

	for _, s := range t.slots[numEntries:] {
		s.changed = true
	}
}

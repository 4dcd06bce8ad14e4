package dos

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/linuxkit/disklabel/label"
	"github.com/linuxkit/disklabel/testhelper"
)

func testDevice(t *testing.T, sectors uint64) (*label.Device, *testhelper.MemFile) {
	t.Helper()
	f := testhelper.NewMemFile(int64(sectors) * 512)
	return &label.Device{
		File:         f,
		Name:         "testdisk",
		SectorSize:   512,
		TotalSectors: sectors,
	}, f
}

func newSector() []byte {
	s := make([]byte, 512)
	stampSignature(s)
	return s
}

func putEntry(sector []byte, i int, boot byte, sys Type, start, size uint32) {
	off := entriesStart + i*entrySize
	sector[off+entBoot] = boot
	sector[off+entSys] = byte(sys)
	binary.LittleEndian.PutUint32(sector[off+entStart:off+entStart+4], start)
	binary.LittleEndian.PutUint32(sector[off+entSize:off+entSize+4], size)
}

func putSector(f *testhelper.MemFile, lba uint64, sector []byte) {
	copy(f.Data[lba*512:], sector)
}

func TestCreate(t *testing.T) {
	dev, f := testDevice(t, 1000000)
	tbl := Create(dev)

	if rows := tbl.Partitions(); len(rows) != 0 {
		t.Errorf("fresh label has %d partitions", len(rows))
	}
	if tbl.extIndex != -1 || tbl.extOffset != 0 {
		t.Errorf("fresh label has extended state: index %d offset %d", tbl.extIndex, tbl.extOffset)
	}
	if u := tbl.UUID(); len(u) != 10 || u[:2] != "0x" {
		t.Errorf("unexpected volume id %q", u)
	}

	if err := tbl.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f.Data[510] != 0x55 || f.Data[511] != 0xAA {
		t.Errorf("boot signature missing: % x", f.Data[510:512])
	}
	for i := 0; i < numEntries; i++ {
		off := entriesStart + i*entrySize
		if !entry(f.Data[off : off+entrySize]).allZero() {
			t.Errorf("primary slot %d not cleared: % x", i, f.Data[off:off+entrySize])
		}
	}

	res := tbl.Verify()
	if !res.Ok() {
		t.Errorf("fresh label does not verify: %v", res.Diags)
	}
	if res.InUse != 0 || res.FreeSectors != 999999 {
		t.Errorf("InUse %d FreeSectors %d instead of 0 and 999999", res.InUse, res.FreeSectors)
	}
}

func TestAddPrimary(t *testing.T) {
	dev, f := testDevice(t, 1000000)
	tbl := Create(dev)

	row, err := tbl.Add(label.AddRequest{Index: 0, Start: 2048, End: 204799, Type: "83"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if row.Number != 1 || row.Start != 2048 || row.End != 204799 || row.Sectors != 202752 {
		t.Errorf("row %+v", row)
	}
	if err := tbl.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	e := f.Data[entriesStart : entriesStart+entrySize]
	if e[entSys] != 0x83 {
		t.Errorf("sys 0x%02x instead of 0x83", e[entSys])
	}
	if got := binary.LittleEndian.Uint32(e[entStart : entStart+4]); got != 2048 {
		t.Errorf("start field %d instead of 2048", got)
	}
	if got := binary.LittleEndian.Uint32(e[entSize : entSize+4]); got != 202752 {
		t.Errorf("size field %d instead of 202752", got)
	}
	// LBA 2048 under 255 heads and 63 sectors per track
	if e[entHead] != 32 || e[entSector] != 33 || e[entCyl] != 0 {
		t.Errorf("begin CHS % x instead of 20 21 00", e[entHead:entCyl+1])
	}

	// defaults: next free sector through the end of the disk
	row2, err := tbl.Add(label.AddRequest{Index: -1, Type: "83"})
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if row2.Number != 2 || row2.Start != 204800 || row2.End != 999999 {
		t.Errorf("row %+v", row2)
	}

	res := tbl.Verify()
	if !res.Ok() {
		t.Errorf("does not verify: %v", res.Diags)
	}
	if res.InUse != 2 || res.FreeSectors != 2047 {
		t.Errorf("InUse %d FreeSectors %d instead of 2 and 2047", res.InUse, res.FreeSectors)
	}
}

func TestAddErrors(t *testing.T) {
	dev, _ := testDevice(t, 1000000)
	tbl := Create(dev)

	if _, err := tbl.Add(label.AddRequest{Index: 0, Start: 2048, End: 204799, Type: "83"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	_, err := tbl.Add(label.AddRequest{Index: 0, Type: "83"})
	if !errors.Is(err, label.ErrExists) {
		t.Errorf("re-adding slot 1: %v", err)
	}
	_, err = tbl.Add(label.AddRequest{Index: 1, Start: 4096, Type: "83"})
	if !errors.Is(err, label.ErrSectorUsed) {
		t.Errorf("allocated start: %v", err)
	}
	_, err = tbl.Add(label.AddRequest{Index: 1, Start: 1000000, Type: "83"})
	if !errors.Is(err, label.ErrNoFreeSectors) {
		t.Errorf("start past the disk: %v", err)
	}
	_, err = tbl.Add(label.AddRequest{Index: 4, Type: "83"})
	if !errors.Is(err, label.ErrNoFreeSlots) {
		t.Errorf("logical without extended: %v", err)
	}

	for i := 1; i < numEntries; i++ {
		start := uint64(204800 + (i-1)*100000)
		if _, err := tbl.Add(label.AddRequest{Index: i, Start: start, End: start + 99999, Type: "83"}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	_, err = tbl.Add(label.AddRequest{Index: -1, Type: "83"})
	if !errors.Is(err, label.ErrNoFreeSlots) {
		t.Errorf("full table: %v", err)
	}
}

func TestAddAskCallback(t *testing.T) {
	dev, _ := testDevice(t, 1000000)
	tbl := Create(dev)

	var prompts []string
	ask := func(prompt string, def, low, high uint64) (uint64, error) {
		prompts = append(prompts, prompt)
		switch prompt {
		case "First sector":
			if def != 2048 || low != 2048 || high != 999999 {
				t.Errorf("first sector proposed %d in [%d, %d]", def, low, high)
			}
			return 4096, nil
		default:
			if def != 999999 || low != 4096 {
				t.Errorf("last sector proposed %d with low %d", def, low)
			}
			return 8191, nil
		}
	}
	row, err := tbl.Add(label.AddRequest{Index: 0, Type: "83", Ask: ask})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if row.Start != 4096 || row.End != 8191 {
		t.Errorf("row %+v", row)
	}
	if len(prompts) != 2 {
		t.Errorf("prompts %v", prompts)
	}
}

func TestCHSClampBeyondCylinder1023(t *testing.T) {
	// 40M sectors is far past what 255 heads and 63 sectors per track
	// can address. The file is never touched, only the arithmetic is.
	dev := &label.Device{
		File:         testhelper.NewMemFile(512),
		Name:         "bigdisk",
		SectorSize:   512,
		TotalSectors: 40000000,
	}
	tbl := Create(dev)
	row, err := tbl.Add(label.AddRequest{Index: 0, Start: 2048, Type: "8e"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if row.End != 39999999 {
		t.Errorf("End %d instead of 39999999", row.End)
	}
	e := tbl.slots[0].dataEntry()
	if e[entEndHead] != 0xfe || e[entEndSector] != 0xff || e[entEndCyl] != 0xff {
		t.Errorf("end CHS % x instead of fe ff ff", []byte{e[entEndHead], e[entEndSector], e[entEndCyl]})
	}
	if got := binary.LittleEndian.Uint32(e[entSize : entSize+4]); got != 39997952 {
		t.Errorf("size field %d, LBA fields must stay exact", got)
	}
}

func TestAddCapsAt32BitLimit(t *testing.T) {
	// a disk past 2^32 sectors: the 4-byte record fields top out at
	// sector 4294967295, the rest of the disk is out of reach. The
	// file is never touched, only the arithmetic is.
	dev := &label.Device{
		File:         testhelper.NewMemFile(512),
		Name:         "hugedisk",
		SectorSize:   512,
		TotalSectors: 5000000000,
	}
	tbl := Create(dev)

	row, err := tbl.Add(label.AddRequest{Index: 0, Start: 2048, Type: "83"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if row.End != math.MaxUint32 {
		t.Errorf("End %d instead of %d", row.End, uint64(math.MaxUint32))
	}
	e := tbl.slots[0].dataEntry()
	if got := binary.LittleEndian.Uint32(e[entSize : entSize+4]); got != 4294965248 {
		t.Errorf("size field %d instead of 4294965248", got)
	}

	// a start past the limit is refused, not wrapped into the low
	// sectors partition 1 already owns
	_, err = tbl.Add(label.AddRequest{Index: 1, Start: 1<<32 + 2048, End: 1<<32 + 4095, Type: "83"})
	if !errors.Is(err, label.ErrNoFreeSectors) {
		t.Fatalf("start past the addressable range: %v", err)
	}
	if rows := tbl.Partitions(); len(rows) != 1 {
		t.Errorf("rows %+v", rows)
	}
	if res := tbl.Verify(); !res.Ok() {
		t.Errorf("does not verify: %v", res.Diags)
	}
}

// buildChain writes a synthetic MBR with one Linux primary, one
// extended container and two logicals to the in-memory disk.
func buildChain(f *testhelper.MemFile) {
	mbr := newSector()
	putEntry(mbr, 0, 0x00, Linux, 2048, 2048)     // [2048, 4095]
	putEntry(mbr, 1, 0x00, Extended, 4096, 20480) // [4096, 24575]
	putSector(f, 0, mbr)

	ebr1 := newSector()
	putEntry(ebr1, 0, 0x00, Linux, 2048, 2048)    // abs [6144, 8191]
	putEntry(ebr1, 1, 0x00, Extended, 8192, 4096) // next EBR at 12288
	putSector(f, 4096, ebr1)

	ebr2 := newSector()
	putEntry(ebr2, 0, 0x00, Linux, 2048, 2048) // abs [14336, 16383]
	putSector(f, 12288, ebr2)
}

func TestReadChain(t *testing.T) {
	dev, f := testDevice(t, 1000000)
	buildChain(f)

	tbl, err := Read(dev)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tbl.extIndex != 1 || tbl.extOffset != 4096 {
		t.Fatalf("extended index %d offset %d", tbl.extIndex, tbl.extOffset)
	}

	rows := tbl.Partitions()
	want := []struct {
		number  int
		start   uint64
		end     uint64
		logical bool
	}{
		{1, 2048, 4095, false},
		{2, 4096, 24575, false},
		{5, 6144, 8191, true},
		{6, 14336, 16383, true},
	}
	if len(rows) != len(want) {
		t.Fatalf("%d rows instead of %d: %+v", len(rows), len(want), rows)
	}
	for i, w := range want {
		r := rows[i]
		if r.Number != w.number || r.Start != w.start || r.End != w.end || r.Logical != w.logical {
			t.Errorf("row %d: %+v instead of %+v", i, r, w)
		}
	}

	res := tbl.Verify()
	if !res.Ok() {
		t.Errorf("does not verify: %v", res.Diags)
	}
	if res.InUse != 4 {
		t.Errorf("InUse %d instead of 4", res.InUse)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev, f := testDevice(t, 1000000)
	buildChain(f)

	tbl, err := Read(dev)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f.Writes = nil
	if err := tbl.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(f.Writes) != 0 {
		t.Fatalf("unedited table wrote %d sectors: %+v", len(f.Writes), f.Writes)
	}

	// an MBR edit rewrites only the MBR
	if err := tbl.SetType(0, "0c"); err != nil {
		t.Fatalf("settype: %v", err)
	}
	if err := tbl.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(f.Writes) != 1 || f.Writes[0].Offset != 0 {
		t.Fatalf("MBR edit wrote %+v", f.Writes)
	}

	// a logical edit rewrites only its EBR
	f.Writes = nil
	if err := tbl.SetType(4, "07"); err != nil {
		t.Fatalf("settype: %v", err)
	}
	if err := tbl.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(f.Writes) != 1 || f.Writes[0].Offset != 4096*512 {
		t.Fatalf("EBR edit wrote %+v", f.Writes)
	}

	// everything still reads back
	again, err := Read(dev)
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	rows := again.Partitions()
	if len(rows) != 4 || rows[0].TypeID != "0c" || rows[2].TypeID != "07" {
		t.Errorf("rows after edits: %+v", rows)
	}
	if again.UUID() != tbl.UUID() {
		t.Errorf("volume id changed from %s to %s", tbl.UUID(), again.UUID())
	}
}

func TestSetTypeRules(t *testing.T) {
	dev, f := testDevice(t, 1000000)
	buildChain(f)
	tbl, err := Read(dev)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if err := tbl.SetType(2, "83"); !errors.Is(err, label.ErrNoPartition) {
		t.Errorf("empty slot: %v", err)
	}
	if err := tbl.SetType(9, "83"); !errors.Is(err, label.ErrNoPartition) {
		t.Errorf("out of range: %v", err)
	}
	if err := tbl.SetType(0, "00"); err == nil {
		t.Error("type 00 accepted")
	}
	if err := tbl.SetType(0, "05"); err == nil {
		t.Error("plain partition became extended")
	}
	if err := tbl.SetType(1, "83"); err == nil {
		t.Error("extended container became plain")
	}
	if err := tbl.SetType(1, "0f"); err != nil {
		t.Errorf("extended flavor change: %v", err)
	}
	if err := tbl.SetType(0, "fd"); err != nil {
		t.Errorf("settype: %v", err)
	}
	if rows := tbl.Partitions(); rows[0].Type != "Linux raid autodetect" {
		t.Errorf("type name %q", rows[0].Type)
	}
}

func TestReadNoSignature(t *testing.T) {
	dev, _ := testDevice(t, 1000000)
	if _, err := Read(dev); err == nil {
		t.Fatal("blank disk read as a DOS label")
	}
}

func TestVerifyDiagnostics(t *testing.T) {
	t.Run("overlap", func(t *testing.T) {
		dev, f := testDevice(t, 1000000)
		mbr := newSector()
		putEntry(mbr, 0, 0x00, Linux, 2048, 10000)
		putEntry(mbr, 1, 0x00, Linux, 5000, 10000)
		putSector(f, 0, mbr)
		tbl, err := Read(dev)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		res := tbl.Verify()
		if res.Ok() {
			t.Fatal("overlap not detected")
		}
		found := false
		for _, d := range res.Diags {
			if len(d.Partitions) == 2 && d.Partitions[0] == 1 && d.Partitions[1] == 2 {
				found = true
			}
		}
		if !found {
			t.Errorf("no diagnostic names the pair (1, 2): %+v", res.Diags)
		}
	})

	t.Run("ends beyond disk", func(t *testing.T) {
		dev, f := testDevice(t, 10000)
		mbr := newSector()
		putEntry(mbr, 0, 0x00, Linux, 2048, 100000)
		putSector(f, 0, mbr)
		tbl, err := Read(dev)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if res := tbl.Verify(); res.Ok() {
			t.Error("oversized partition not detected")
		}
	})

	t.Run("garbage boot indicator", func(t *testing.T) {
		dev, f := testDevice(t, 1000000)
		mbr := newSector()
		putEntry(mbr, 0, 0x42, Linux, 2048, 2048)
		putSector(f, 0, mbr)
		tbl, err := Read(dev)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		// flagged but still listed
		if rows := tbl.Partitions(); len(rows) != 1 {
			t.Fatalf("rows %+v", rows)
		}
		if res := tbl.Verify(); res.Ok() {
			t.Error("garbage boot indicator not detected")
		}
	})

	t.Run("logical outside extended", func(t *testing.T) {
		dev, f := testDevice(t, 1000000)
		mbr := newSector()
		putEntry(mbr, 0, 0x00, Extended, 4096, 8192) // [4096, 12287]
		putSector(f, 0, mbr)
		ebr := newSector()
		putEntry(ebr, 0, 0x00, Linux, 2048, 20000) // ends at 26143, outside
		putSector(f, 4096, ebr)
		tbl, err := Read(dev)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if res := tbl.Verify(); res.Ok() {
			t.Error("out-of-container logical not detected")
		}
	})
}

func TestReadDuplicateRolesKeepFirst(t *testing.T) {
	dev, f := testDevice(t, 1000000)
	mbr := newSector()
	putEntry(mbr, 0, 0x00, Extended, 4096, 20480)
	putSector(f, 0, mbr)
	// two data records and two link records in one EBR
	ebr1 := newSector()
	putEntry(ebr1, 0, 0x00, Linux, 2048, 2048)     // kept
	putEntry(ebr1, 1, 0x00, Extended, 8192, 4096)  // kept, next EBR at 12288
	putEntry(ebr1, 2, 0x00, Fat32LBA, 6144, 1024)  // ignored
	putEntry(ebr1, 3, 0x00, Extended, 16384, 1024) // ignored
	putSector(f, 4096, ebr1)
	ebr2 := newSector()
	putEntry(ebr2, 0, 0x00, Linux, 2048, 1024)
	putSector(f, 12288, ebr2)

	tbl, err := Read(dev)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rows := tbl.Partitions()
	if len(rows) != 3 {
		t.Fatalf("rows %+v", rows)
	}
	if rows[1].Start != 6144 || rows[1].TypeID != "83" {
		t.Errorf("first data record not kept: %+v", rows[1])
	}
	if rows[2].Start != 14336 {
		t.Errorf("first link record not followed: %+v", rows[2])
	}
}

func TestReadDropsEmptyLogical(t *testing.T) {
	dev, f := testDevice(t, 1000000)
	mbr := newSector()
	putEntry(mbr, 0, 0x00, Extended, 4096, 20480)
	putSector(f, 0, mbr)
	ebr1 := newSector()
	putEntry(ebr1, 0, 0x00, Linux, 2048, 2048)
	putEntry(ebr1, 1, 0x00, Extended, 8192, 4096)
	putSector(f, 4096, ebr1)
	// middle EBR carries no data record, only a link onward
	ebr2 := newSector()
	putEntry(ebr2, 1, 0x00, Extended, 12288, 4096)
	putSector(f, 12288, ebr2)
	ebr3 := newSector()
	putEntry(ebr3, 0, 0x00, Linux, 2048, 2048)
	putSector(f, 16384, ebr3)

	tbl, err := Read(dev)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	rows := tbl.Partitions()
	if len(rows) != 3 {
		t.Fatalf("rows %+v", rows)
	}
	if rows[1].Number != 5 || rows[1].Start != 6144 {
		t.Errorf("first logical: %+v", rows[1])
	}
	if rows[2].Number != 6 || rows[2].Start != 18432 {
		t.Errorf("renumbered logical: %+v", rows[2])
	}
	// the splice rewired slot 4's link past the dropped EBR
	if !tbl.slots[4].changed {
		t.Error("splice did not mark the previous EBR changed")
	}
}

func TestReadDropsTrailingEmptyLogical(t *testing.T) {
	t.Run("trailing empty dropped", func(t *testing.T) {
		dev, f := testDevice(t, 1000000)
		mbr := newSector()
		putEntry(mbr, 0, 0x00, Extended, 4096, 20480)
		putSector(f, 0, mbr)
		ebr1 := newSector()
		putEntry(ebr1, 0, 0x00, Linux, 2048, 2048)
		putEntry(ebr1, 1, 0x00, Extended, 8192, 4096)
		putSector(f, 4096, ebr1)
		// the chain ends in an EBR with no records at all
		putSector(f, 12288, newSector())

		tbl, err := Read(dev)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		rows := tbl.Partitions()
		if len(rows) != 2 || rows[1].Start != 6144 {
			t.Fatalf("rows %+v", rows)
		}
		if len(tbl.slots) != numEntries+1 {
			t.Errorf("%d slots", len(tbl.slots))
		}
		if tbl.slots[4].linkEntry().sys() != Empty {
			t.Error("dangling link to the dropped EBR, a write would resurrect it")
		}
		if !tbl.slots[4].changed {
			t.Error("unlinked EBR not marked changed")
		}
	})

	t.Run("single empty slot is kept", func(t *testing.T) {
		dev, f := testDevice(t, 1000000)
		mbr := newSector()
		putEntry(mbr, 0, 0x00, Extended, 4096, 20480)
		putSector(f, 0, mbr)
		putSector(f, 4096, newSector())

		tbl, err := Read(dev)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(tbl.slots) != numEntries+1 {
			t.Fatalf("%d slots", len(tbl.slots))
		}
		if rows := tbl.Partitions(); len(rows) != 1 {
			t.Errorf("rows %+v", rows)
		}
	})
}

func TestReadTruncatesLongChain(t *testing.T) {
	dev, f := testDevice(t, 16384)
	mbr := newSector()
	putEntry(mbr, 0, 0x00, Extended, 2048, 6100) // [2048, 8147]
	putSector(f, 0, mbr)

	// 58 EBRs 100 sectors apart: more logicals than the table may hold
	for k := 0; k < 58; k++ {
		ebr := newSector()
		putEntry(ebr, 0, 0x00, Linux, 10, 90)
		if k < 57 {
			putEntry(ebr, 1, 0x00, Extended, uint32(k+1)*100, 100)
		}
		putSector(f, 2048+uint64(k)*100, ebr)
	}

	tbl, err := Read(dev)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(tbl.slots) != maxParts {
		t.Fatalf("%d slots instead of %d", len(tbl.slots), maxParts)
	}
	rows := tbl.Partitions()
	if len(rows) != 1+(maxParts-numEntries) {
		t.Errorf("%d rows", len(rows))
	}
	last := tbl.slots[maxParts-1]
	if last.linkEntry().sys() != Empty {
		t.Error("last retained link not cleared, a write would resurrect the tail")
	}
	if !last.changed {
		t.Error("truncated slot not marked changed")
	}
}

package layout

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/linuxkit/disklabel"
	"github.com/linuxkit/disklabel/geom"
	"github.com/linuxkit/disklabel/label"
	"github.com/linuxkit/disklabel/testhelper"
)

func memContext(t *testing.T, sectors uint64) (*disklabel.Context, *testhelper.MemFile) {
	t.Helper()
	f := testhelper.NewMemFile(int64(sectors) * 512)
	return disklabel.New(f, "testdisk", int64(sectors)*512, geom.DefaultTopology()), f
}

// applyDump applies a layout to a fresh in-memory disk, writes it out,
// and dumps it back from a clean re-read of the same bytes.
func applyDump(t *testing.T, sectors uint64, s *Spec) *Spec {
	t.Helper()
	ctx, f := memContext(t, sectors)
	if err := Apply(ctx, s); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := ctx.Write(); err != nil {
		t.Fatalf("write: %v", err)
	}
	again := disklabel.New(f, "testdisk", int64(sectors)*512, geom.DefaultTopology())
	dumped, err := Dump(again)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	return dumped
}

func TestApplyDumpGPT(t *testing.T) {
	doc := `
label: gpt
partitions:
  - name: esp
    type: uefi
    size: 1MiB
    bootable: true
  - name: swap
    type: swap
    sectors: 1024
  - name: root
    type: linux
`
	spec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dumped := applyDump(t, 16384, spec)

	if dumped.Label != "gpt" {
		t.Errorf("dumped label %q", dumped.Label)
	}
	want := []Partition{
		{Slot: 1, Name: "esp", Type: "C12A7328-F81F-11D2-BA4B-00A0C93EC93B", Start: 2048, Sectors: 2048, Bootable: true},
		{Slot: 2, Name: "swap", Type: "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F", Start: 4096, Sectors: 1024},
		{Slot: 3, Name: "root", Type: "0FC63DAF-8483-4772-8E79-3D69D8477DE4", Start: 6144, Sectors: 10207},
	}
	if !reflect.DeepEqual(dumped.Partitions, want) {
		t.Errorf("dumped %+v instead of %+v", dumped.Partitions, want)
	}

	// the dump must survive a YAML round trip untouched
	data, err := dumped.Bytes()
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	reparsed, err := Parse(data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if !reflect.DeepEqual(dumped, reparsed) {
		t.Errorf("reparsed %+v instead of %+v", reparsed, dumped)
	}

	// applying the dump to another disk reproduces it exactly
	second := applyDump(t, 16384, dumped)
	if !reflect.DeepEqual(dumped, second) {
		t.Errorf("second generation %+v instead of %+v", second, dumped)
	}
}

func TestApplyDumpDOS(t *testing.T) {
	doc := `
label: dos
partitions:
  - type: "83"
    size: 1MiB
    bootable: true
  - type: "05"
  - slot: 5
    type: "82"
    sectors: 512
`
	spec, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dumped := applyDump(t, 16384, spec)

	if dumped.Label != "dos" {
		t.Errorf("dumped label %q", dumped.Label)
	}
	want := []Partition{
		{Slot: 1, Type: "83", Start: 2048, Sectors: 2048, Bootable: true},
		{Slot: 2, Type: "05", Start: 4096, Sectors: 12288},
		{Slot: 5, Type: "82", Start: 6144, Sectors: 512},
	}
	if !reflect.DeepEqual(dumped.Partitions, want) {
		t.Errorf("dumped %+v instead of %+v", dumped.Partitions, want)
	}

	second := applyDump(t, 16384, dumped)
	if !reflect.DeepEqual(dumped, second) {
		t.Errorf("second generation %+v instead of %+v", second, dumped)
	}
}

func TestApplyErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unsupported kind",
			doc:  "label: banana\n",
			want: "unsupported label kind",
		},
		{
			name: "missing kind",
			doc:  "partitions:\n  - type: linux\n",
			want: "does not name a label kind",
		},
		{
			name: "size and sectors together",
			doc:  "label: gpt\npartitions:\n  - size: 1MiB\n    sectors: 2048\n",
			want: "partition 1: size and sectors are mutually exclusive",
		},
		{
			name: "unparseable size",
			doc:  "label: gpt\npartitions:\n  - size: 12 parsnips\n",
			want: "partition 1",
		},
		{
			name: "partition too big",
			doc:  "label: gpt\npartitions:\n  - sectors: 100000\n",
			want: "do not fit",
		},
		{
			name: "error names the failing partition",
			doc:  "label: gpt\npartitions:\n  - sectors: 64\n  - type: zz\n",
			want: "partition 2",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			ctx, _ := memContext(t, 16384)
			err = Apply(ctx, spec)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("apply returned %v, wanted %q", err, tt.want)
			}
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("label: [unterminated\n")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestParseValidatesShape(t *testing.T) {
	for _, tt := range []struct {
		name string
		doc  string
	}{
		{"misspelled key", "label: gpt\npartitions:\n  - naem: esp\n"},
		{"wrong collection type", "label: gpt\npartitions: 3\n"},
		{"negative start", "label: gpt\npartitions:\n  - start: -5\n"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), "invalid layout") {
				t.Errorf("parse returned %v", err)
			}
		})
	}
}

func TestDumpNeedsLabel(t *testing.T) {
	ctx, _ := memContext(t, 16384)
	_, err := Dump(ctx)
	if !errors.Is(err, label.ErrNoLabel) {
		t.Errorf("dump of a blank disk returned %v", err)
	}
}

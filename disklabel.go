// Package disklabel reads, edits and writes disk partition tables.
// It understands DOS/MBR labels including extended and logical
// chains, and GPT labels with their primary/backup header pair. A
// Context binds one device or image file to at most one active label;
// nothing reaches the disk until Write.
package disklabel

import (
	"os"

	"github.com/pkg/errors"

	"github.com/linuxkit/disklabel/geom"
	"github.com/linuxkit/disklabel/util"
)

// Open opens a block device or disk image read-write and returns a
// Context bound to it.
func Open(path string) (*Context, error) {
	return OpenWithMode(path, os.O_RDWR)
}

// OpenWithMode opens a block device or disk image with the given
// os.OpenFile mode. A Context opened read-only probes and lists but
// refuses Write.
func OpenWithMode(path string, mode int) (*Context, error) {
	f, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "examining %s", path)
	}

	var size int64
	topo := geom.DefaultTopology()
	if fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0 {
		size, err = blockDeviceSize(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "sizing %s", path)
		}
		topo = detectTopology(f)
	} else {
		size = fi.Size()
	}

	ctx := New(f, path, size, topo)
	ctx.file = f
	ctx.readOnly = mode&(os.O_WRONLY|os.O_RDWR) == 0
	return ctx, nil
}

// Create creates (or truncates) a disk image file of the given size in
// bytes and returns a Context bound to it. The image starts blank; lay
// a table on it with CreateLabel.
func Create(path string, size int64) (*Context, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", path)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrapf(err, "growing %s to %d bytes", path, size)
	}
	ctx := New(f, path, size, geom.DefaultTopology())
	ctx.file = f
	return ctx, nil
}

// New builds a Context over any sector store: an in-memory disk, a
// partial image, an already-open device. size is in bytes; the
// topology decides sector size, alignment and CHS geometry.
func New(f util.File, name string, size int64, topo geom.Topology) *Context {
	if topo.SectorSize == 0 {
		topo.SectorSize = geom.DefaultSectorSize
	}
	return newContext(f, name, uint64(size)/topo.SectorSize, topo)
}

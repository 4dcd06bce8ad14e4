package label

import (
	"fmt"
	"io"

	"github.com/linuxkit/disklabel/geom"
	"github.com/linuxkit/disklabel/util"
)

// Device is the view of one disk shared by the label implementations:
// the sector store plus the geometry and alignment engines derived
// from its topology.
type Device struct {
	File util.File
	// Name appears in error messages, usually the device path.
	Name         string
	SectorSize   uint64
	TotalSectors uint64
	Geometry     *geom.Geometry
	Align        *geom.Alignment
}

// ReadSector returns the sector at the given LBA.
func (d *Device) ReadSector(lba uint64) ([]byte, error) {
	b := make([]byte, d.SectorSize)
	if err := d.ReadAtLBA(lba, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadAtLBA fills b from the device starting at the given LBA.
func (d *Device) ReadAtLBA(lba uint64, b []byte) error {
	offset := int64(lba * d.SectorSize)
	n, err := d.File.ReadAt(b, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading %d bytes at sector %d of %s: %w", len(b), lba, d.Name, err)
	}
	if n != len(b) {
		return fmt.Errorf("reading at sector %d of %s: short read %d of %d bytes", lba, d.Name, n, len(b))
	}
	return nil
}

// WriteAtLBA writes b to the device starting at the given LBA.
func (d *Device) WriteAtLBA(lba uint64, b []byte) error {
	offset := int64(lba * d.SectorSize)
	n, err := d.File.WriteAt(b, offset)
	if err != nil {
		return fmt.Errorf("writing %d bytes at sector %d of %s: %w", len(b), lba, d.Name, err)
	}
	if n != len(b) {
		return fmt.Errorf("writing at sector %d of %s: short write %d of %d bytes", lba, d.Name, n, len(b))
	}
	return nil
}

// WriteSector writes one full sector at the given LBA.
func (d *Device) WriteSector(lba uint64, b []byte) error {
	if uint64(len(b)) != d.SectorSize {
		return fmt.Errorf("writing sector %d of %s: buffer is %d bytes, sector size is %d", lba, d.Name, len(b), d.SectorSize)
	}
	return d.WriteAtLBA(lba, b)
}

// LastLBA is the address of the device's final sector.
func (d *Device) LastLBA() uint64 {
	return d.TotalSectors - 1
}

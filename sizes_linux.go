//go:build linux

package disklabel

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/linuxkit/disklabel/geom"
)

// blockDeviceSize returns the size of an open block device in bytes.
func blockDeviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, errors.Wrap(err, "BLKGETSIZE64")
	}
	return int64(size), nil
}

// hdGeometry mirrors struct hd_geometry from <linux/hdreg.h>.
type hdGeometry struct {
	heads     uint8
	sectors   uint8
	cylinders uint16
	start     uint64
}

// detectTopology asks the kernel for the device's I/O topology and
// CHS geometry. Fields the kernel will not answer for stay zero and
// get the usual defaults downstream.
func detectTopology(f *os.File) geom.Topology {
	fd := int(f.Fd())
	topo := geom.Topology{}

	get := func(req uint, dst *uint64) {
		v, err := unix.IoctlGetUint32(fd, req)
		if err != nil {
			log.Debugf("topology ioctl %#x on %s: %v", req, f.Name(), err)
			return
		}
		*dst = uint64(v)
	}
	get(unix.BLKSSZGET, &topo.SectorSize)
	get(unix.BLKPBSZGET, &topo.PhysicalSectorSize)
	get(unix.BLKIOMIN, &topo.MinimumIOSize)
	get(unix.BLKIOOPT, &topo.OptimalIOSize)

	var off uint64
	get(unix.BLKALIGNOFF, &off)
	// the kernel reports -1 when the offset is unknowable
	if int32(off) > 0 {
		topo.AlignmentOffset = uint64(int32(off))
	}

	var g hdGeometry
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), unix.HDIO_GETGEO, uintptr(unsafe.Pointer(&g)))
	if errno == 0 {
		topo.Heads = uint32(g.heads)
		topo.Sectors = uint32(g.sectors)
	} else {
		log.Debugf("HDIO_GETGEO on %s: %v", f.Name(), errno)
	}
	return topo
}

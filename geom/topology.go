// Package geom models device geometry and I/O topology and provides
// the LBA alignment arithmetic shared by all partition-table types.
package geom

const (
	// DefaultSectorSize is assumed when the device reports nothing.
	DefaultSectorSize = 512
	// megabyte is the default partition offset and allocation grain,
	// the same default modern Windows and Linux tools settled on.
	megabyte = 1024 * 1024
)

// Topology is what the device (or its kernel driver) reports about its
// own I/O characteristics. Zero values mean "not reported" and are
// normalized away by NewAlignment.
type Topology struct {
	// SectorSize is the logical sector size in bytes, the unit LBAs count.
	SectorSize uint64
	// PhysicalSectorSize is the device's real write unit in bytes.
	PhysicalSectorSize uint64
	// MinimumIOSize and OptimalIOSize are the kernel's minimum_io_size
	// and optimal_io_size hints in bytes.
	MinimumIOSize uint64
	OptimalIOSize uint64
	// AlignmentOffset is the byte distance from LBA 0 to the first
	// physical sector boundary, nonzero on drives whose physical
	// sector 0 sits before LBA 0.
	AlignmentOffset uint64
	// Heads and Sectors are the kernel-reported CHS geometry, both 0
	// when the driver has none.
	Heads   uint32
	Sectors uint32
}

// DefaultTopology describes a plain file or any device that reports
// nothing: 512-byte logical and physical sectors, no hints.
func DefaultTopology() Topology {
	return Topology{
		SectorSize:         DefaultSectorSize,
		PhysicalSectorSize: DefaultSectorSize,
	}
}

func (t Topology) normalized() Topology {
	if t.SectorSize == 0 {
		t.SectorSize = DefaultSectorSize
	}
	if t.PhysicalSectorSize == 0 {
		t.PhysicalSectorSize = t.SectorSize
	}
	if t.MinimumIOSize == 0 {
		t.MinimumIOSize = t.PhysicalSectorSize
	}
	return t
}

// hasInfo reports whether the device exposed real topology, as opposed
// to the defaults every disk gets.
func (t Topology) hasInfo() bool {
	return t.OptimalIOSize != 0 ||
		t.AlignmentOffset != 0 ||
		!isPowerOf2(t.MinimumIOSize)
}

// ioSize is the preferred I/O size: optimal when the device reports
// one, minimum otherwise.
func (t Topology) ioSize() uint64 {
	if t.OptimalIOSize != 0 {
		return t.OptimalIOSize
	}
	return t.MinimumIOSize
}

func isPowerOf2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

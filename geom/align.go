package geom

// Direction selects which way Align moves a misaligned LBA.
type Direction int

const (
	// Up rounds to the next aligned LBA.
	Up Direction = iota
	// Down rounds to the previous aligned LBA.
	Down
	// Nearest rounds to whichever aligned LBA is closer.
	Nearest
)

// Alignment converts raw LBAs into topology-aligned LBAs. FirstLBA and
// Grain start from topology-derived defaults but stay settable: DOS
// compatibility mode pins FirstLBA to sectors-per-track.
type Alignment struct {
	Topo         Topology
	SectorSize   uint64
	TotalSectors uint64
	// Grain is the allocation granularity in bytes.
	Grain uint64
	// FirstLBA is the first LBA at which partition data may begin.
	FirstLBA uint64
}

// NewAlignment derives the alignment parameters for a device from its
// topology and size.
func NewAlignment(t Topology, totalSectors uint64) *Alignment {
	t = t.normalized()
	a := &Alignment{
		Topo:         t,
		SectorSize:   t.SectorSize,
		TotalSectors: totalSectors,
	}
	a.Grain = defaultGrain(t, totalSectors)
	a.FirstLBA = defaultFirstLBA(t, totalSectors)
	return a
}

// defaultFirstLBA picks where the first partition should start: the
// alignment offset or a large optimal I/O size when the device exposes
// topology, otherwise 1MiB, reduced to one physical sector on devices
// too small for such an offset to make sense.
func defaultFirstLBA(t Topology, totalSectors uint64) uint64 {
	var x uint64
	if t.hasInfo() {
		if t.AlignmentOffset != 0 {
			x = t.AlignmentOffset
		} else if t.ioSize() > megabyte {
			x = t.ioSize()
		}
	}
	if x == 0 {
		x = megabyte
	}
	res := x / t.SectorSize
	if totalSectors <= 4*res {
		res = t.PhysicalSectorSize / t.SectorSize
	}
	if res == 0 {
		res = 1
	}
	return res
}

// defaultGrain is the larger of the optimal I/O size and 1MiB, one
// physical sector on very small devices.
func defaultGrain(t Topology, totalSectors uint64) uint64 {
	res := t.ioSize()
	if res < megabyte {
		res = megabyte
	}
	if totalSectors <= 4*(res/t.SectorSize) {
		res = t.PhysicalSectorSize
	}
	return res
}

// granularity is the alignment test unit: the larger of the physical
// sector size and the minimum I/O size, widened to the grain when the
// grain is larger still.
func (a *Alignment) granularity() uint64 {
	g := a.Topo.PhysicalSectorSize
	if a.Topo.MinimumIOSize > g {
		g = a.Topo.MinimumIOSize
	}
	if a.Grain > g {
		g = a.Grain
	}
	return g
}

// IsAligned reports whether an LBA sits on a physical I/O boundary,
// compensating for the device's alignment offset.
func (a *Alignment) IsAligned(lba uint64) bool {
	g := a.granularity()
	off := (lba * a.SectorSize) % g
	return (g+a.Topo.AlignmentOffset-off)%g == 0
}

// Align snaps an LBA onto an aligned boundary in the given direction.
// Already-aligned LBAs are returned unchanged; LBAs below FirstLBA are
// clamped to it.
func (a *Alignment) Align(lba uint64, dir Direction) uint64 {
	if a.IsAligned(lba) {
		return lba
	}
	sects := a.Grain / a.SectorSize
	if sects == 0 {
		sects = 1
	}

	var res uint64
	switch {
	case lba < a.FirstLBA:
		res = a.FirstLBA
	case dir == Up:
		res = ((lba + sects) / sects) * sects
	case dir == Down:
		res = (lba / sects) * sects
	default:
		res = ((lba + sects/2) / sects) * sects
	}

	if a.Topo.AlignmentOffset != 0 && !a.IsAligned(res) {
		// physical sector 0 sits before LBA 0, move onto the shifted
		// boundary
		shift := (a.granularity() - a.Topo.AlignmentOffset) / a.SectorSize
		if shift <= res {
			res -= shift
			if dir == Up && res < lba {
				res += sects
			}
		}
	}
	return res
}

// AlignInRange aligns start up and stop down, then clamps the
// nearest-aligned lba into [start, stop].
func (a *Alignment) AlignInRange(lba, start, stop uint64) uint64 {
	start = a.Align(start, Up)
	stop = a.Align(stop, Down)
	lba = a.Align(lba, Nearest)

	if lba < start {
		return start
	}
	if lba > stop {
		return stop
	}
	return lba
}

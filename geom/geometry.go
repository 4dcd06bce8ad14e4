package geom

const (
	// defaults used when neither the kernel nor the caller supplies a
	// CHS geometry, the values every BIOS-era tool assumes
	defaultHeads   = 255
	defaultSectors = 63
)

// Geometry is the cylinder/head/sector view of a disk. Only DOS tables
// care, and under Linux only the advisory CHS entry fields use it, but
// DOS compatibility mode also pins the first usable LBA to one track.
type Geometry struct {
	Heads     uint32
	Sectors   uint32
	Cylinders uint64
	// DOSCompatible constrains partition starts the way BIOS-era DOS
	// required: the first usable LBA equals sectors-per-track.
	DOSCompatible bool
}

// NewGeometry builds a geometry from the kernel-reported values in the
// topology, falling back to 255 heads and 63 sectors, and derives the
// cylinder count from the disk size.
func NewGeometry(t Topology, totalSectors uint64) *Geometry {
	g := &Geometry{Heads: t.Heads, Sectors: t.Sectors}
	if g.Heads == 0 {
		g.Heads = defaultHeads
	}
	if g.Sectors == 0 {
		g.Sectors = defaultSectors
	}
	g.Recount(totalSectors)
	return g
}

// SectorsPerCylinder is heads times sectors-per-track.
func (g *Geometry) SectorsPerCylinder() uint64 {
	return uint64(g.Heads) * uint64(g.Sectors)
}

// Recount rederives the cylinder count from the disk size. Call after
// changing Heads or Sectors.
func (g *Geometry) Recount(totalSectors uint64) {
	spc := g.SectorsPerCylinder()
	if spc == 0 {
		g.Cylinders = 0
		return
	}
	g.Cylinders = totalSectors / spc
}

// ToCHS converts an LBA into cylinder, head and 1-based sector.
func (g *Geometry) ToCHS(lba uint64) (cylinder uint64, head uint32, sector uint32) {
	spc := g.SectorsPerCylinder()
	cylinder = lba / spc
	rest := lba % spc
	head = uint32(rest / uint64(g.Sectors))
	sector = uint32(rest%uint64(g.Sectors)) + 1
	return cylinder, head, sector
}

// ToLBA converts a cylinder, head and 1-based sector into an LBA.
func (g *Geometry) ToLBA(cylinder uint64, head, sector uint32) uint64 {
	return (cylinder*uint64(g.Heads)+uint64(head))*uint64(g.Sectors) + uint64(sector) - 1
}

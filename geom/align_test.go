package geom

import (
	"testing"
)

func TestDefaultFirstLBA(t *testing.T) {
	tests := []struct {
		name  string
		topo  Topology
		total uint64
		want  uint64
	}{
		{"plain file defaults to 1MiB", DefaultTopology(), 1000000, 2048},
		{"tiny device falls back to one physical sector", DefaultTopology(), 5000, 1},
		{"four offsets of room is still tiny", DefaultTopology(), 8192, 1},
		{"just past four offsets keeps the offset", DefaultTopology(), 8193, 2048},
		{"large optimal io wins", Topology{SectorSize: 512, PhysicalSectorSize: 4096, OptimalIOSize: 8 * megabyte}, 1000000, 16384},
		{"alignment offset wins", Topology{SectorSize: 512, PhysicalSectorSize: 4096, AlignmentOffset: 3584}, 1000000, 7},
		{"small optimal io ignored", Topology{SectorSize: 512, PhysicalSectorSize: 512, OptimalIOSize: 65536}, 1000000, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAlignment(tt.topo, tt.total)
			if a.FirstLBA != tt.want {
				t.Errorf("FirstLBA %d instead of %d", a.FirstLBA, tt.want)
			}
		})
	}
}

func TestDefaultGrain(t *testing.T) {
	tests := []struct {
		name  string
		topo  Topology
		total uint64
		want  uint64
	}{
		{"defaults to 1MiB", DefaultTopology(), 1000000, megabyte},
		{"large optimal io wins", Topology{SectorSize: 512, PhysicalSectorSize: 4096, OptimalIOSize: 8 * megabyte}, 1000000, 8 * megabyte},
		{"tiny device uses one physical sector", Topology{SectorSize: 512, PhysicalSectorSize: 4096}, 4096, 4096},
		{"four grains of room is still tiny", DefaultTopology(), 8192, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAlignment(tt.topo, tt.total)
			if a.Grain != tt.want {
				t.Errorf("Grain %d instead of %d", a.Grain, tt.want)
			}
		})
	}
}

func TestAlign(t *testing.T) {
	plain := NewAlignment(DefaultTopology(), 1000000)
	// physical sector 0 is 3584 bytes before LBA 0, so aligned LBAs sit
	// at 7 mod 2048
	shifted := NewAlignment(Topology{SectorSize: 512, PhysicalSectorSize: 4096, AlignmentOffset: 3584}, 1000000)

	tests := []struct {
		name string
		a    *Alignment
		lba  uint64
		dir  Direction
		want uint64
	}{
		{"aligned lba unchanged", plain, 2048, Down, 2048},
		{"below first lba clamps", plain, 100, Down, 2048},
		{"up", plain, 2049, Up, 4096},
		{"down", plain, 2049, Down, 2048},
		{"nearest rounds up past midpoint", plain, 3072, Nearest, 4096},
		{"nearest rounds down before midpoint", plain, 2500, Nearest, 2048},
		{"offset compensation", shifted, 2048, Up, 2055},
		{"offset aligned lba unchanged", shifted, 2055, Up, 2055},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Align(tt.lba, tt.dir); got != tt.want {
				t.Errorf("Align(%d) = %d instead of %d", tt.lba, got, tt.want)
			}
		})
	}
}

func TestAlignIdempotent(t *testing.T) {
	alignments := map[string]*Alignment{
		"plain":   NewAlignment(DefaultTopology(), 1000000),
		"4k":      NewAlignment(Topology{SectorSize: 512, PhysicalSectorSize: 4096}, 1000000),
		"shifted": NewAlignment(Topology{SectorSize: 512, PhysicalSectorSize: 4096, AlignmentOffset: 3584}, 1000000),
	}
	lbas := []uint64{0, 1, 7, 63, 2047, 2048, 2049, 3000, 4095, 65536, 999999}
	for name, a := range alignments {
		for _, dir := range []Direction{Up, Down, Nearest} {
			for _, lba := range lbas {
				once := a.Align(lba, dir)
				twice := a.Align(once, dir)
				if once != twice {
					t.Errorf("%s: Align(Align(%d, %d)) = %d, not a fixed point of %d", name, lba, dir, twice, once)
				}
			}
		}
	}
}

func TestAlignInRange(t *testing.T) {
	a := NewAlignment(DefaultTopology(), 1000000)
	tests := []struct {
		name             string
		lba, start, stop uint64
		want             uint64
	}{
		{"inside range", 5000, 3000, 10000, 4096},
		{"clamped to aligned start", 100, 3000, 10000, 4096},
		{"clamped to aligned stop", 99999, 3000, 10000, 8192},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.AlignInRange(tt.lba, tt.start, tt.stop); got != tt.want {
				t.Errorf("AlignInRange(%d, %d, %d) = %d instead of %d", tt.lba, tt.start, tt.stop, got, tt.want)
			}
		})
	}
}

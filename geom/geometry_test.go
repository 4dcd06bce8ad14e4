package geom

import "testing"

func TestNewGeometry(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		g := NewGeometry(DefaultTopology(), 1000000)
		if g.Heads != 255 || g.Sectors != 63 {
			t.Errorf("geometry %d/%d instead of 255/63", g.Heads, g.Sectors)
		}
		if g.Cylinders != 62 {
			t.Errorf("cylinders %d instead of 62", g.Cylinders)
		}
	})
	t.Run("kernel geometry wins", func(t *testing.T) {
		topo := DefaultTopology()
		topo.Heads, topo.Sectors = 16, 32
		g := NewGeometry(topo, 1000000)
		if g.Heads != 16 || g.Sectors != 32 {
			t.Errorf("geometry %d/%d instead of 16/32", g.Heads, g.Sectors)
		}
	})
}

func TestRecount(t *testing.T) {
	g := NewGeometry(DefaultTopology(), 1000000)
	g.Heads, g.Sectors = 16, 63
	g.Recount(1000000)
	if g.Cylinders != 992 {
		t.Errorf("cylinders %d instead of 992", g.Cylinders)
	}
}

func TestCHSConversion(t *testing.T) {
	g := NewGeometry(DefaultTopology(), 1000000)

	c, h, s := g.ToCHS(2048)
	if c != 0 || h != 32 || s != 33 {
		t.Errorf("ToCHS(2048) = %d/%d/%d instead of 0/32/33", c, h, s)
	}

	for _, lba := range []uint64{0, 1, 62, 63, 2048, 999999} {
		c, h, s := g.ToCHS(lba)
		if back := g.ToLBA(c, h, s); back != lba {
			t.Errorf("ToLBA(ToCHS(%d)) = %d", lba, back)
		}
	}
}

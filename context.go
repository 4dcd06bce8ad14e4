package disklabel

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel/geom"
	"github.com/linuxkit/disklabel/label"
	"github.com/linuxkit/disklabel/label/dos"
	"github.com/linuxkit/disklabel/label/gpt"
	"github.com/linuxkit/disklabel/util"
)

// state tracks what probing (or label creation) made of the device.
type state int

const (
	stateUnprobed state = iota
	stateDOS
	stateGPT
	// stateOther is a label this engine recognizes but cannot edit.
	stateOther
	stateUnrecognized
)

// Context binds one device to at most one active partition table and
// routes every operation to it. All edits stay in memory until Write.
type Context struct {
	dev      *label.Device
	file     *os.File // set when the Context owns the handle
	readOnly bool

	state  state
	kind   label.Kind
	active label.Label
}

func newContext(f util.File, name string, totalSectors uint64, topo geom.Topology) *Context {
	dev := &label.Device{
		File:         f,
		Name:         name,
		SectorSize:   topo.SectorSize,
		TotalSectors: totalSectors,
		Geometry:     geom.NewGeometry(topo, totalSectors),
		Align:        geom.NewAlignment(topo, totalSectors),
	}
	// NewAlignment normalizes zero topology fields, keep the device in
	// step with it
	dev.SectorSize = dev.Align.SectorSize
	return &Context{dev: dev}
}

// Device exposes the bound device view: name, sizes, geometry and
// alignment. Collaborators like the layout package size partitions
// from it.
func (c *Context) Device() *label.Device { return c.dev }

// Close releases the device handle, if the Context owns one. In-memory
// edits not yet written are discarded.
func (c *Context) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// Probe identifies the partition table on the device. It runs once;
// later calls return the cached answer. The checks run in a fixed
// priority order: the legacy signatures first, then GPT, then DOS.
// GPT must come before DOS because a protective MBR parses as a
// plausible DOS table with one 0xEE partition.
func (c *Context) Probe() (label.Kind, error) {
	if c.state != stateUnprobed {
		return c.Kind(), nil
	}

	sector, err := c.dev.ReadSector(0)
	if err != nil {
		return label.Unknown, errors.Wrapf(err, "probing %s", c.dev.Name)
	}
	if kind, ok := label.RecognizeOther(sector); ok {
		log.Debugf("%s carries a %s label", c.dev.Name, kind)
		c.state, c.kind = stateOther, kind
		return kind, nil
	}

	if t, err := gpt.Read(c.dev); err == nil {
		c.state, c.kind, c.active = stateGPT, label.GPT, t
		return label.GPT, nil
	} else {
		log.Debugf("%s is not GPT: %v", c.dev.Name, err)
	}
	if t, err := dos.Read(c.dev); err == nil {
		c.state, c.kind, c.active = stateDOS, label.DOS, t
		return label.DOS, nil
	} else {
		log.Debugf("%s is not DOS: %v", c.dev.Name, err)
	}

	log.Debugf("%s has no recognizable partition table", c.dev.Name)
	c.state = stateUnrecognized
	return label.Unknown, nil
}

// Kind reports the identified or created label type, label.Unknown
// before probing and on unrecognized devices.
func (c *Context) Kind() label.Kind {
	switch c.state {
	case stateDOS:
		return label.DOS
	case stateGPT:
		return label.GPT
	case stateOther:
		return c.kind
	default:
		return label.Unknown
	}
}

// Label probes if needed and returns the active label. Devices with a
// recognized but uneditable label return ErrUnsupported, blank devices
// ErrNoLabel.
func (c *Context) Label() (label.Label, error) {
	if _, err := c.Probe(); err != nil {
		return nil, err
	}
	switch c.state {
	case stateDOS, stateGPT:
		return c.active, nil
	case stateOther:
		return nil, errors.Wrapf(label.ErrUnsupported, "%s has a %s label", c.dev.Name, c.kind)
	default:
		return nil, errors.Wrapf(label.ErrNoLabel, "%s", c.dev.Name)
	}
}

// CreateLabel initializes a fresh label of the given kind, discarding
// whatever the device held before. The old table stays on disk until
// Write.
func (c *Context) CreateLabel(kind label.Kind) (label.Label, error) {
	switch kind {
	case label.DOS:
		c.active = dos.Create(c.dev)
		c.state = stateDOS
	case label.GPT:
		t, err := gpt.Create(c.dev)
		if err != nil {
			return nil, err
		}
		c.active = t
		c.state = stateGPT
	default:
		return nil, errors.Wrapf(label.ErrUnsupported, "cannot create a %s label", kind)
	}
	c.kind = kind
	return c.active, nil
}

// SetDOSCompatible toggles BIOS-era placement rules: partitions start
// on track boundaries and the first usable LBA is one track in.
// Turning it off restores the topology-derived alignment.
func (c *Context) SetDOSCompatible(on bool) {
	c.dev.Geometry.DOSCompatible = on
	if on {
		c.dev.Align.FirstLBA = uint64(c.dev.Geometry.Sectors)
		c.dev.Align.Grain = c.dev.Align.SectorSize
		return
	}
	c.dev.Align = geom.NewAlignment(c.dev.Align.Topo, c.dev.TotalSectors)
}

// UUID returns the disk identifier of the active label, empty for
// devices without one.
func (c *Context) UUID() string {
	if _, err := c.Probe(); err != nil {
		return ""
	}
	if c.active == nil {
		return ""
	}
	return c.active.UUID()
}

// Partitions lists the partitions of the active label. A blank device
// lists as empty rather than failing; uneditable labels return
// ErrUnsupported.
func (c *Context) Partitions() ([]label.Row, error) {
	if _, err := c.Probe(); err != nil {
		return nil, err
	}
	if c.state == stateUnrecognized {
		return nil, nil
	}
	lbl, err := c.Label()
	if err != nil {
		return nil, err
	}
	return lbl.Partitions(), nil
}

// Add creates a partition on the active label.
func (c *Context) Add(req label.AddRequest) (label.Row, error) {
	lbl, err := c.Label()
	if err != nil {
		return label.Row{}, err
	}
	return lbl.Add(req)
}

// Delete removes a partition from the active label.
func (c *Context) Delete(index int) error {
	lbl, err := c.Label()
	if err != nil {
		return err
	}
	return lbl.Delete(index)
}

// SetType changes a partition's type on the active label.
func (c *Context) SetType(index int, typeID string) error {
	lbl, err := c.Label()
	if err != nil {
		return err
	}
	return lbl.SetType(index, typeID)
}

// Verify cross-checks the active label and returns its diagnostics.
func (c *Context) Verify() (*label.VerifyResult, error) {
	lbl, err := c.Label()
	if err != nil {
		return nil, err
	}
	return lbl.Verify(), nil
}

// Write commits the active label to the device.
func (c *Context) Write() error {
	if c.readOnly {
		return errors.Errorf("%s is opened read-only", c.dev.Name)
	}
	lbl, err := c.Label()
	if err != nil {
		return err
	}
	return lbl.Write()
}

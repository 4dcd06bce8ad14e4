// Package layout reads and writes declarative partition layouts. A
// layout names a label kind and the partitions to create on it, sized
// in sectors or in human units, and can be captured from an existing
// disk so the same table can be reproduced elsewhere.
package layout

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v2"

	"github.com/linuxkit/disklabel"
	"github.com/linuxkit/disklabel/label"
	"github.com/linuxkit/disklabel/label/gpt"
)

// Spec is one YAML layout document.
type Spec struct {
	Label      string      `yaml:"label"`
	Partitions []Partition `yaml:"partitions"`
}

// Partition describes one partition to create. Size and Sectors are
// mutually exclusive; when both are absent the partition takes the
// rest of its free segment. A zero Slot picks the first free slot, a
// zero Start lets the alignment rules choose.
type Partition struct {
	Slot     int    `yaml:"slot,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Type     string `yaml:"type,omitempty"`
	Start    uint64 `yaml:"start,omitempty"`
	Size     string `yaml:"size,omitempty"`
	Sectors  uint64 `yaml:"sectors,omitempty"`
	Attrs    uint64 `yaml:"attrs,omitempty"`
	Bootable bool   `yaml:"bootable,omitempty"`
}

// Parse reads a YAML layout document. The document is checked against
// the layout schema first, so a misspelled key fails with a pointed
// message instead of silently becoming a zero value.
func Parse(data []byte) (*Spec, error) {
	// Parse raw yaml
	var rawYaml interface{}
	if err := yaml.Unmarshal(data, &rawYaml); err != nil {
		return nil, errors.Wrap(err, "parsing layout")
	}

	// Convert to raw JSON and validate against the schema
	rawJSON := convert(rawYaml)
	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(rawJSON)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, errors.Wrap(err, "validating layout")
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, errors.Errorf("invalid layout: %s", strings.Join(msgs, "; "))
	}

	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parsing layout")
	}
	return &s, nil
}

// convert rewrites the map types yaml produces into the ones the JSON
// schema validator can walk.
func convert(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			m2[fmt.Sprint(k)] = convert(v)
		}
		return m2
	case []interface{}:
		for i, v := range x {
			x[i] = convert(v)
		}
	}
	return i
}

// Bytes renders the layout back to YAML.
func (s *Spec) Bytes() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "rendering layout")
	}
	return data, nil
}

// ParseKind maps a layout label name to a label kind.
func ParseKind(s string) (label.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dos", "mbr", "msdos":
		return label.DOS, nil
	case "gpt":
		return label.GPT, nil
	case "":
		return label.Unknown, errors.New("layout does not name a label kind")
	}
	return label.Unknown, errors.Errorf("unsupported label kind %q", s)
}

// Apply replaces whatever the device holds with a fresh label of the
// requested kind and adds every partition in order. Any error leaves
// the in-memory table partially built; nothing has touched the disk
// until the caller writes it out.
func Apply(ctx *disklabel.Context, s *Spec) error {
	kind, err := ParseKind(s.Label)
	if err != nil {
		return err
	}
	lbl, err := ctx.CreateLabel(kind)
	if err != nil {
		return err
	}
	sectorSize := ctx.Device().SectorSize
	for i, p := range s.Partitions {
		req, err := p.request(sectorSize)
		if err != nil {
			return errors.Wrapf(err, "partition %d", i+1)
		}
		if _, err := lbl.Add(req); err != nil {
			return errors.Wrapf(err, "partition %d", i+1)
		}
	}
	return nil
}

// Dump captures the device's current table as a layout. Starts and
// sizes come out in exact sectors so that applying the result
// reproduces the table bit for bit.
func Dump(ctx *disklabel.Context) (*Spec, error) {
	lbl, err := ctx.Label()
	if err != nil {
		return nil, err
	}
	s := &Spec{Label: lbl.Kind().String()}
	for _, r := range lbl.Partitions() {
		attrs := r.Attrs
		if r.Bootable {
			// the boot flag rides in its own field
			attrs &^= gpt.AttrLegacyBootable
		}
		s.Partitions = append(s.Partitions, Partition{
			Slot:     r.Number,
			Name:     r.Name,
			Type:     r.TypeID,
			Start:    r.Start,
			Sectors:  r.Sectors,
			Attrs:    attrs,
			Bootable: r.Bootable,
		})
	}
	return s, nil
}

func (p *Partition) request(sectorSize uint64) (label.AddRequest, error) {
	req := label.AddRequest{
		Index:    p.Slot - 1,
		Start:    p.Start,
		Type:     p.Type,
		Name:     p.Name,
		Attrs:    p.Attrs,
		Bootable: p.Bootable,
	}
	sectors := p.Sectors
	if p.Size != "" {
		if sectors != 0 {
			return req, errors.New("size and sectors are mutually exclusive")
		}
		b, err := humanize.ParseBytes(p.Size)
		if err != nil {
			return req, errors.Wrapf(err, "size %q", p.Size)
		}
		sectors = (b + sectorSize - 1) / sectorSize
	}
	if sectors != 0 {
		req.Ask = WantSectors(sectors)
	}
	return req, nil
}

// WantSectors turns a fixed length into an AskFunc: start proposals
// are accepted as offered, the last-sector proposal is replaced with
// start+sectors-1.
func WantSectors(sectors uint64) label.AskFunc {
	return func(prompt string, def, low, high uint64) (uint64, error) {
		if prompt != "Last sector" {
			return def, nil
		}
		want := low + sectors - 1
		if want < low || want > high {
			return 0, errors.Errorf("%d sectors do not fit in the free segment [%d, %d]", sectors, low, high)
		}
		return want, nil
	}
}

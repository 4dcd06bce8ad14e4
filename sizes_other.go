//go:build !linux

package disklabel

import (
	"os"

	"github.com/pkg/errors"

	"github.com/linuxkit/disklabel/geom"
)

func blockDeviceSize(f *os.File) (int64, error) {
	return 0, errors.Errorf("cannot size block device %s: only supported on linux", f.Name())
}

func detectTopology(f *os.File) geom.Topology {
	return geom.DefaultTopology()
}

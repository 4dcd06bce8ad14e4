// Package util provides the minimal device contract shared by the
// partition-table packages.
package util

import "io"

// File is the interface a block device, disk image or test stub must
// satisfy to back a partition table. Everything the engine does goes
// through positioned reads and writes; Seek only ever measures size.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
}

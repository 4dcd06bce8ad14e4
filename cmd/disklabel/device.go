package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel"
)

// openContext opens a device or image path. Commands that only read
// pass rw=false so that write-protected devices still open.
func openContext(path string, rw bool) *disklabel.Context {
	mode := os.O_RDONLY
	if rw {
		mode = os.O_RDWR
	}
	ctx, err := disklabel.OpenWithMode(path, mode)
	if err != nil {
		log.Fatalf("Cannot open %s: %v", path, err)
	}
	return ctx
}

// writeAndClose flushes the table to the device and closes it.
func writeAndClose(ctx *disklabel.Context) {
	if err := ctx.Write(); err != nil {
		log.Fatalf("Cannot write the partition table: %v", err)
	}
	if err := ctx.Close(); err != nil {
		log.Fatalf("Cannot close the device: %v", err)
	}
}

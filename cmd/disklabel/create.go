package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel"
	"github.com/linuxkit/disklabel/layout"
)

func create(args []string) {
	createCmd := flag.NewFlagSet("create", flag.ExitOnError)
	createCmd.Usage = func() {
		fmt.Printf("USAGE: %s create [options] <device>\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		createCmd.PrintDefaults()
	}
	createLabel := createCmd.String("label", "gpt", "Label kind to create (dos or gpt)")
	createSize := createCmd.String("size", "", "Create <device> as an image file of this size first (e.g. 1GiB)")
	createDOSCompat := createCmd.Bool("dos-compat", false, "Use cylinder-style placement for DOS labels")

	if err := createCmd.Parse(args); err != nil {
		log.Fatal("Unable to parse args")
	}
	remArgs := createCmd.Args()
	if len(remArgs) == 0 {
		fmt.Println("Please specify a device or image")
		createCmd.Usage()
		os.Exit(1)
	}
	path := remArgs[0]

	kind, err := layout.ParseKind(*createLabel)
	if err != nil {
		log.Fatalf("%v", err)
	}
	ctx := openOrCreate(path, *createSize)
	if *createDOSCompat {
		ctx.SetDOSCompatible(true)
	}
	if _, err := ctx.CreateLabel(kind); err != nil {
		log.Fatalf("Cannot create a %s label: %v", kind, err)
	}
	writeAndClose(ctx)
	log.Infof("Created an empty %s label on %s", kind, path)
}

// openOrCreate opens path read-write, first creating it as a sparse
// image file of the given human-readable size when one is set.
func openOrCreate(path, size string) *disklabel.Context {
	if size == "" {
		return openContext(path, true)
	}
	b, err := humanize.ParseBytes(size)
	if err != nil {
		log.Fatalf("Cannot parse size %q: %v", size, err)
	}
	ctx, err := disklabel.Create(path, int64(b))
	if err != nil {
		log.Fatalf("Cannot create %s: %v", path, err)
	}
	return ctx
}

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel/layout"
)

func applyLayout(args []string) {
	applyCmd := flag.NewFlagSet("apply", flag.ExitOnError)
	applyCmd.Usage = func() {
		fmt.Printf("USAGE: %s apply [options] <device> <layout>[.yml] | -\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		applyCmd.PrintDefaults()
	}
	applySize := applyCmd.String("size", "", "Create <device> as an image file of this size first (e.g. 1GiB)")

	if err := applyCmd.Parse(args); err != nil {
		log.Fatal("Unable to parse args")
	}
	remArgs := applyCmd.Args()
	if len(remArgs) < 2 {
		fmt.Println("Please specify a device and a layout file")
		applyCmd.Usage()
		os.Exit(1)
	}
	path := remArgs[0]

	var data []byte
	var err error
	if conf := remArgs[1]; conf == "-" {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("Cannot read stdin: %v", err)
		}
	} else {
		if !(filepath.Ext(conf) == ".yml" || filepath.Ext(conf) == ".yaml") {
			conf = conf + ".yml"
		}
		data, err = os.ReadFile(conf)
		if err != nil {
			log.Fatalf("Cannot open layout file: %v", err)
		}
	}
	spec, err := layout.Parse(data)
	if err != nil {
		log.Fatalf("Cannot parse the layout: %v", err)
	}

	ctx := openOrCreate(path, *applySize)
	if err := layout.Apply(ctx, spec); err != nil {
		log.Fatalf("Cannot apply the layout to %s: %v", path, err)
	}
	writeAndClose(ctx)
	log.Infof("Applied %s label with %d partitions to %s", spec.Label, len(spec.Partitions), path)
}

package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel/layout"
)

func dump(args []string) {
	dumpCmd := flag.NewFlagSet("dump", flag.ExitOnError)
	dumpCmd.Usage = func() {
		fmt.Printf("USAGE: %s dump <device>\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		dumpCmd.PrintDefaults()
	}
	if err := dumpCmd.Parse(args); err != nil {
		log.Fatal("Unable to parse args")
	}
	remArgs := dumpCmd.Args()
	if len(remArgs) == 0 {
		fmt.Println("Please specify a device or image")
		dumpCmd.Usage()
		os.Exit(1)
	}

	ctx := openContext(remArgs[0], false)
	spec, err := layout.Dump(ctx)
	if err != nil {
		log.Fatalf("Cannot dump %s: %v", remArgs[0], err)
	}
	data, err := spec.Bytes()
	if err != nil {
		log.Fatalf("Cannot render the layout: %v", err)
	}
	os.Stdout.Write(data)
}

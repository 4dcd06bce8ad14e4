package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel/label"
	"github.com/linuxkit/disklabel/layout"
)

func add(args []string) {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	addCmd.Usage = func() {
		fmt.Printf("USAGE: %s add [options] <device>\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		addCmd.PrintDefaults()
	}
	addSlot := addCmd.Int("slot", 0, "Slot to fill, 1-based (default first free)")
	addStart := addCmd.Uint64("start", 0, "First sector (default first aligned free sector)")
	addEnd := addCmd.Uint64("end", 0, "Last sector, inclusive (default rest of the free segment)")
	addSize := addCmd.String("size", "", "Partition size (e.g. 200MiB), instead of -end")
	addSectors := addCmd.Uint64("sectors", 0, "Partition size in sectors, instead of -end")
	addType := addCmd.String("type", "", "Partition type: hex id for DOS, GUID or alias for GPT")
	addName := addCmd.String("name", "", "Partition name (GPT)")
	addAttrs := addCmd.Uint64("attrs", 0, "Attribute bits (GPT)")
	addBootable := addCmd.Bool("bootable", false, "Mark the partition bootable")
	addDOSCompat := addCmd.Bool("dos-compat", false, "Use cylinder-style placement for DOS labels")

	if err := addCmd.Parse(args); err != nil {
		log.Fatal("Unable to parse args")
	}
	remArgs := addCmd.Args()
	if len(remArgs) == 0 {
		fmt.Println("Please specify a device or image")
		addCmd.Usage()
		os.Exit(1)
	}

	ctx := openContext(remArgs[0], true)
	if *addDOSCompat {
		ctx.SetDOSCompatible(true)
	}

	req := label.AddRequest{
		Index:    *addSlot - 1,
		Start:    *addStart,
		End:      *addEnd,
		Type:     *addType,
		Name:     *addName,
		Attrs:    *addAttrs,
		Bootable: *addBootable,
	}
	if *addSize != "" || *addSectors != 0 {
		if *addEnd != 0 {
			log.Fatal("-end cannot be combined with -size or -sectors")
		}
		sectors := *addSectors
		if *addSize != "" {
			if sectors != 0 {
				log.Fatal("-size and -sectors are mutually exclusive")
			}
			b, err := humanize.ParseBytes(*addSize)
			if err != nil {
				log.Fatalf("Cannot parse size %q: %v", *addSize, err)
			}
			ss := ctx.Device().SectorSize
			sectors = (b + ss - 1) / ss
		}
		req.Ask = layout.WantSectors(sectors)
	}

	row, err := ctx.Add(req)
	if err != nil {
		log.Fatalf("Cannot add the partition: %v", err)
	}
	writeAndClose(ctx)
	log.Infof("Created partition %d: sectors %d-%d (%s), type %s",
		row.Number, row.Start, row.End, humanize.IBytes(row.Size), row.Type)
}

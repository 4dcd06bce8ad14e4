package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/linuxkit/disklabel/label"
)

func list(args []string) {
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listCmd.Usage = func() {
		fmt.Printf("USAGE: %s list <device>\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		listCmd.PrintDefaults()
	}
	if err := listCmd.Parse(args); err != nil {
		log.Fatal("Unable to parse args")
	}
	remArgs := listCmd.Args()
	if len(remArgs) == 0 {
		fmt.Println("Please specify a device or image")
		listCmd.Usage()
		os.Exit(1)
	}

	ctx := openContext(remArgs[0], false)
	dev := ctx.Device()
	kind, err := ctx.Probe()
	if err != nil {
		log.Fatalf("Cannot probe %s: %v", dev.Name, err)
	}
	fmt.Printf("Disk %s: %s, %d sectors of %d bytes\n",
		dev.Name, humanize.IBytes(dev.TotalSectors*dev.SectorSize), dev.TotalSectors, dev.SectorSize)
	if kind == label.Unknown {
		fmt.Printf("No partition table\n")
		return
	}
	if id := ctx.UUID(); id != "" {
		fmt.Printf("Label: %s, id %s\n", kind, id)
	} else {
		fmt.Printf("Label: %s\n", kind)
	}

	rows, err := ctx.Partitions()
	if err != nil {
		log.Fatalf("Cannot list %s: %v", dev.Name, err)
	}
	if len(rows) == 0 {
		return
	}
	fmt.Printf("\n")
	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tBOOT\tSTART\tEND\tSECTORS\tSIZE\tTYPE\tNAME")
	for _, r := range rows {
		boot := ""
		if r.Bootable {
			boot = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.Number, boot, r.Start, r.End, r.Sectors, humanize.IBytes(r.Size), r.Type, r.Name)
	}
	w.Flush()
}

package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

func verify(args []string) {
	verifyCmd := flag.NewFlagSet("verify", flag.ExitOnError)
	verifyCmd.Usage = func() {
		fmt.Printf("USAGE: %s verify <device>\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		verifyCmd.PrintDefaults()
	}
	if err := verifyCmd.Parse(args); err != nil {
		log.Fatal("Unable to parse args")
	}
	remArgs := verifyCmd.Args()
	if len(remArgs) == 0 {
		fmt.Println("Please specify a device or image")
		verifyCmd.Usage()
		os.Exit(1)
	}

	ctx := openContext(remArgs[0], false)
	res, err := ctx.Verify()
	if err != nil {
		log.Fatalf("Cannot verify %s: %v", remArgs[0], err)
	}
	if res.Ok() {
		if res.FreeSegments > 0 {
			log.Infof("No errors detected on %s: %d partitions in use, %d free sectors in %d segments (largest %d)",
				remArgs[0], res.InUse, res.FreeSectors, res.FreeSegments, res.LargestFree)
		} else {
			log.Infof("No errors detected on %s: %d partitions in use, %d free sectors remaining",
				remArgs[0], res.InUse, res.FreeSectors)
		}
		return
	}
	for _, d := range res.Diags {
		log.Errorf("%s", d.Message)
	}
	os.Exit(2)
}

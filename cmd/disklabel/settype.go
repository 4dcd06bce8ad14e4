package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
)

func setType(args []string) {
	setTypeCmd := flag.NewFlagSet("settype", flag.ExitOnError)
	setTypeCmd.Usage = func() {
		fmt.Printf("USAGE: %s settype <device> <number> <type>\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		setTypeCmd.PrintDefaults()
	}
	if err := setTypeCmd.Parse(args); err != nil {
		log.Fatal("Unable to parse args")
	}
	remArgs := setTypeCmd.Args()
	if len(remArgs) < 3 {
		fmt.Println("Please specify a device, a partition number and a type")
		setTypeCmd.Usage()
		os.Exit(1)
	}
	n, err := strconv.Atoi(remArgs[1])
	if err != nil || n < 1 {
		log.Fatalf("%q is not a partition number", remArgs[1])
	}

	ctx := openContext(remArgs[0], true)
	if err := ctx.SetType(n-1, remArgs[2]); err != nil {
		log.Fatalf("Cannot change the type of partition %d: %v", n, err)
	}
	writeAndClose(ctx)
	log.Infof("Partition %d is now type %s", n, remArgs[2])
}

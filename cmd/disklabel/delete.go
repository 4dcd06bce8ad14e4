package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
)

func deletePartition(args []string) {
	deleteCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	deleteCmd.Usage = func() {
		fmt.Printf("USAGE: %s delete <device> <number>\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		deleteCmd.PrintDefaults()
	}
	if err := deleteCmd.Parse(args); err != nil {
		log.Fatal("Unable to parse args")
	}
	remArgs := deleteCmd.Args()
	if len(remArgs) < 2 {
		fmt.Println("Please specify a device and a partition number")
		deleteCmd.Usage()
		os.Exit(1)
	}
	n, err := strconv.Atoi(remArgs[1])
	if err != nil || n < 1 {
		log.Fatalf("%q is not a partition number", remArgs[1])
	}

	ctx := openContext(remArgs[0], true)
	if err := ctx.Delete(n - 1); err != nil {
		log.Fatalf("Cannot delete partition %d: %v", n, err)
	}
	writeAndClose(ctx)
	log.Infof("Deleted partition %d", n)
}

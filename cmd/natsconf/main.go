// Package main renders the broker cluster configuration files.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	natsconfcmd "github.com/formworks/formworks/internal/cmd/natsconf"
)

func main() {
	cfg, err := natsconfcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[NATSCONF] ")

	if err := natsconfcmd.Run(context.Background(), cfg); err != nil {
		log.Fatalf("failed to render: %v", err)
	}
}

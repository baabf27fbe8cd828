package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/buildinfo"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/config"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/daemon"
)

func main() {
	var showVersion bool
	var configPath string
	var seedFiles stringList

	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Var(&seedFiles, "seed", "telemetry export to ingest at startup (repeatable)")
	flag.Parse()

	if showVersion {
		fmt.Println(buildinfo.String())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("vexdashd: %v", err)
	}
	cfg.SeedFiles = append(cfg.SeedFiles, seedFiles...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("vexdashd: starting %s", buildinfo.String())
	if err := daemon.Run(ctx, cfg); err != nil {
		log.Fatalf("vexdashd: %v", err)
	}
	log.Printf("vexdashd: stopped")
}

type stringList []string

func (s *stringList) String() string {
	return fmt.Sprint(*s)
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

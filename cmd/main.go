package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/victornm/arena/internal/config"
	"github.com/victornm/arena/internal/server"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("arena: %v", err)
	}

	// Register before Init so a signal during a slow startup is not lost.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("arena: init: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

func loadConfig() (server.Config, error) {
	var c server.Config

	p := os.Getenv("CONFIG_PATH")
	if p == "" {
		return c, fmt.Errorf("CONFIG_PATH not set; point it at a yaml config file, env vars override its keys")
	}

	if err := config.Load(p, &c); err != nil {
		return c, fmt.Errorf("load config %s: %w", p, err)
	}

	return c, nil
}

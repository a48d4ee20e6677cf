package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ashfaaq98/cybersponse-lookup/cmd"
)

// These are set via -ldflags "-X main.Version=... -X main.BuildTime=...".
var Version = "dev"
var BuildTime = ""

func main() {
	cmd.SetVersion(Version, BuildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}

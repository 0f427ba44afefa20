package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/internal/cli"
)

// Set by the linker.
var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp()
	app.Version = version
	app.Commit = commit
	app.Date = date

	code := cli.Execute(ctx, app, os.Args[1:])
	stop()
	os.Exit(code)
}

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"deribit-probe/internal/transport/ws"
)

func main() {
	// Set up zerolog logger for pretty print
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], ws.NewDialer(), os.Stdout)
	stop()
	os.Exit(code)
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rryowa/sessiond/internal/stubserver"
	"github.com/rryowa/sessiond/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := util.NewZapLogger()

	server, err := stubserver.NewServer(util.NewServerConfig(), logger)
	if err != nil {
		logger.Fatalw("building stub backend", "error", err)
	}

	server.Run(ctx)
}

/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log/slog"

	"github.com/headless-cms/authserver/config"
	"github.com/headless-cms/authserver/internal/db"
	"github.com/headless-cms/authserver/internal/kv"
	"github.com/headless-cms/authserver/internal/server"
	"github.com/headless-cms/authserver/internal/services"
)

// openServices wires the service layer for one-shot commands. Nothing they
// run sends notifications, so a log notifier stands in for the broker.
func openServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (server.Services, func(), error) {
	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return server.Services{}, nil, err
	}
	kvStore, err := kv.Open(ctx, cfg.KV)
	if err != nil {
		_ = dbConn.Close()
		return server.Services{}, nil, err
	}

	svc, err := server.NewServices(cfg, dbConn, kvStore, services.NewLogNotifier(logger, false), logger)
	if err != nil {
		_ = kvStore.Close()
		_ = dbConn.Close()
		return server.Services{}, nil, err
	}
	return svc, func() {
		_ = kvStore.Close()
		_ = dbConn.Close()
	}, nil
}

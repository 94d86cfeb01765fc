package main

import (
	"flag"
	"log/slog"
	"os"

	"wartable/internal/auth"
	"wartable/internal/config"
	"wartable/internal/game"
	"wartable/internal/realtime"
	"wartable/internal/server"
	"wartable/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	st, err := store.Open(logger, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Error("open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	provider := auth.NewProvider(cfg.TokenTTLDuration())
	hub := realtime.NewHub(logger, func(token string) (game.Participant, error) {
		id, err := provider.Verify(token)
		if err != nil {
			return game.Participant{}, err
		}
		return game.Participant{ID: id.UserID, Name: id.Name, Role: id.Role}, nil
	})
	st.SetRowSink(hub)

	srv := server.New(cfg, logger, st, provider, hub)
	if err := srv.Run(); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

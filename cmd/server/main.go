package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/presence"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a config file (default: ./config/config.yaml or ./config.yaml if present)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(cfg.Log)
	l := logging.L()

	if err := run(cfg); err != nil {
		l.Fatal().Err(err).Msg("server exited with error")
	}
	l.Info().Msg("RoomChat server stopped")
}

func run(cfg *config.Config) error {
	l := logging.L()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			l.Warn().Err(err).Msg("error closing database")
		}
	}()
	l.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	for _, name := range cfg.Chat.SeedRooms {
		room, err := db.EnsureRoom(ctx, name, "")
		if err != nil {
			return err
		}
		l.Info().Int64(logging.FieldRoomID, int64(room.ID)).Str("name", room.Name).Msg("room available")
	}

	var tracker chat.PresenceTracker = chat.NopPresence{}
	if cfg.Redis.Enabled {
		rt, err := presence.NewRedisTracker(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				l.Warn().Err(err).Msg("error closing Redis client")
			}
		}()
		tracker = rt
		l.Info().Str("address", cfg.Redis.Address).Msg("presence mirrored to Redis")
	}

	verifier, err := auth.NewJWTVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	core := chat.NewHub(chat.Deps{
		Verifier:  verifier,
		Directory: db,
		Messages:  db,
		Presence:  tracker,
	}, cfg.ChatOptions())

	srv := server.New(cfg.Transport(), core, db, db)
	httpServer := srv.HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartServer(httpServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("shutting down RoomChat server")
		err := srv.Shutdown(httpServer)
		if errors.Is(err, context.DeadlineExceeded) {
			l.Warn().Err(err).Msg("shutdown did not finish in time")
			return nil
		}
		return err
	})

	return g.Wait()
}

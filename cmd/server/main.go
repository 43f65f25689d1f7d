package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"secure.mail/config"
	"secure.mail/internal/api"
	"secure.mail/internal/clock"
	"secure.mail/internal/crypto"
	"secure.mail/internal/encryption"
	"secure.mail/internal/events"
	"secure.mail/internal/logging"
	"secure.mail/internal/mailbox"
	"secure.mail/internal/metrics"
	"secure.mail/internal/sanitize"
	"secure.mail/internal/security"
	"secure.mail/internal/selfdestruct"
	"secure.mail/internal/signing"
	"secure.mail/internal/store"
	"secure.mail/internal/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New(config.LogConfig{Level: "info", Format: "console"}).Fatal().Err(err).Msg("config error")
	}

	log := logging.New(cfg.Log)
	metrics.MustRegister()

	st := initStore(cfg, log)
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System{}
	keys := wallet.NewKeyring()
	ledger := mailbox.NewLocalLedger(st, clk, log)
	vault := security.NewVault(st, initSealer(cfg, log), log)
	hub := events.NewHub(log)

	sched := selfdestruct.New(st, clk, cfg.Scheduler.GracePeriod, log)
	sched.AddPurger(ledger)
	sched.AddPurger(vault)
	sched.AddNotifier(hub)
	defer sched.Close()

	if n, err := sched.Rearm(ctx); err != nil {
		log.Error().Err(err).Msg("re-arming self-destruct timers failed")
	} else {
		log.Info().Int("records", n).Msg("self-destruct timers re-armed")
	}

	manager := security.New(security.Options{
		Sanitizer: sanitize.New(log),
		Signer: signing.New(signing.Config{
			ChainID:    cfg.Security.ChainID,
			MaxAge:     cfg.Security.SignatureMaxAge,
			FutureSkew: cfg.Security.FutureSkew,
		}, keys, ledger, signing.NewStaticReputation(), clk, log),
		Encryptor: encryption.New(clk, log),
		Scheduler: sched,
		Vault:     vault,
		Transport: ledger,
		Directory: keys,
		Clock:     clk,
	}, log)

	go func() {
		_ = selfdestruct.NewSweeper(cfg.Scheduler.SweepInterval, sched, log).Run(ctx)
	}()
	go func() {
		_ = hub.Run(ctx)
	}()

	router := api.SetupRouter(api.Deps{
		Manager: manager,
		Mailbox: ledger,
		Wallets: keys,
		Events:  hub,
	}, cfg, log)

	log.Info().
		Str("addr", cfg.Addr()).
		Str("base_url", cfg.Server.BaseURL).
		Str("store", cfg.Store.Type).
		Str("default_preset", cfg.Security.DefaultPreset).
		Msg("server starting")

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}

func initStore(cfg *config.Config, log *zerolog.Logger) store.Store {
	switch cfg.Store.Type {
	case "redis":
		st, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		return st
	case "badger":
		st, err := store.NewBadgerStore(cfg.Store.Badger.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Store.Badger.Path).Msg("badger open failed")
		}
		return st
	default:
		return store.NewMemoryStore(30 * time.Second)
	}
}

// initSealer builds the server-side vault sealer. Without a configured key
// an ephemeral one is used and server-sealed vault copies do not survive a
// restart.
func initSealer(cfg *config.Config, log *zerolog.Logger) *crypto.Sealer {
	key := []byte(cfg.Security.ServerKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			log.Fatal().Err(err).Msg("generating server key failed")
		}
		log.Warn().Msg("no server_key configured, using an ephemeral key")
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid server key")
	}
	return sealer
}

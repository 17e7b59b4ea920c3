package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/awaistahir/smart-sprinkler/internal/auth"
	"github.com/awaistahir/smart-sprinkler/internal/broker"
	"github.com/awaistahir/smart-sprinkler/internal/config"
	"github.com/awaistahir/smart-sprinkler/internal/logging"
	"github.com/awaistahir/smart-sprinkler/internal/metrics"
	"github.com/awaistahir/smart-sprinkler/internal/notify"
	"github.com/awaistahir/smart-sprinkler/internal/store"
	"github.com/awaistahir/smart-sprinkler/internal/uiapi"
	"github.com/awaistahir/smart-sprinkler/internal/valve"
	"github.com/awaistahir/smart-sprinkler/internal/weather"
	"github.com/awaistahir/smart-sprinkler/internal/zone"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		cfgFile string
		dbPath  string
		port    int
	)

	rootCmd := &cobra.Command{
		Use:   "smart-sprinklerd",
		Short: "Smart Sprinkler irrigation scheduler",
		Long: `smart-sprinklerd waters each configured zone when the soil water balance
says it is needed, timed to finish at sunrise, and serves the zone API.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.DefaultDir()
			if err != nil {
				return err
			}

			loader := config.NewLoader(cfgFile, dir)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Storage.Path = dbPath
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			log, err := logging.Setup(cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, loader, cfg, log)
		},
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.smartsprinkler/config.yaml)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "storage path (default is $HOME/.smartsprinkler/smartsprinkler.db)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP port")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, loader *config.Loader, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("config", loader.ConfigFile()).
		Str("storage", cfg.Storage.Path).
		Int("zones", len(cfg.Zones)).
		Msg("starting smart-sprinklerd")

	metrics.RegisterDefault()

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	raw, err := store.Open(store.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer raw.Close()
	st := metrics.InstrumentStore(raw)

	// Forecast
	client := weather.NewOpenMeteoClient(cfg.Latitude, cfg.Longitude, cfg.WeatherModel, log)
	cache := weather.NewCache(metrics.InstrumentFetcher(client), st, log)

	refresher, err := weather.NewRefresher(cache, cfg.Forecast.RefreshCron, loc, log)
	if err != nil {
		return err
	}
	refresher.Start()
	defer refresher.Stop()

	// The broker outlives the zones so valves can still be closed on shutdown
	brokerCtx, closeBroker := context.WithCancel(context.WithoutCancel(ctx))
	defer closeBroker()

	notifiers := notify.Fanout{notify.NewLog(log), metrics.Notifier{}}
	var driver valve.Valve = valve.NewVirtual(log)

	if cfg.MQTT.Enabled {
		bcfg := broker.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}
		mc, err := broker.Connect(brokerCtx, bcfg, log)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, notify.NewMQTT(mc, bcfg, log))
		if cfg.Valve.Driver == "mqtt" {
			driver = valve.NewMQTT(mc, bcfg, log)
		}
	}

	zcfg := make([]zone.Config, len(cfg.Zones))
	for i, z := range cfg.Zones {
		zcfg[i] = zone.Config{Name: z.Name, ExposeSensor: z.ExposeSensor}
	}

	manager := zone.NewManager(zcfg, zone.Deps{
		Forecast:    cache,
		Store:       st,
		Valve:       metrics.InstrumentValve(driver),
		Notifier:    notifiers,
		Logger:      log,
		HookTimeout: cfg.Hooks.Timeout,
	})
	manager.Start(ctx)
	log.Info().Int("zones", len(zcfg)).Msg("zones scheduled")

	loader.Watch(func(c *config.Config) {
		if err := logging.SetLevel(c.Log.Level); err != nil {
			log.Warn().Err(err).Msg("ignoring log level change")
			return
		}
		log.Info().Str("level", c.Log.Level).Msg("configuration reloaded")
	}, func(err error) {
		log.Warn().Err(err).Msg("ignoring invalid configuration change")
	})

	errCh := make(chan error, 1)
	var httpSrv *http.Server

	if cfg.Server.Enabled {
		tokens, err := auth.NewTokenService()
		if err != nil {
			return err
		}
		defer tokens.Close()

		api := uiapi.NewServer(uiapi.Config{Password: cfg.Server.Password}, manager, cache, tokens, log)
		httpSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Str("addr", httpSrv.Addr).Msg("api listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("api server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("api shutdown")
		}
	}
	manager.Shutdown(shutdownCtx)
	closeBroker()

	return runErr
}

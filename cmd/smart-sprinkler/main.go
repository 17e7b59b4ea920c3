package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/awaistahir/smart-sprinkler/internal/config"
	"github.com/awaistahir/smart-sprinkler/internal/engine"
	"github.com/awaistahir/smart-sprinkler/internal/logging"
	"github.com/awaistahir/smart-sprinkler/internal/store"
	"github.com/awaistahir/smart-sprinkler/internal/weather"
	"github.com/awaistahir/smart-sprinkler/internal/zone"
)

var (
	cfgFile string
	dbPath  string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smart-sprinkler",
		Short: "Smart Sprinkler - water zones by the soil water balance",
		Long: `smart-sprinkler inspects the irrigation plan of the configured zones: it
fetches the evapotranspiration forecast and shows when each zone will be
watered next and for how long.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.smartsprinkler/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "storage path (default is $HOME/.smartsprinkler/smartsprinkler.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log scheduler decisions to stderr")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(zoneCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env bundles what the inspection commands share
type env struct {
	cfg   *config.Config
	store store.Store
	cache *weather.Cache
	log   zerolog.Logger
}

func openEnv() (*env, error) {
	dir, err := config.DefaultDir()
	if err != nil {
		return nil, err
	}

	cfg, err := config.NewLoader(cfgFile, dir).Load()
	if err != nil {
		return nil, fmt.Errorf("%w (run 'smart-sprinkler init' first)", err)
	}
	if dbPath != "" {
		cfg.Storage.Path = dbPath
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logging.SetupWithWriter(logging.Config{Level: level, Format: logging.FormatConsole}, os.Stderr)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	client := weather.NewOpenMeteoClient(cfg.Latitude, cfg.Longitude, cfg.WeatherModel, log)
	return &env{cfg: cfg, store: st, cache: weather.NewCache(client, st, log), log: log}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

// zones returns every configured zone with its persisted settings
func (e *env) zones(ctx context.Context) []engine.Zone {
	cfg := make([]zone.Config, len(e.cfg.Zones))
	for i, z := range e.cfg.Zones {
		cfg[i] = zone.Config{Name: z.Name, ExposeSensor: z.ExposeSensor}
	}

	var out []engine.Zone
	for _, defaults := range zone.DefaultZones(cfg) {
		z, err := zone.Load(ctx, e.store, defaults)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s - %v\n", defaults.Name, err)
		}
		out = append(out, z)
	}
	return out
}

var configTemplate = template.Must(template.New("config").Parse(`# Smart Sprinkler configuration
latitude: {{.Latitude}}
longitude: {{.Longitude}}
weather_model: best_match
# timezone: Europe/Berlin

zones:
{{- range .Zones}}
  - name: {{.}}
    expose_sensor: false
{{- end}}

storage:
  driver: sqlite
  path: {{.DB}}

server:
  enabled: true
  port: 8080
  password: ""

mqtt:
  enabled: false
  broker: tcp://localhost:1883
  topic_prefix: sprinklers

valve:
  driver: virtual

hooks:
  timeout: 10s

forecast:
  refresh_cron: "@hourly"

log:
  level: info
  format: console
`))

func initCmd() *cobra.Command {
	var (
		lat, lon float64
		names    []string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.DefaultDir()
			if err != nil {
				return err
			}

			path := cfgFile
			if path == "" {
				path = filepath.Join(dir, "config.yaml")
			}
			db := dbPath
			if db == "" {
				db = filepath.Join(dir, "smartsprinkler.db")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}

			var buf strings.Builder
			err = configTemplate.Execute(&buf, struct {
				Latitude, Longitude float64
				Zones               []string
				DB                  string
			}{lat, lon, names, db})
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(buf.String()), 0o600); err != nil {
				return err
			}

			fmt.Printf("✓ Wrote %s\n", path)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Check the forecast: smart-sprinkler forecast")
			fmt.Println("  2. Configure zones in the web UI or with PATCH /api/zones")
			fmt.Println("  3. Start the scheduler: smart-sprinklerd")
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude of the garden (required)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude of the garden (required)")
	cmd.Flags().StringSliceVarP(&names, "zone", "z", []string{"Zone 1"}, "Zone names in valve order")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")

	return cmd
}

func forecastCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Show the daily evapotranspiration forecast",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			if refresh {
				if err := e.cache.Refresh(ctx); err != nil {
					return err
				}
			}

			f, err := e.cache.Forecast(ctx)
			if err != nil {
				return err
			}
			if err := f.Validate(); err != nil {
				return err
			}

			loc := f.Location()
			fmt.Printf("Forecast for %s (fetched %s)\n\n", f.Timezone, f.FetchedAt.In(loc).Format(time.RFC3339))
			fmt.Printf("%-12s %-8s %10s %10s\n", "DATE", "SUNRISE", "ET0 (mm)", "RAIN (mm)")
			fmt.Println("------------------------------------------")
			for i := range f.Daily.Time {
				fmt.Printf("%-12s %-8s %10.2f %10.2f\n",
					f.Daily.Time[i],
					f.Daily.Sunrise[i].In(loc).Format("15:04"),
					f.Daily.ET0[i],
					f.Daily.Precipitation[i])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cached forecast")
	return cmd
}

type zonePlan struct {
	ID         int            `json:"id"`
	Zone       string         `json:"zone"`
	Depletion  float64        `json:"depletion"`
	Readily    float64        `json:"readilyAvailable"`
	Next       *engine.Window `json:"next"`
	Cycles     []engine.Cycle `json:"cycles,omitempty"`
	Configured bool           `json:"configured"`
	Enabled    bool           `json:"enabled"`
}

func planCmd() *cobra.Command {
	var zoneID int

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the next watering window of each zone without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := e.log.WithContext(cmd.Context())

			f, err := e.cache.Forecast(ctx)
			if err != nil {
				return err
			}
			if err := f.Validate(); err != nil {
				return err
			}

			zones := e.zones(ctx)

			now := time.Now()
			results := []zonePlan{}
			for _, z := range zones {
				if zoneID != 0 && z.ID != zoneID {
					continue
				}

				engine.Advance(ctx, &z, f, now)

				p := zonePlan{
					ID:         z.ID,
					Zone:       z.Name,
					Depletion:  z.Characteristics.Dr,
					Readily:    z.Characteristics.ReadilyAvailable(),
					Next:       z.Schedule.Next,
					Configured: z.Configured,
					Enabled:    z.Enabled,
				}
				if w := z.Schedule.Next; w != nil && z.Configured && z.Enabled {
					p.Cycles = engine.SplitCycles(w.Duration, z.Irrigation, w.Start)
				}
				results = append(results, p)
			}

			if zoneID != 0 && len(results) == 0 {
				return fmt.Errorf("zone not found: %d", zoneID)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}

	cmd.Flags().IntVar(&zoneID, "zone", 0, "Only plan this zone id")
	return cmd
}

func zoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zone",
		Short: "Inspect zones",
	}
	cmd.AddCommand(zoneListCmd())
	return cmd
}

func zoneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured zones and their stored state",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			zones := e.zones(cmd.Context())
			if len(zones) == 0 {
				fmt.Println("No zones configured")
				return nil
			}

			fmt.Printf("%-4s %-20s %-8s %-10s %-8s %8s  %s\n", "ID", "NAME", "ENABLED", "CONFIGURED", "MODE", "DR (mm)", "NEXT RUN")
			fmt.Println("--------------------------------------------------------------------------------")

			for _, z := range zones {
				mode := "fixed"
				if z.Schedule.Adaptive {
					mode = "adaptive"
				}
				next := "-"
				if w := z.Schedule.Next; w != nil {
					next = fmt.Sprintf("%s for %s", w.Start.Local().Format("Mon 02 Jan 15:04"), time.Duration(w.Duration)*time.Second)
				}
				fmt.Printf("%-4d %-20s %-8s %-10s %-8s %8.2f  %s\n",
					z.ID, z.Name, yesNo(z.Enabled), yesNo(z.Configured), mode, z.Characteristics.Dr, next)
			}
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

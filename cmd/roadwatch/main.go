package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/roadwatch/roadwatch/internal/backend"
	"github.com/roadwatch/roadwatch/internal/config"
	"github.com/roadwatch/roadwatch/internal/maplayer"
	"github.com/roadwatch/roadwatch/internal/server"
)

var version = "0.1.0"

// Options defines the CLI flags. Zero values defer to the YAML config
// file and ROADWATCH_* environment variables.
type Options struct {
	Config  string `doc:"Path to a YAML config file" short:"c"`
	Host    string `doc:"Override the configured bind host"`
	Port    int    `doc:"Override the configured port" short:"p"`
	DataDir string `doc:"Override the configured data directory"`
	WebDir  string `doc:"Override the configured web directory"`
	Debug   bool   `doc:"Verbose logging and template hot reload" short:"d"`
}

func loadConfig(opts *Options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.Config != "" {
		dir, file := filepath.Split(opts.Config)
		if dir == "" {
			dir = "."
		}
		cfg, err = config.Load(dir, file)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.WebDir != "" {
		cfg.WebDir = opts.WebDir
	}
	if opts.Debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// mustServer assembles a quiet server for one-shot subcommands.
func mustServer(opts *Options) (*server.Server, *config.Config) {
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	srv, err := server.New(cfg, version, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error assembling server: %v\n", err)
		os.Exit(1)
	}
	return srv, cfg
}

func main() {
	var (
		logger     *zap.Logger
		app        *server.Server
		httpServer *http.Server
	)

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		hooks.OnStart(func() {
			cfg, err := loadConfig(opts)
			if err != nil {
				log.Fatalf("config: %v", err)
			}
			logger, err = newLogger(cfg)
			if err != nil {
				log.Fatalf("logger: %v", err)
			}

			app, err = server.New(cfg, version, logger)
			if err != nil {
				logger.Fatal("assembling server failed", zap.Error(err))
			}
			if err := app.Start(context.Background()); err != nil {
				logger.Fatal("starting background jobs failed", zap.Error(err))
			}

			displayHost := cfg.Server.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, cfg.Server.Port)

			fmt.Println()
			fmt.Printf("RoadWatch %s starting...\n", version)
			fmt.Printf("  Report:    %s/report\n", baseURL)
			fmt.Printf("  Dashboard: %s/dashboard\n", baseURL)
			fmt.Printf("  Docs:      %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI:   %s/openapi.json\n", baseURL)
			fmt.Println()

			httpServer = &http.Server{
				Addr:              cfg.Addr(),
				Handler:           app,
				ReadHeaderTimeout: 10 * time.Second,
			}
			logger.Info("listening", zap.String("addr", cfg.Addr()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("server failed", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if httpServer != nil {
				if err := httpServer.Shutdown(ctx); err != nil {
					logger.Warn("http shutdown", zap.Error(err))
				}
			}
			if app != nil {
				if err := app.Close(); err != nil {
					logger.Warn("closing services", zap.Error(err))
				}
			}
			if logger != nil {
				logger.Sync()
			}
		})
	})

	cli.Root().Use = "roadwatch"
	cli.Root().Short = "Community road damage reporting"
	cli.Root().Version = version

	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Print the OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, _ := mustServer(opts)
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var (
				output []byte
				err    error
			)
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Render all reports into a PMTiles overlay archive",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, cfg := mustServer(opts)

			if err := srv.Entries().Refresh(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: refresh failed (%v); exporting the last snapshot\n", err)
			}

			minZoom, _ := cmd.Flags().GetInt("min-zoom")
			maxZoom, _ := cmd.Flags().GetInt("max-zoom")
			if minZoom < 0 {
				minZoom = cfg.Tiles.MinZoom
			}
			if maxZoom < 0 {
				maxZoom = cfg.Tiles.MaxZoom
			}

			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				if err := os.MkdirAll(srv.Exports().Dir(), 0o755); err != nil {
					fmt.Fprintf(os.Stderr, "Error creating exports directory: %v\n", err)
					os.Exit(1)
				}
				name := "roadwatch-" + time.Now().Format("20060102-150405") + ".pmtiles"
				output = srv.Exports().Path(name)
			}

			entries := srv.Entries().List(backend.EntryFilter{})
			err := maplayer.Export(output, entries, minZoom, maxZoom, func(progress int, status string) {
				fmt.Printf("[%3d%%] %s\n", progress, status)
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error exporting overlay: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Exported %d reports to %s\n", len(entries), output)
		}),
	}
	exportCmd.Flags().StringP("output", "o", "", "Archive path (default: a timestamped file in the exports directory)")
	exportCmd.Flags().Int("min-zoom", -1, "Lowest zoom level (default from config)")
	exportCmd.Flags().Int("max-zoom", -1, "Highest zoom level (default from config)")
	cli.Root().AddCommand(exportCmd)

	cli.Run()
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/config"
	"github.com/joeblew999/casemap/internal/server"
)

// Options defines all CLI flags and env vars for the casemap server.
// Flags: --host, --port, --data-dir, --catalog, --stats-backend, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_CATALOG, ...
type Options struct {
	Host          string `doc:"Host to bind to" default:"0.0.0.0"`
	Port          int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir       string `doc:"Directory for local data (DuckDB)" default:".data"`
	Catalog       string `doc:"YAML layer catalog; empty uses the built-in layers"`
	StatsBackend  string `doc:"Where area statistics come from (api or duckdb)" default:"api"`
	StatsURL      string `doc:"Statistics API base URL"`
	StatsFile     string `doc:"CSV or Parquet file loaded into DuckDB at start"`
	StatsLoad     bool   `doc:"Expose the stats load endpoint for files under the data dir" default:"false"`
	PostcodeURL   string `doc:"Postcode search endpoint"`
	RedisAddr     string `doc:"Redis address for the postcode cache; empty keeps it in memory"`
	RedisPassword string `doc:"Redis password"`
	SessionTTL    string `doc:"Idle time before a map session without a stream is closed" default:"30m"`
	InitialDate   string `doc:"Reporting day new maps start on (YYYY-MM-DD)"`
	StyleURL      string `doc:"Base map style URL" default:"https://demotiles.maplibre.org/style.json"`
	DownloadURL   string `doc:"Where the no-WebGL fallback links to" default:"/api/v1/layers"`
	Preload       bool   `doc:"Fetch every outline at start" default:"true"`
	LogLevel      string `doc:"Log level (debug, info, warn, error)" default:"info"`
	LogFormat     string `doc:"Log format (json or console)" default:"console"`
}

func newServer(opts *Options) (*server.Server, error) {
	initialDate := opts.InitialDate
	if initialDate == "" {
		// Published figures lag by a few days.
		initialDate = time.Now().AddDate(0, 0, -5).Format(time.DateOnly)
	}
	ttl, err := time.ParseDuration(opts.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("session-ttl: %w", err)
	}
	return server.New(server.Config{
		Host:          opts.Host,
		Port:          fmt.Sprintf("%d", opts.Port),
		DataDir:       opts.DataDir,
		CatalogFile:   opts.Catalog,
		StatsBackend:  opts.StatsBackend,
		StatsURL:      opts.StatsURL,
		StatsFile:     opts.StatsFile,
		StatsLoad:     opts.StatsLoad,
		PostcodeURL:   opts.PostcodeURL,
		RedisAddr:     opts.RedisAddr,
		RedisPassword: opts.RedisPassword,
		SessionTTL:    ttl,
		InitialDate:   initialDate,
		StyleURL:      opts.StyleURL,
		DownloadURL:   opts.DownloadURL,
		Preload:       opts.Preload,
	})
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func main() {
	if err := config.LoadEnv(); err != nil {
		fatal("Error loading .env", err)
	}

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		hooks.OnStart(func() {
			if err := config.InitLogger(config.LogConfig{Level: opts.LogLevel, Format: opts.LogFormat}); err != nil {
				fatal("Error configuring logger", err)
			}
			defer zap.L().Sync() //nolint:errcheck

			srv, err := newServer(opts)
			if err != nil {
				fatal("Error starting server", err)
			}
			defer srv.Close() //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv.Start(ctx)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("casemap server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Stats:   %s\n", opts.StatsBackend)
			fmt.Println()
			fmt.Printf("  Map:     %s/map\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpSrv := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
			}()

			zap.L().Info("listening", zap.String("addr", addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.L().Error("server error", zap.Error(err))
			}
		})
	})

	cli.Root().Use = "casemap"
	cli.Root().Short = "Choropleth map of case rates by area"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv, err := newServer(opts)
			if err != nil {
				fatal("Error building server", err)
			}
			defer srv.Close() //nolint:errcheck
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// catalog subcommand: print the effective layer catalog
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the layer catalog as YAML",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cat, err := catalog.Load(opts.Catalog)
			if err != nil {
				fatal("Error loading catalog", err)
			}
			out, err := catalog.Marshal(cat)
			if err != nil {
				fatal("Error marshaling catalog", err)
			}
			fmt.Print(string(out))
		}),
	}
	cli.Root().AddCommand(catalogCmd)

	cli.Run()
}

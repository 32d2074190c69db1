package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/api"
	"github.com/joeblew999/casemap/internal/api/mapview"
	"github.com/joeblew999/casemap/internal/areadetail"
	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/db"
	"github.com/joeblew999/casemap/internal/export"
	"github.com/joeblew999/casemap/internal/geodata"
	"github.com/joeblew999/casemap/internal/metrics"
	"github.com/joeblew999/casemap/internal/postcode"
	"github.com/joeblew999/casemap/internal/session"
	"github.com/joeblew999/casemap/internal/stats"
	"github.com/joeblew999/casemap/internal/templates"
)

// Stats backends.
const (
	BackendAPI    = "api"
	BackendDuckDB = "duckdb"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string

	// CatalogFile is a YAML layer catalog; empty uses the built-in layers.
	CatalogFile string

	StatsBackend string
	StatsURL     string
	// StatsFile is loaded into DuckDB at startup when the backend is duckdb.
	StatsFile string
	// StatsLoad exposes POST /api/v1/stats/load for files under DataDir.
	StatsLoad bool

	PostcodeURL   string
	RedisAddr     string
	RedisPassword string
	PostcodeTTL   time.Duration

	SessionTTL  time.Duration
	InitialDate string
	StyleURL    string
	DownloadURL string

	// Preload fetches every outline at start.
	Preload bool
}

// Server is the casemap HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	geometry *geodata.Store
	sessions *session.Manager
	redis    *redis.Client
	renderer *templates.Renderer
	cancel   context.CancelFunc
}

// New creates a new casemap server.
func New(cfg Config) (*Server, error) {
	if cfg.StatsBackend == "" {
		cfg.StatsBackend = BackendAPI
	}
	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	renderer, err := templates.New()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("casemap API", api.Version)
	humaConfig.Info.Description = "Choropleth case map: layer catalog, area summaries, postcode search and the interactive map stream."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humago.New(mux, humaConfig),
		geometry: geodata.NewStore(cat, geodata.HTTPFetcher{}),
		renderer: renderer,
	}

	conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "casemap"})
	if err != nil {
		zap.L().Warn("duckdb unavailable", zap.Error(err))
	} else {
		s.db = conn
	}

	source, store, err := s.statsSource(context.Background())
	if err != nil {
		return nil, err
	}
	locator := s.postcodeLocator()

	s.sessions = session.NewManager(session.Deps{
		Catalog:     cat,
		Geometry:    s.geometry,
		Stats:       source,
		Postcode:    locator,
		Exporter:    export.New(1200, 900),
		InitialDate: cfg.InitialDate,
	}, cfg.SessionTTL)

	s.routes(&api.Services{Catalog: cat, Stats: source, Postcode: locator}, store)
	return s, nil
}

func (s *Server) statsSource(ctx context.Context) (areadetail.Source, *stats.Store, error) {
	switch s.config.StatsBackend {
	case BackendAPI:
		return stats.NewClient(s.config.StatsURL), nil, nil
	case BackendDuckDB:
		if s.db == nil {
			return nil, nil, eris.New("server: duckdb stats backend needs a database")
		}
		store, err := stats.NewStore(ctx, s.db)
		if err != nil {
			return nil, nil, err
		}
		if s.config.StatsFile != "" {
			n, err := store.Load(ctx, s.config.StatsFile)
			if err != nil {
				return nil, nil, err
			}
			zap.L().Info("loaded area statistics", zap.String("file", s.config.StatsFile), zap.Int64("rows", n))
		}
		return store, store, nil
	default:
		return nil, nil, eris.Errorf("server: unknown stats backend %q", s.config.StatsBackend)
	}
}

func (s *Server) postcodeLocator() *postcode.Locator {
	client := postcode.NewClient(s.config.PostcodeURL)
	s.redis = postcode.OpenRedis(s.config.RedisAddr, s.config.RedisPassword)
	if s.redis == nil {
		return postcode.NewLocator(client, postcode.NewMemoryCache(s.config.PostcodeTTL, 0))
	}
	zap.L().Info("postcode cache on redis", zap.String("addr", s.config.RedisAddr))
	return postcode.NewLocator(client, postcode.NewRedisCache(s.redis, s.config.PostcodeTTL))
}

func (s *Server) routes(svc *api.Services, store *stats.Store) {
	api.RegisterRoutes(s.humaAPI, svc)
	api.NewDBHandler(s.db, store, s.config.DataDir, s.config.StatsLoad).RegisterRoutes(s.humaAPI)
	api.NewInfoHandler(s.config.DataDir, s.config.StatsBackend, s.db != nil, s.sessions.Len).RegisterRoutes(s.humaAPI)

	maps := mapview.NewHandler(s.sessions, s.renderer, mapview.PageConfig{
		StyleURL:    s.config.StyleURL,
		DownloadURL: s.config.DownloadURL,
	})
	maps.RegisterRoutes(s.humaAPI)

	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(templates.Static()))))
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/map", maps.Page)
	s.mux.HandleFunc("/", s.handleRoot)
}

// Start runs the background work: idle session expiry and, when
// configured, the outline preload. It returns immediately.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.sessions.Run(ctx)
	if s.config.Preload {
		go s.geometry.Preload(ctx)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the map session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Close closes server resources.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.sessions.Shutdown()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			zap.L().Warn("close redis", zap.Error(err))
		}
	}
	return db.Close()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, "/map", http.StatusFound)
}

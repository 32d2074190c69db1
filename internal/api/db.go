package api

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/casemap/internal/stats"
)

// ErrOutsideDataDir is returned for load paths that escape the data directory.
var ErrOutsideDataDir = eris.New("api: path outside data directory")

// DBHandler exposes the local statistics store.
type DBHandler struct {
	db      *sql.DB
	store   *stats.Store
	dataDir string
	load    bool
}

// NewDBHandler creates a new database handler. db and store may be nil.
// The load route is only registered when allowLoad is set, and then only
// reads files under dataDir.
func NewDBHandler(db *sql.DB, store *stats.Store, dataDir string, allowLoad bool) *DBHandler {
	return &DBHandler{db: db, store: store, dataDir: dataDir, load: allowLoad}
}

// RegisterRoutes registers database routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/stats/tables", h.ListTables, huma.OperationTags("stats"))
	if h.load {
		huma.Post(api, "/api/v1/stats/load", h.Load, huma.OperationTags("stats"))
	}
}

// localPath resolves p against the data directory and rejects anything
// that leaves it, including remote URLs and symlinks pointing out.
func (h *DBHandler) localPath(p string) (string, error) {
	if p == "" || strings.Contains(p, "://") {
		return "", eris.Wrapf(ErrOutsideDataDir, "api: %q", p)
	}
	root, err := filepath.Abs(h.dataDir)
	if err != nil {
		return "", eris.Wrap(err, "api: data directory")
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return "", eris.Wrap(err, "api: data directory")
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	if full, err = filepath.EvalSymlinks(full); err != nil {
		return "", eris.Wrapf(err, "api: resolve %q", p)
	}
	rel, err := filepath.Rel(root, full)
	if err != nil || !filepath.IsLocal(rel) {
		return "", eris.Wrapf(ErrOutsideDataDir, "api: %q", p)
	}
	return full, nil
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns all DuckDB tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.db == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}

	rows, err := h.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	defer rows.Close() //nolint:errcheck

	out := &TablesOutput{}
	out.Body.Tables = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			out.Body.Tables = append(out.Body.Tables, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	return out, nil
}

// LoadInput names a CSV or Parquet file on the server to import.
type LoadInput struct {
	Body struct {
		Path string `json:"path" required:"true" doc:"CSV or Parquet file, relative to the data directory" example:"area_stats.csv"`
	}
}

// LoadOutput reports how many rows were imported.
type LoadOutput struct {
	Body struct {
		Rows int64 `json:"rows" doc:"Rows imported"`
	}
}

// Load imports a statistics file into the area_stats table.
func (h *DBHandler) Load(ctx context.Context, input *LoadInput) (*LoadOutput, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Statistics store not available")
	}
	path, err := h.localPath(input.Body.Path)
	if err != nil {
		if eris.Is(err, ErrOutsideDataDir) {
			return nil, huma.Error403Forbidden("Path must be inside the data directory")
		}
		return nil, huma.Error400BadRequest("File not found")
	}
	n, err := h.store.Load(ctx, path)
	if err != nil {
		return nil, huma.Error400BadRequest("Load failed: " + err.Error())
	}
	out := &LoadOutput{}
	out.Body.Rows = n
	return out, nil
}

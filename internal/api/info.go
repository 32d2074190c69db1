package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir  string
	backend  string
	dbOK     bool
	sessions func() int
}

// NewInfoHandler creates the info handler. sessions may be nil.
func NewInfoHandler(dataDir, backend string, dbOK bool, sessions func() int) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, backend: backend, dbOK: dbOK, sessions: sessions}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name         string   `json:"name" doc:"Service name"`
	Version      string   `json:"version" doc:"Service version"`
	DataDir      string   `json:"data_dir" doc:"Data directory path"`
	StatsBackend string   `json:"stats_backend" doc:"Where area statistics come from" enum:"api,duckdb"`
	DB           bool     `json:"db" doc:"Whether database is available"`
	Sessions     int      `json:"sessions" doc:"Live map sessions"`
	Features     []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	n := 0
	if h.sessions != nil {
		n = h.sessions()
	}
	return &struct{ Body InfoBody }{Body: InfoBody{
		Name:         "casemap",
		Version:      Version,
		DataDir:      h.dataDir,
		StatsBackend: h.backend,
		DB:           h.dbOK,
		Sessions:     n,
		Features:     []string{"choropleth", "postcode", "export", "duckdb"},
	}}, nil
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bibmerge/bibmerge/internal/domain"
	"github.com/bibmerge/bibmerge/internal/store"
)

func (s *Server) registerRecordRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getRecord",
		Method:      http.MethodGet,
		Path:        "/api/v1/records/{id}",
		Summary:     "Get record",
		Description: "Returns one stored record with its blocking keys and cluster membership",
		Tags:        []string{"Records"},
	}, s.handleGetRecord)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCluster",
		Method:      http.MethodGet,
		Path:        "/api/v1/clusters/{dedupKey}",
		Summary:     "Get cluster",
		Description: "Returns every record carrying a dedup key, deleted records included",
		Tags:        []string{"Records"},
	}, s.handleGetCluster)

	huma.Register(s.api, huma.Operation{
		OperationID: "getStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/stats",
		Summary:     "Record statistics",
		Description: "Returns record counts per source",
		Tags:        []string{"Records"},
	}, s.handleGetStats)
}

// === DTOs ===

// GetRecordInput contains parameters for fetching a record.
type GetRecordInput struct {
	ID          string `path:"id" minLength:"1" doc:"Record ID"`
	IncludeData bool   `query:"data" doc:"Include the normalized record data"`
}

// RecordResponse contains record data in API responses.
type RecordResponse struct {
	ID           string    `json:"id" doc:"Record ID"`
	SourceID     string    `json:"source_id" doc:"Contributing source"`
	OAIID        string    `json:"oai_id,omitempty" doc:"Harvest identifier"`
	HostRecordID string    `json:"host_record_id,omitempty" doc:"Host record of a component part"`
	DataFormat   string    `json:"data_format" doc:"Metadata format"`
	Format       string    `json:"format,omitempty" doc:"Material format"`
	DedupKey     string    `json:"dedup_key,omitempty" doc:"Cluster identifier"`
	TitleKeys    []string  `json:"title_keys,omitempty" doc:"Title blocking keys"`
	ISBNKeys     []string  `json:"isbn_keys,omitempty" doc:"ISBN blocking keys"`
	UpdateNeeded bool      `json:"update_needed" doc:"Awaiting deduplication"`
	Deleted      bool      `json:"deleted" doc:"Tombstoned"`
	CreatedAt    time.Time `json:"created_at" doc:"Creation time"`
	UpdatedAt    time.Time `json:"updated_at" doc:"Last modification time"`
	Data         string    `json:"data,omitempty" doc:"Normalized record data"`
}

// RecordOutput wraps the record response for Huma.
type RecordOutput struct {
	Body RecordResponse
}

// GetClusterInput contains parameters for fetching a cluster.
type GetClusterInput struct {
	DedupKey string `path:"dedupKey" minLength:"1" doc:"Dedup key"`
}

// ClusterResponse contains a cluster in API responses.
type ClusterResponse struct {
	DedupKey string           `json:"dedup_key" doc:"Dedup key"`
	Live     int              `json:"live" doc:"Number of live members"`
	Records  []RecordResponse `json:"records" doc:"Members ordered by ID"`
}

// ClusterOutput wraps the cluster response for Huma.
type ClusterOutput struct {
	Body ClusterResponse
}

// StatsResponse contains per-source counts.
type StatsResponse struct {
	Total   int                 `json:"total" doc:"Records across all sources"`
	Sources []store.SourceStats `json:"sources" doc:"Counts per source"`
}

// StatsOutput wraps the stats response for Huma.
type StatsOutput struct {
	Body StatsResponse
}

// === Handlers ===

func (s *Server) handleGetRecord(ctx context.Context, input *GetRecordInput) (*RecordOutput, error) {
	r, err := s.services.Records.Get(ctx, input.ID)
	if err != nil {
		return nil, toAPIError(err)
	}

	resp := toRecordResponse(r)
	if input.IncludeData {
		resp.Data = r.Data()
	}
	return &RecordOutput{Body: resp}, nil
}

func (s *Server) handleGetCluster(ctx context.Context, input *GetClusterInput) (*ClusterOutput, error) {
	members, err := s.services.Records.Cluster(ctx, input.DedupKey)
	if err != nil {
		return nil, toAPIError(err)
	}

	resp := ClusterResponse{
		DedupKey: input.DedupKey,
		Records:  make([]RecordResponse, 0, len(members)),
	}
	for _, m := range members {
		if !m.Deleted {
			resp.Live++
		}
		resp.Records = append(resp.Records, toRecordResponse(m))
	}
	return &ClusterOutput{Body: resp}, nil
}

func (s *Server) handleGetStats(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	stats, err := s.services.Records.Stats(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}

	resp := StatsResponse{Sources: stats}
	if resp.Sources == nil {
		resp.Sources = []store.SourceStats{}
	}
	for _, st := range stats {
		resp.Total += st.Total
	}
	return &StatsOutput{Body: resp}, nil
}

func toRecordResponse(r *domain.Record) RecordResponse {
	return RecordResponse{
		ID:           r.ID,
		SourceID:     r.SourceID,
		OAIID:        r.OAIID,
		HostRecordID: r.HostRecordID,
		DataFormat:   r.DataFormat,
		Format:       r.Format,
		DedupKey:     r.DedupKey,
		TitleKeys:    r.TitleKeys,
		ISBNKeys:     r.ISBNKeys,
		UpdateNeeded: r.UpdateNeeded,
		Deleted:      r.Deleted,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

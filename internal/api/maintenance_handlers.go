package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bibmerge/bibmerge/internal/auth"
	"github.com/bibmerge/bibmerge/internal/search"
)

func (s *Server) registerMaintenanceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "deduplicateRecord",
		Method:      http.MethodPost,
		Path:        "/api/v1/records/{id}/deduplicate",
		Summary:     "Deduplicate record",
		Description: "Searches a match for one record, updates its cluster membership and clears its update flag",
		Tags:        []string{"Maintenance"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleDeduplicateRecord)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateIndex",
		Method:      http.MethodPost,
		Path:        "/api/v1/index/update",
		Summary:     "Update search index",
		Description: "Indexes records changed since the last update",
		Tags:        []string{"Maintenance"},
		Security:    []map[string][]string{{"bearer": {}}},
	}, s.handleUpdateIndex)
}

// === DTOs ===

// DeduplicateInput contains parameters for deduplicating one record.
type DeduplicateInput struct {
	Authorization string `header:"Authorization"`
	ID            string `path:"id" minLength:"1" doc:"Record ID"`
}

// DeduplicateResponse describes the outcome for one record.
type DeduplicateResponse struct {
	RecordID    string `json:"record_id" doc:"Processed record"`
	Matched     bool   `json:"matched" doc:"Whether a duplicate was found"`
	DedupKey    string `json:"dedup_key,omitempty" doc:"Cluster the record now belongs to"`
	MatchedWith string `json:"matched_with,omitempty" doc:"Candidate the record was linked to"`
	Stage       string `json:"stage,omitempty" doc:"Matcher step that accepted the candidate"`
	Reason      string `json:"reason,omitempty" doc:"Why the candidate was accepted"`
	Cleared     bool   `json:"cleared" doc:"Whether a previous dedup key was removed"`
	Operator    string `json:"operator" doc:"Token subject that requested the run"`
}

// DeduplicateOutput wraps the dedup response for Huma.
type DeduplicateOutput struct {
	Body DeduplicateResponse
}

// UpdateIndexInput contains parameters for an index update.
type UpdateIndexInput struct {
	Authorization string `header:"Authorization"`
	Body          struct {
		Source string    `json:"source,omitempty" doc:"Restrict to one source"`
		All    bool      `json:"all,omitempty" doc:"Reindex every record"`
		From   time.Time `json:"from,omitempty" doc:"Override the stored watermark"`
	} `required:"false"`
}

// UpdateIndexOutput wraps the index update result for Huma.
type UpdateIndexOutput struct {
	Body search.UpdateResult
}

// === Handlers ===

func (s *Server) handleDeduplicateRecord(ctx context.Context, input *DeduplicateInput) (*DeduplicateOutput, error) {
	claims, err := s.authenticateRequest(input.Authorization, auth.ScopeDedup)
	if err != nil {
		return nil, err
	}
	if s.services.Dedup == nil {
		return nil, huma.Error503ServiceUnavailable("Deduplication not configured")
	}

	rec, err := s.services.Records.Get(ctx, input.ID)
	if err != nil {
		return nil, toAPIError(err)
	}

	res, err := s.services.Dedup.ProcessRecord(ctx, rec)
	if err != nil {
		return nil, toAPIError(err)
	}
	if err := s.services.Dedup.Linker().ClearUpdateNeeded(ctx, rec.ID); err != nil {
		return nil, toAPIError(err)
	}

	s.logger.Info("record deduplicated via API",
		"record_id", rec.ID,
		"operator", claims.Operator,
		"matched", res.Matched,
		"dedup_key", res.DedupKey,
	)

	return &DeduplicateOutput{Body: DeduplicateResponse{
		RecordID:    rec.ID,
		Matched:     res.Matched,
		DedupKey:    res.DedupKey,
		MatchedWith: res.MatchedWith,
		Stage:       string(res.Decision.Stage),
		Reason:      res.Decision.Reason,
		Cleared:     res.Cleared,
		Operator:    claims.Operator,
	}}, nil
}

func (s *Server) handleUpdateIndex(ctx context.Context, input *UpdateIndexInput) (*UpdateIndexOutput, error) {
	if _, err := s.authenticateRequest(input.Authorization, auth.ScopeDedup); err != nil {
		return nil, err
	}
	if s.services.Updater == nil {
		return nil, huma.Error503ServiceUnavailable("Index updates not configured")
	}

	res, err := s.services.Updater.Update(ctx, search.UpdateOptions{
		SourceID: input.Body.Source,
		All:      input.Body.All,
		From:     input.Body.From,
	})
	if err != nil {
		return nil, toAPIError(err)
	}
	return &UpdateIndexOutput{Body: res}, nil
}

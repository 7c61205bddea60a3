package handlers

import (
	"context"

	"github.com/maruel/orgsite/internal/server/dto"
)

// HistoryHandler lists the recorded changes.
type HistoryHandler struct {
	Svc *Services
}

// List returns the most recent commits.
func (h *HistoryHandler) List(ctx context.Context, req *dto.HistoryRequest) (*dto.HistoryResponse, error) {
	if h.Svc.History == nil {
		return nil, dto.NotImplemented("History")
	}
	commits, err := h.Svc.History.Log(ctx, req.Path, req.Limit)
	if err != nil {
		return nil, dto.InternalWithError("Failed to read history", err)
	}
	resp := &dto.HistoryResponse{Commits: make([]dto.CommitResponse, 0, len(commits))}
	for _, c := range commits {
		resp.Commits = append(resp.Commits, dto.CommitResponse{
			Hash:    c.Hash,
			Message: c.Message,
			Author:  c.Author,
			Date:    c.AuthorDate,
		})
	}
	return resp, nil
}

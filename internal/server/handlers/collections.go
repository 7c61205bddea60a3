// Handles the collection CRUD endpoints.

package handlers

import (
	"context"
	"encoding/json"

	"github.com/maruel/orgsite/internal/records"
	"github.com/maruel/orgsite/internal/server/dto"
	"github.com/maruel/orgsite/internal/store"
)

// CollectionHandler handles requests on collections and their records.
type CollectionHandler struct {
	Svc *Services
}

func (h *CollectionHandler) store(ctx context.Context, name string) (store.Store, error) {
	s, err := h.Svc.Registry.Store(ctx, name)
	return s, apiError(err)
}

// List returns every record of a collection.
func (h *CollectionHandler) List(ctx context.Context, req *dto.ListRecordsRequest) (*dto.ListRecordsResponse, error) {
	s, err := h.store(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	recs, err := s.List(ctx)
	if err != nil {
		return nil, apiError(err)
	}
	return &dto.ListRecordsResponse{Collection: s.Name(), Records: encodeAll(recs)}, nil
}

// Get returns one record.
func (h *CollectionHandler) Get(ctx context.Context, req *dto.GetRecordRequest) (*json.RawMessage, error) {
	s, err := h.store(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, req.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return encode(rec), nil
}

// Create adds a record and returns it with its assigned id.
func (h *CollectionHandler) Create(ctx context.Context, req *dto.CreateRecordRequest) (*json.RawMessage, error) {
	s, err := h.store(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	rec, err := s.Create(ctx, req.Body)
	if err != nil {
		return nil, apiError(err)
	}
	return encode(rec), nil
}

// Update replaces a record in place.
func (h *CollectionHandler) Update(ctx context.Context, req *dto.UpdateRecordRequest) (*json.RawMessage, error) {
	s, err := h.store(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	rec, err := s.Update(ctx, req.ID, req.Body)
	if err != nil {
		return nil, apiError(err)
	}
	return encode(rec), nil
}

// Delete removes a record and returns it.
func (h *CollectionHandler) Delete(ctx context.Context, req *dto.DeleteRecordRequest) (*json.RawMessage, error) {
	s, err := h.store(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	rec, err := s.Delete(ctx, req.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return encode(rec), nil
}

// Schema returns the JSON schema records of a collection must follow.
func (h *CollectionHandler) Schema(ctx context.Context, req *dto.SchemaRequest) (*json.RawMessage, error) {
	k, ok := records.Lookup(req.Collection)
	if !ok {
		return nil, apiError(&store.NotFoundError{Collection: req.Collection})
	}
	b, err := json.Marshal(k.Schema())
	if err != nil {
		return nil, dto.InternalWithError("Failed to encode schema", err)
	}
	raw := json.RawMessage(b)
	return &raw, nil
}

// GetRoster returns the team and the faculty advisors.
func (h *CollectionHandler) GetRoster(ctx context.Context, req *dto.GetRosterRequest) (*dto.RosterResponse, error) {
	resp := &dto.RosterResponse{}
	for _, p := range rosterParts(resp) {
		s, err := h.store(ctx, p.name)
		if err != nil {
			return nil, err
		}
		recs, err := s.List(ctx)
		if err != nil {
			return nil, apiError(err)
		}
		*p.dst = encodeAll(recs)
	}
	return resp, nil
}

// ReplaceRoster substitutes the team and the faculty advisors lists.
//
// Each list is replaced on its own: when the second one fails, the first one
// stays replaced.
func (h *CollectionHandler) ReplaceRoster(ctx context.Context, req *dto.ReplaceRosterRequest) (*dto.RosterResponse, error) {
	resp := &dto.RosterResponse{}
	in := map[string][]json.RawMessage{records.Team.Name(): req.Team, records.Faculty.Name(): req.Faculty}
	for _, p := range rosterParts(resp) {
		s, err := h.store(ctx, p.name)
		if err != nil {
			return nil, err
		}
		var recs []records.Record
		if raws := in[p.name]; raws != nil {
			recs, err = s.ReplaceAll(ctx, raws)
		} else {
			recs, err = s.List(ctx)
		}
		if err != nil {
			return nil, apiError(err)
		}
		*p.dst = encodeAll(recs)
	}
	return resp, nil
}

type rosterPart struct {
	name string
	dst  *[]json.RawMessage
}

func rosterParts(resp *dto.RosterResponse) []rosterPart {
	return []rosterPart{
		{records.Team.Name(), &resp.Team},
		{records.Faculty.Name(), &resp.Faculty},
	}
}

func encode(r records.Record) *json.RawMessage {
	raw := records.Encode(r)
	return &raw
}

func encodeAll(recs []records.Record) []json.RawMessage {
	out := make([]json.RawMessage, len(recs))
	for i, r := range recs {
		out[i] = records.Encode(r)
	}
	return out
}

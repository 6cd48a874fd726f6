package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/ledger"
)

type CreateDiaryInput struct {
	Authorization string `header:"Authorization" doc:"Bearer submit authorization; its owner is the caller" required:"true"`
	Body          struct {
		Handles    []string `json:"handles" doc:"Ciphertext handles, one per packed word" required:"true"`
		Proofs     []string `json:"proofs" doc:"Input proofs, one per handle" required:"true"`
		ByteLength int      `json:"byte_length,omitempty" doc:"UTF-8 length of the plaintext; 0 for legacy entries" minimum:"0"`
	}
}

type CreateDiaryOutput struct {
	Body struct {
		Owner      string    `json:"owner"`
		DiaryID    int64     `json:"diary_id"`
		AddedID    int64     `json:"added_id"`
		ChunkCount int       `json:"chunk_count"`
		Timestamp  time.Time `json:"timestamp"`
	}
}

type OwnerPath struct {
	Owner string `path:"owner" doc:"Owner address" pattern:"^0x[0-9a-fA-F]{40}$"`
}

type EntryPath struct {
	OwnerPath
	DiaryID int64 `path:"diary_id" doc:"Per-owner entry index" minimum:"0"`
}

type ListDiariesInput struct {
	OwnerPath
	Cursor string `query:"cursor" doc:"Opaque pagination cursor"`
	Limit  int    `query:"limit" doc:"Page size" minimum:"0" maximum:"1000" default:"100"`
}

type EntryMetaResponse struct {
	DiaryID    int64     `json:"diary_id"`
	Exists     bool      `json:"exists"`
	Timestamp  int64     `json:"timestamp" doc:"Unix seconds; 0 when the entry does not exist"`
	Time       time.Time `json:"time"`
	ChunkCount int       `json:"chunk_count"`
	ByteLength int       `json:"byte_length,omitempty"`
}

type ListDiariesOutput struct {
	Body struct {
		Owner      string              `json:"owner"`
		Count      int64               `json:"count"`
		Entries    []EntryMetaResponse `json:"entries"`
		NextCursor string              `json:"next_cursor,omitempty"`
		HasMore    bool                `json:"has_more"`
	}
}

type EntryMetaOutput struct {
	Body EntryMetaResponse
}

type ChunksOutput struct {
	Body struct {
		Handles []string `json:"handles"`
	}
}

type ChunkInput struct {
	EntryPath
	Index int `path:"index" doc:"Chunk index" minimum:"0"`
}

type ChunkOutput struct {
	Body struct {
		Index  int    `json:"index"`
		Handle string `json:"handle"`
	}
}

type DiaryHandler struct {
	contract  *ledger.Contract
	authority *auth.Authority
	logger    *slog.Logger
}

func NewDiaryHandler(contract *ledger.Contract, authority *auth.Authority, logger *slog.Logger) *DiaryHandler {
	return &DiaryHandler{contract: contract, authority: authority, logger: logger}
}

func registerDiaryRoutes(api huma.API, h *DiaryHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-diary",
		Method:        http.MethodPost,
		Path:          "/v1/diaries",
		Summary:       "Append an encrypted entry for the caller",
		Tags:          []string{"diaries"},
		DefaultStatus: http.StatusCreated,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "list-diaries",
		Method:      http.MethodGet,
		Path:        "/v1/diaries/{owner}",
		Summary:     "Entry count and paginated metadata for an owner",
		Tags:        []string{"diaries"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "get-diary-entry",
		Method:      http.MethodGet,
		Path:        "/v1/diaries/{owner}/{diary_id}",
		Summary:     "Entry metadata",
		Tags:        []string{"diaries"},
	}, h.Entry)

	huma.Register(api, huma.Operation{
		OperationID: "get-diary-chunks",
		Method:      http.MethodGet,
		Path:        "/v1/diaries/{owner}/{diary_id}/chunks",
		Summary:     "All chunk handles of an entry in order",
		Tags:        []string{"diaries"},
	}, h.Chunks)

	huma.Register(api, huma.Operation{
		OperationID: "get-diary-chunk",
		Method:      http.MethodGet,
		Path:        "/v1/diaries/{owner}/{diary_id}/chunks/{index}",
		Summary:     "One chunk handle",
		Tags:        []string{"diaries"},
	}, h.Chunk)
}

func (h *DiaryHandler) Create(ctx context.Context, input *CreateDiaryInput) (*CreateDiaryOutput, error) {
	grant, err := h.authority.Verify(input.Authorization, h.contract.Address(), auth.ScopeSubmit)
	if err != nil {
		return nil, apiError(h.logger, "create diary", err)
	}
	handles, err := parseHandles(input.Body.Handles)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	proofs := make([]diary.Proof, len(input.Body.Proofs))
	for i, p := range input.Body.Proofs {
		proofs[i] = diary.Proof(p)
	}

	e, err := h.contract.CreateDiary(ctx, grant.Owner, handles, proofs, input.Body.ByteLength)
	if err != nil {
		return nil, apiError(h.logger, "create diary", err)
	}

	out := &CreateDiaryOutput{}
	out.Body.Owner = e.Owner.String()
	out.Body.DiaryID = e.DiaryID
	out.Body.AddedID = e.AddedID
	out.Body.ChunkCount = len(e.Chunks)
	out.Body.Timestamp = e.CreatedAt
	return out, nil
}

func (h *DiaryHandler) List(ctx context.Context, input *ListDiariesInput) (*ListDiariesOutput, error) {
	owner, err := diary.ParseOwner(input.Owner)
	if err != nil {
		return nil, apiError(h.logger, "list diaries", err)
	}
	count, err := h.contract.DiaryCount(ctx, owner)
	if err != nil {
		return nil, apiError(h.logger, "list diaries", err)
	}
	page, err := h.contract.List(ctx, owner, input.Cursor, input.Limit)
	if err != nil {
		return nil, apiError(h.logger, "list diaries", err)
	}

	out := &ListDiariesOutput{}
	out.Body.Owner = owner.String()
	out.Body.Count = count
	out.Body.Entries = make([]EntryMetaResponse, len(page.Entries))
	for i, m := range page.Entries {
		out.Body.Entries[i] = metaToResponse(m)
	}
	out.Body.NextCursor = page.NextCursor
	out.Body.HasMore = page.HasMore
	return out, nil
}

func (h *DiaryHandler) Entry(ctx context.Context, input *EntryPath) (*EntryMetaOutput, error) {
	owner, err := diary.ParseOwner(input.Owner)
	if err != nil {
		return nil, apiError(h.logger, "get entry", err)
	}
	meta, err := h.contract.DiaryEntry(ctx, owner, input.DiaryID)
	if err != nil {
		return nil, apiError(h.logger, "get entry", err)
	}
	return &EntryMetaOutput{Body: metaToResponse(*meta)}, nil
}

func (h *DiaryHandler) Chunks(ctx context.Context, input *EntryPath) (*ChunksOutput, error) {
	owner, err := diary.ParseOwner(input.Owner)
	if err != nil {
		return nil, apiError(h.logger, "get chunks", err)
	}
	handles, err := h.contract.Chunks(ctx, owner, input.DiaryID)
	if err != nil {
		return nil, apiError(h.logger, "get chunks", err)
	}
	out := &ChunksOutput{}
	out.Body.Handles = make([]string, len(handles))
	for i, hd := range handles {
		out.Body.Handles[i] = hd.String()
	}
	return out, nil
}

func (h *DiaryHandler) Chunk(ctx context.Context, input *ChunkInput) (*ChunkOutput, error) {
	owner, err := diary.ParseOwner(input.Owner)
	if err != nil {
		return nil, apiError(h.logger, "get chunk", err)
	}
	handle, err := h.contract.EncryptedTextChunk(ctx, owner, input.DiaryID, input.Index)
	if err != nil {
		return nil, apiError(h.logger, "get chunk", err)
	}
	out := &ChunkOutput{}
	out.Body.Index = input.Index
	out.Body.Handle = handle.String()
	return out, nil
}

func metaToResponse(m diary.EntryMeta) EntryMetaResponse {
	r := EntryMetaResponse{
		DiaryID:    m.DiaryID,
		Exists:     m.Exists,
		ChunkCount: m.ChunkCount,
		ByteLength: m.ByteLength,
	}
	if m.Exists {
		r.Timestamp = m.Timestamp.Unix()
		r.Time = m.Timestamp
	}
	return r
}

// Package client talks to a diary server over HTTP. A Client satisfies the
// journal Encryptor, Decryptor and Ledger interfaces, so entries can be
// composed and read remotely the same way they are in process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/fhe"
	"github.com/ryanbastic/go-diary/internal/storage"
)

// TokenSource returns a bearer token for owner with the given scope.
type TokenSource func(ctx context.Context, owner diary.Owner, scope auth.Scope) (string, error)

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource {
	return func(context.Context, diary.Owner, auth.Scope) (string, error) { return tok, nil }
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	maxRetries uint64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource sets where submit tokens come from. The default asks the
// server's authorization endpoint.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithRetries sets how many times idempotent calls are retried on transport
// errors and 5xx responses.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
	}
	c.tokens = c.issue
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("diary api: %d: %s", e.StatusCode, msg)
}

// notFound are the sentinels a 404 detail can name.
var notFound = []error{diary.ErrChunkOutOfRange, diary.ErrHandleNotFound, diary.ErrEntryNotFound}

// Unwrap lets callers match 403 and 404 responses with errors.Is against the
// diary sentinels. A 404 unwraps to the sentinel its detail names, or to
// nothing when it names none.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusForbidden:
		return diary.ErrUnauthorized
	case http.StatusNotFound:
		for _, s := range notFound {
			if strings.Contains(e.Detail, s.Error()) {
				return s
			}
		}
	}
	return nil
}

func (e *APIError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Authorize asks the server to issue a token. The server only offers this in
// development deployments. Retries are safe: each attempt mints an
// independent token.
func (c *Client) Authorize(ctx context.Context, owner diary.Owner, scope auth.Scope, ttl time.Duration) (string, time.Time, error) {
	body := map[string]any{"owner": owner.String(), "scope": string(scope)}
	if ttl > 0 {
		body["ttl_seconds"] = int(ttl / time.Second)
	}
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/authorizations", nil, body, "", true, &resp); err != nil {
		return "", time.Time{}, err
	}
	return resp.Token, resp.ExpiresAt, nil
}

func (c *Client) issue(ctx context.Context, owner diary.Owner, scope auth.Scope) (string, error) {
	tok, _, err := c.Authorize(ctx, owner, scope, 0)
	return tok, err
}

// Params fetches the server's public encryption parameters.
func (c *Client) Params(ctx context.Context) (*Params, error) {
	var p Params
	if err := c.do(ctx, http.MethodGet, "/v1/fhe/params", nil, nil, "", true, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type Params struct {
	fhe.ParamsInfo
	Contract string `json:"contract"`
	ProofKey string `json:"proof_key"`

	MaxTextChars int `json:"max_text_chars"`
}

type encryptedInput struct {
	Handle string `json:"handle"`
	Proof  string `json:"proof"`
}

// Encrypt encrypts a single word. Prefer EncryptBatch.
func (c *Client) Encrypt(ctx context.Context, word uint32, owner diary.Owner, contract string) (diary.Handle, diary.Proof, error) {
	hs, ps, err := c.EncryptBatch(ctx, []uint32{word}, owner, contract)
	if err != nil {
		return diary.Handle{}, "", err
	}
	return hs[0], ps[0], nil
}

// EncryptBatch encrypts words for owner in one request. The server binds the
// handles to its own contract; contract is accepted for interface symmetry.
// A retried request leaves the earlier attempt's ciphertexts unreferenced.
func (c *Client) EncryptBatch(ctx context.Context, words []uint32, owner diary.Owner, _ string) ([]diary.Handle, []diary.Proof, error) {
	tok, err := c.tokens(ctx, owner, auth.ScopeSubmit)
	if err != nil {
		return nil, nil, fmt.Errorf("submit token: %w", err)
	}
	var resp struct {
		Owner  string           `json:"owner"`
		Inputs []encryptedInput `json:"inputs"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/inputs", nil, map[string]any{"words": words}, tok, true, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Owner != owner.String() {
		return nil, nil, fmt.Errorf("%w: token is for %s, not %s", diary.ErrUnauthorized, resp.Owner, owner)
	}
	if len(resp.Inputs) != len(words) {
		return nil, nil, fmt.Errorf("server returned %d inputs for %d words", len(resp.Inputs), len(words))
	}

	handles := make([]diary.Handle, len(words))
	proofs := make([]diary.Proof, len(words))
	for i, in := range resp.Inputs {
		if handles[i], err = diary.ParseHandle(in.Handle); err != nil {
			return nil, nil, fmt.Errorf("input %d: %w", i, err)
		}
		proofs[i] = diary.Proof(in.Proof)
	}
	return handles, proofs, nil
}

// Decrypt decrypts one handle. Prefer DecryptBatch.
func (c *Client) Decrypt(ctx context.Context, handle diary.Handle, authorization string) (uint32, error) {
	words, err := c.DecryptBatch(ctx, []diary.Handle{handle}, authorization)
	if err != nil {
		return 0, err
	}
	return words[0], nil
}

// DecryptBatch decrypts handles in one request and returns words in order.
func (c *Client) DecryptBatch(ctx context.Context, handles []diary.Handle, authorization string) ([]uint32, error) {
	hs := make([]string, len(handles))
	for i, h := range handles {
		hs[i] = h.String()
	}
	var resp struct {
		Words []uint32 `json:"words"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/decrypt", nil, map[string]any{"handles": hs}, authorization, true, &resp); err != nil {
		return nil, err
	}
	if len(resp.Words) != len(handles) {
		return nil, fmt.Errorf("server returned %d words for %d handles", len(resp.Words), len(handles))
	}
	return resp.Words, nil
}

// CreateDiary submits an entry as caller. It is never retried.
func (c *Client) CreateDiary(ctx context.Context, caller diary.Owner, handles []diary.Handle, proofs []diary.Proof, byteLength int) (*diary.Entry, error) {
	tok, err := c.tokens(ctx, caller, auth.ScopeSubmit)
	if err != nil {
		return nil, fmt.Errorf("submit token: %w", err)
	}
	hs := make([]string, len(handles))
	for i, h := range handles {
		hs[i] = h.String()
	}
	ps := make([]string, len(proofs))
	for i, p := range proofs {
		ps[i] = string(p)
	}
	body := map[string]any{"handles": hs, "proofs": ps, "byte_length": byteLength}

	var resp struct {
		Owner     string    `json:"owner"`
		DiaryID   int64     `json:"diary_id"`
		AddedID   int64     `json:"added_id"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/diaries", nil, body, tok, false, &resp); err != nil {
		return nil, err
	}
	if resp.Owner != caller.String() {
		return nil, fmt.Errorf("entry was created for %s, not %s", resp.Owner, caller)
	}
	return &diary.Entry{
		AddedID:    resp.AddedID,
		Owner:      caller,
		DiaryID:    resp.DiaryID,
		Chunks:     handles,
		ByteLength: byteLength,
		CreatedAt:  resp.Timestamp,
	}, nil
}

type entryMeta struct {
	DiaryID    int64     `json:"diary_id"`
	Exists     bool      `json:"exists"`
	Time       time.Time `json:"time"`
	ChunkCount int       `json:"chunk_count"`
	ByteLength int       `json:"byte_length"`
}

func (m entryMeta) toMeta(owner diary.Owner) diary.EntryMeta {
	out := diary.EntryMeta{
		Owner:      owner,
		DiaryID:    m.DiaryID,
		Exists:     m.Exists,
		ChunkCount: m.ChunkCount,
		ByteLength: m.ByteLength,
	}
	if m.Exists {
		out.Timestamp = m.Time
	}
	return out
}

func (c *Client) DiaryEntry(ctx context.Context, owner diary.Owner, diaryID int64) (*diary.EntryMeta, error) {
	var m entryMeta
	path := "/v1/diaries/" + owner.String() + "/" + strconv.FormatInt(diaryID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", true, &m); err != nil {
		return nil, err
	}
	meta := m.toMeta(owner)
	return &meta, nil
}

func (c *Client) Chunks(ctx context.Context, owner diary.Owner, diaryID int64) ([]diary.Handle, error) {
	var resp struct {
		Handles []string `json:"handles"`
	}
	path := "/v1/diaries/" + owner.String() + "/" + strconv.FormatInt(diaryID, 10) + "/chunks"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", true, &resp); err != nil {
		return nil, err
	}
	out := make([]diary.Handle, len(resp.Handles))
	for i, s := range resp.Handles {
		h, err := diary.ParseHandle(s)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}

// Listing is one page of an owner's entries.
type Listing struct {
	Count int64
	storage.Page
}

// List returns owner's entry count and one page of metadata.
func (c *Client) List(ctx context.Context, owner diary.Owner, cursor string, limit int) (*Listing, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Count      int64       `json:"count"`
		Entries    []entryMeta `json:"entries"`
		NextCursor string      `json:"next_cursor"`
		HasMore    bool        `json:"has_more"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/diaries/"+owner.String(), q, nil, "", true, &resp); err != nil {
		return nil, err
	}
	out := &Listing{Count: resp.Count}
	out.Entries = make([]diary.EntryMeta, len(resp.Entries))
	for i, m := range resp.Entries {
		out.Entries[i] = m.toMeta(owner)
	}
	out.NextCursor = resp.NextCursor
	out.HasMore = resp.HasMore
	return out, nil
}

// do sends one request and decodes a JSON response into out. Idempotent
// requests are retried with exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, idempotent bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	op := func() error {
		err := c.send(ctx, method, u, payload, bearer, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	if !idempotent || c.maxRetries == 0 {
		return c.send(ctx, method, u, payload, bearer, out)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx))
}

func (c *Client) send(ctx context.Context, method, u string, payload []byte, bearer string, out any) error {
	var r io.Reader
	if payload != nil {
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		if !strings.HasPrefix(bearer, "Bearer ") {
			bearer = "Bearer " + bearer
		}
		req.Header.Set("Authorization", bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

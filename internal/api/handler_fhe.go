package api

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/fhe"
	"github.com/ryanbastic/go-diary/internal/ledger"
	"golang.org/x/sync/errgroup"
)

// maxWordsPerRequest bounds encrypt and decrypt batches.
const maxWordsPerRequest = 1024

const cipherConcurrency = 8

type FHEParamsResponse struct {
	fhe.ParamsInfo
	Contract string `json:"contract" doc:"Contract address handles are bound to"`
	ProofKey string `json:"proof_key" doc:"Hex ed25519 key input proofs verify against"`

	MaxTextChars int `json:"max_text_chars" doc:"Most characters one entry may hold"`
}

type FHEParamsOutput struct {
	Body FHEParamsResponse
}

type EncryptInputsInput struct {
	Authorization string `header:"Authorization" doc:"Bearer submit authorization" required:"true"`
	Body          struct {
		Words []uint32 `json:"words" doc:"Packed little-endian words" required:"true" minItems:"1" maxItems:"1024"`
	}
}

type EncryptedInput struct {
	Handle string `json:"handle" doc:"Ciphertext handle, 0x-prefixed hex"`
	Proof  string `json:"proof" doc:"Input proof binding the handle to the owner"`
}

type EncryptInputsOutput struct {
	Body struct {
		Owner  string           `json:"owner"`
		Inputs []EncryptedInput `json:"inputs"`
	}
}

type DecryptInput struct {
	Authorization string `header:"Authorization" doc:"Bearer decrypt authorization" required:"true"`
	Body          struct {
		Handles []string `json:"handles" doc:"Handles to decrypt, in order" required:"true" minItems:"1" maxItems:"1024"`
	}
}

type DecryptOutput struct {
	Body struct {
		Words []uint32 `json:"words" doc:"Decrypted words in handle order"`
	}
}

type FHEHandler struct {
	cp        *fhe.Coprocessor
	authority *auth.Authority
	ledger    *ledger.Contract
	contract  string
	logger    *slog.Logger
}

func NewFHEHandler(cp *fhe.Coprocessor, authority *auth.Authority, c *ledger.Contract, logger *slog.Logger) *FHEHandler {
	return &FHEHandler{cp: cp, authority: authority, ledger: c, contract: c.Address(), logger: logger}
}

func registerFHERoutes(api huma.API, h *FHEHandler) {
	huma.Register(api, huma.Operation{
		OperationID: "get-fhe-params",
		Method:      http.MethodGet,
		Path:        "/v1/fhe/params",
		Summary:     "Public encryption parameters",
		Tags:        []string{"fhe"},
	}, h.Params)

	huma.Register(api, huma.Operation{
		OperationID: "encrypt-inputs",
		Method:      http.MethodPost,
		Path:        "/v1/inputs",
		Summary:     "Encrypt words into proven handles for the bearer",
		Tags:        []string{"fhe"},
	}, h.Encrypt)

	huma.Register(api, huma.Operation{
		OperationID: "decrypt-handles",
		Method:      http.MethodPost,
		Path:        "/v1/decrypt",
		Summary:     "Decrypt handles owned by the bearer",
		Tags:        []string{"fhe"},
	}, h.Decrypt)
}

func (h *FHEHandler) Params(ctx context.Context, _ *struct{}) (*FHEParamsOutput, error) {
	return &FHEParamsOutput{Body: FHEParamsResponse{
		ParamsInfo: h.cp.Params(),
		Contract:   h.contract,
		ProofKey:   hex.EncodeToString(h.cp.ProofKey()),

		MaxTextChars: h.ledger.MaxTextChars(),
	}}, nil
}

func (h *FHEHandler) Encrypt(ctx context.Context, input *EncryptInputsInput) (*EncryptInputsOutput, error) {
	grant, err := h.authority.Verify(input.Authorization, h.contract, auth.ScopeSubmit)
	if err != nil {
		return nil, apiError(h.logger, "encrypt", err)
	}

	words := input.Body.Words
	inputs := make([]EncryptedInput, len(words))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cipherConcurrency)
	for i, w := range words {
		g.Go(func() error {
			handle, proof, err := h.cp.Encrypt(gctx, w, grant.Owner, h.contract)
			if err != nil {
				return fmt.Errorf("word %d: %w", i, err)
			}
			inputs[i] = EncryptedInput{Handle: handle.String(), Proof: string(proof)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apiError(h.logger, "encrypt", err)
	}

	out := &EncryptInputsOutput{}
	out.Body.Owner = grant.Owner.String()
	out.Body.Inputs = inputs
	return out, nil
}

func (h *FHEHandler) Decrypt(ctx context.Context, input *DecryptInput) (*DecryptOutput, error) {
	handles, err := parseHandles(input.Body.Handles)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	words := make([]uint32, len(handles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cipherConcurrency)
	for i, handle := range handles {
		g.Go(func() error {
			w, err := h.cp.Decrypt(gctx, handle, input.Authorization)
			if err != nil {
				return fmt.Errorf("handle %d: %w", i, err)
			}
			words[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apiError(h.logger, "decrypt", err)
	}

	out := &DecryptOutput{}
	out.Body.Words = words
	return out, nil
}

func parseHandles(in []string) ([]diary.Handle, error) {
	out := make([]diary.Handle, len(in))
	for i, s := range in {
		h, err := diary.ParseHandle(s)
		if err != nil {
			return nil, fmt.Errorf("handle %d: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/diary"
)

type IssueAuthorizationBody struct {
	Owner      string `json:"owner" doc:"Owner address" required:"true" pattern:"^0x[0-9a-fA-F]{40}$"`
	Scope      string `json:"scope" doc:"What the authorization permits" required:"true" enum:"submit,decrypt"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" doc:"Validity in seconds; 0 uses the server default" minimum:"0" maximum:"86400"`
}

type IssueAuthorizationInput struct {
	Body IssueAuthorizationBody
}

type AuthorizationResponse struct {
	Token     string    `json:"token" doc:"Bearer token"`
	Owner     string    `json:"owner" doc:"Owner address"`
	Scope     string    `json:"scope" doc:"Granted scope"`
	ExpiresAt time.Time `json:"expires_at" doc:"Expiry time"`
}

type IssueAuthorizationOutput struct {
	Body AuthorizationResponse
}

// AuthHandler issues authorizations. It stands in for wallet signatures in
// development and is only mounted when enabled.
type AuthHandler struct {
	authority *auth.Authority
	contract  string
	logger    *slog.Logger
}

func NewAuthHandler(authority *auth.Authority, contract string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{authority: authority, contract: contract, logger: logger}
}

func registerAuthRoutes(api huma.API, h *AuthHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "issue-authorization",
		Method:        http.MethodPost,
		Path:          "/v1/authorizations",
		Summary:       "Issue a submit or decrypt authorization",
		Tags:          []string{"auth"},
		DefaultStatus: http.StatusCreated,
	}, h.Issue)
}

func (h *AuthHandler) Issue(ctx context.Context, input *IssueAuthorizationInput) (*IssueAuthorizationOutput, error) {
	owner, err := diary.ParseOwner(input.Body.Owner)
	if err != nil {
		return nil, apiError(h.logger, "issue authorization", err)
	}
	scope := auth.Scope(input.Body.Scope)
	token, exp, err := h.authority.Issue(owner, h.contract, scope, time.Duration(input.Body.TTLSeconds)*time.Second)
	if err != nil {
		return nil, apiError(h.logger, "issue authorization", err)
	}

	h.logger.Info("authorization issued", "owner", owner.String(), "scope", scope, "expires_at", exp)
	return &IssueAuthorizationOutput{Body: AuthorizationResponse{
		Token:     token,
		Owner:     owner.String(),
		Scope:     string(scope),
		ExpiresAt: exp,
	}}, nil
}

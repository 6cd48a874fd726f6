package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/events"
)

type RegisterPluginBody struct {
	Name     string   `json:"name" doc:"Plugin name" required:"true" minLength:"1"`
	Endpoint string   `json:"endpoint" doc:"JSON-RPC endpoint URL" required:"true" minLength:"1"`
	Events   []string `json:"events" doc:"Event names to subscribe to" required:"true" minItems:"1"`
}

type RegisterPluginInput struct {
	Body RegisterPluginBody
}

type PluginResponse struct {
	ID        uuid.UUID `json:"id" doc:"Plugin UUID"`
	Name      string    `json:"name" doc:"Plugin name"`
	Endpoint  string    `json:"endpoint" doc:"JSON-RPC endpoint URL"`
	Events    []string  `json:"events" doc:"Subscribed event names"`
	Status    string    `json:"status" doc:"Plugin status" example:"active"`
	CreatedAt time.Time `json:"created_at" doc:"Registration time"`

	LastAddedID int64 `json:"last_added_id" doc:"Newest entry index the plugin acknowledged"`
	Failures    int   `json:"consecutive_failures" doc:"Deliveries failed since the last success"`
}

type PluginOutput struct {
	Body PluginResponse
}

type ListPluginsOutput struct {
	Body []PluginResponse
}

type PluginIDInput struct {
	PluginID string `path:"plugin_id" doc:"Plugin UUID" format:"uuid"`
}

// knownEvents are the event names plugins may subscribe to.
var knownEvents = map[string]bool{diary.EventCreated: true}

type PluginHandler struct {
	registry *events.PluginRegistry
	store    events.PluginStore
	logger   *slog.Logger
}

// NewPluginHandler serves the plugin registry. store may be nil, in which
// case registrations last for the life of the process.
func NewPluginHandler(registry *events.PluginRegistry, store events.PluginStore, logger *slog.Logger) *PluginHandler {
	return &PluginHandler{registry: registry, store: store, logger: logger}
}

func registerPluginRoutes(api huma.API, h *PluginHandler) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-plugin",
		Method:        http.MethodPost,
		Path:          "/v1/plugins",
		Summary:       "Register an event plugin",
		Tags:          []string{"plugins"},
		DefaultStatus: http.StatusCreated,
	}, h.RegisterPlugin)

	huma.Register(api, huma.Operation{
		OperationID: "list-plugins",
		Method:      http.MethodGet,
		Path:        "/v1/plugins",
		Summary:     "List all plugins",
		Tags:        []string{"plugins"},
	}, h.ListPlugins)

	huma.Register(api, huma.Operation{
		OperationID: "get-plugin",
		Method:      http.MethodGet,
		Path:        "/v1/plugins/{plugin_id}",
		Summary:     "Get a plugin by ID",
		Tags:        []string{"plugins"},
	}, h.GetPlugin)

	huma.Register(api, huma.Operation{
		OperationID:   "delete-plugin",
		Method:        http.MethodDelete,
		Path:          "/v1/plugins/{plugin_id}",
		Summary:       "Delete a plugin",
		Tags:          []string{"plugins"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeletePlugin)
}

func (h *PluginHandler) RegisterPlugin(ctx context.Context, input *RegisterPluginInput) (*PluginOutput, error) {
	u, err := url.Parse(input.Body.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, huma.Error400BadRequest("endpoint must be an absolute http(s) URL")
	}
	for _, ev := range input.Body.Events {
		if !knownEvents[ev] {
			return nil, huma.Error400BadRequest("unknown event " + ev)
		}
	}

	p := &events.Plugin{
		Name:     input.Body.Name,
		Endpoint: input.Body.Endpoint,
		Events:   input.Body.Events,
	}
	if err := h.registry.Register(p); err != nil {
		return nil, apiError(h.logger, "register plugin", err)
	}
	if h.store != nil {
		if err := h.store.SavePlugin(ctx, p); err != nil {
			_ = h.registry.Delete(p.ID)
			return nil, apiError(h.logger, "save plugin", err)
		}
	}

	h.logger.Info("plugin registered", "id", p.ID, "name", p.Name, "endpoint", p.Endpoint)
	return &PluginOutput{Body: pluginToResponse(p)}, nil
}

func (h *PluginHandler) ListPlugins(ctx context.Context, _ *struct{}) (*ListPluginsOutput, error) {
	plugins := h.registry.List()
	resp := make([]PluginResponse, len(plugins))
	for i, p := range plugins {
		resp[i] = pluginToResponse(p)
	}
	return &ListPluginsOutput{Body: resp}, nil
}

func (h *PluginHandler) GetPlugin(ctx context.Context, input *PluginIDInput) (*PluginOutput, error) {
	id, err := uuid.Parse(input.PluginID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid plugin_id")
	}
	p, err := h.registry.Get(id)
	if err != nil {
		return nil, apiError(h.logger, "get plugin", err)
	}
	return &PluginOutput{Body: pluginToResponse(p)}, nil
}

func (h *PluginHandler) DeletePlugin(ctx context.Context, input *PluginIDInput) (*struct{}, error) {
	id, err := uuid.Parse(input.PluginID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid plugin_id")
	}
	if err := h.registry.Delete(id); err != nil {
		return nil, apiError(h.logger, "delete plugin", err)
	}
	if h.store != nil {
		if err := h.store.DeletePlugin(ctx, id); err != nil {
			h.logger.Error("delete persisted plugin", "id", id, "error", err)
		}
	}

	h.logger.Info("plugin deleted", "id", id)
	return nil, nil
}

func pluginToResponse(p *events.Plugin) PluginResponse {
	return PluginResponse{
		ID:        p.ID,
		Name:      p.Name,
		Endpoint:  p.Endpoint,
		Events:    p.Events,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,

		LastAddedID: p.LastAddedID,
		Failures:    p.Failures,
	}
}

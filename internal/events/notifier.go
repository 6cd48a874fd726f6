package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ryanbastic/go-diary/internal/circuitbreaker"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/metrics"
)

// MethodDiaryCreated is the JSON-RPC method plugins receive for new entries.
const MethodDiaryCreated = "diary.created"

// DiaryCreatedParams is the notification payload sent to plugins.
type DiaryCreatedParams struct {
	Contract string        `json:"contract"`
	AddedID  int64         `json:"added_id"`
	Event    diary.Created `json:"event"`
}

// Notifier pushes DiaryCreated notifications to subscribed plugins.
// Each attempted delivery is recorded on the plugin, and on recorder when
// one is set.
type Notifier struct {
	registry  *PluginRegistry
	recorder  DeliveryRecorder
	rpcClient *RPCClient
	contract  string
	logger    *slog.Logger
}

// NewNotifier creates a Notifier. recorder may be nil.
func NewNotifier(registry *PluginRegistry, recorder DeliveryRecorder, rpcClient *RPCClient, contract string, logger *slog.Logger) *Notifier {
	return &Notifier{
		registry:  registry,
		recorder:  recorder,
		rpcClient: rpcClient,
		contract:  contract,
		logger:    logger,
	}
}

// Attach registers the notifier as a DiaryCreated handler on r.
func (n *Notifier) Attach(r *Registry) {
	r.Register(diary.EventCreated, n.Handle)
}

// Handle delivers e to every subscribed plugin concurrently and waits for
// the deliveries to finish. Plugin failures are logged and counted, never
// returned, so one unhealthy plugin cannot stall the others.
func (n *Notifier) Handle(ctx context.Context, e diary.Entry) error {
	plugins := n.registry.ForEvent(diary.EventCreated)
	if len(plugins) == 0 {
		return nil
	}

	params := DiaryCreatedParams{
		Contract: n.contract,
		AddedID:  e.AddedID,
		Event:    diary.Created{Owner: e.Owner, DiaryID: e.DiaryID, Timestamp: e.CreatedAt},
	}

	var wg sync.WaitGroup
	for _, p := range plugins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.deliver(ctx, p, params)
		}()
	}
	wg.Wait()
	return nil
}

func (n *Notifier) deliver(ctx context.Context, p *Plugin, params DiaryCreatedParams) {
	resp, err := n.rpcClient.Call(ctx, p.Endpoint, MethodDiaryCreated, params)
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.EventsDelivered.WithLabelValues(diary.EventCreated, "skipped").Inc()
		n.logger.Warn("plugin circuit open", "plugin", p.Name, "endpoint", p.Endpoint, "added_id", params.AddedID)
		return
	case err != nil:
		metrics.EventsDelivered.WithLabelValues(diary.EventCreated, "error").Inc()
		n.logger.Error("event rpc failed", "plugin", p.Name, "endpoint", p.Endpoint, "added_id", params.AddedID, "error", err)
	case resp.Error != nil:
		metrics.EventsDelivered.WithLabelValues(diary.EventCreated, "rejected").Inc()
		n.logger.Error("event rpc returned error", "plugin", p.Name, "endpoint", p.Endpoint, "error", resp.Error)
	default:
		metrics.EventsDelivered.WithLabelValues(diary.EventCreated, "ok").Inc()
	}
	n.record(ctx, p, params.AddedID, err == nil && resp.Error == nil)
}

func (n *Notifier) record(ctx context.Context, p *Plugin, addedID int64, ok bool) {
	if err := n.registry.RecordDelivery(p.ID, addedID, ok); err != nil {
		// Deleted while the delivery was in flight.
		return
	}
	if n.recorder == nil {
		return
	}
	if err := n.recorder.RecordDelivery(ctx, p.ID, addedID, ok); err != nil {
		n.logger.Error("failed to record delivery", "plugin", p.Name, "added_id", addedID, "error", err)
	}
}

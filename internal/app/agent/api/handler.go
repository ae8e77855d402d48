package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"possync/internal/domain/conflict"
	"possync/internal/domain/entity"
	"possync/internal/domain/mirror"
	"possync/internal/domain/queue"
	"possync/internal/domain/syncer"
)

// SyncServicer is the orchestrator surface the admin API needs.
type SyncServicer interface {
	SyncAll(ctx context.Context) (*syncer.Result, error)
	InFlight() bool
	LastSyncTime() time.Time
	ResolveManual(ctx context.Context, id, choice string) error
	UnresolvedConflicts(ctx context.Context) ([]*conflict.Conflict, error)
}

type QueueServicer interface {
	Items(ctx context.Context) ([]*queue.Item, error)
	Counts(ctx context.Context) (map[queue.Status]int, error)
	Retry(ctx context.Context, id string) error
}

type MirrorServicer interface {
	Count(ctx context.Context, t entity.Type) (int, error)
	Metadata(ctx context.Context) *mirror.Metadata
}

// NetworkMonitor reports upstream reachability for the status endpoint.
type NetworkMonitor interface {
	Online() bool
	EffectiveType() string
}

type Handler struct {
	syncSvc    SyncServicer
	queueSvc   QueueServicer
	mirrorSvc  MirrorServicer
	network    NetworkMonitor
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(
	syncSvc SyncServicer,
	queueSvc QueueServicer,
	mirrorSvc MirrorServicer,
	network NetworkMonitor,
	log *slog.Logger,
	middleware huma.Middlewares,
) *Handler {
	return &Handler{
		syncSvc:    syncSvc,
		queueSvc:   queueSvc,
		mirrorSvc:  mirrorSvc,
		network:    network,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.getStatusOp(), h.getStatus)
	huma.Register(api, h.triggerSyncOp(), h.triggerSync)
	huma.Register(api, h.getConflictsOp(), h.getConflicts)
	huma.Register(api, h.resolveConflictOp(), h.resolveConflict)
	huma.Register(api, h.getQueueOp(), h.getQueue)
	huma.Register(api, h.retryQueueItemOp(), h.retryQueueItem)
	huma.Register(api, h.getHealthOp(), h.getHealth)
}

func (h *Handler) getStatus(ctx context.Context, _ *getStatusInput) (*getStatusOutput, error) {
	meta := h.mirrorSvc.Metadata(ctx)

	status := &SyncStatus{
		InFlight:     h.syncSvc.InFlight(),
		LastSyncTime: h.syncSvc.LastSyncTime(),
		LastSyncAt:   make(map[string]string, len(meta.LastSyncAt)),
		MirrorCounts: make(map[string]int),
		Stats: &SyncStatsBrief{
			TotalSyncs:      meta.Stats.TotalSyncs,
			AvgSyncDuration: meta.Stats.AvgSyncDuration,
			TotalPushed:     meta.Stats.TotalPushed,
			TotalPulled:     meta.Stats.TotalPulled,
			TotalConflicts:  meta.Stats.TotalConflicts,
			TotalResolved:   meta.Stats.TotalResolved,
		},
	}
	if !meta.Stats.LastSuccessful.IsZero() {
		status.Stats.LastSuccessful = meta.Stats.LastSuccessful.Format(time.RFC3339)
	}
	for t, at := range meta.LastSyncAt {
		status.LastSyncAt[string(t)] = at.Format(time.RFC3339)
	}
	for _, t := range entity.PullOrder() {
		n, err := h.mirrorSvc.Count(ctx, t)
		if err != nil {
			continue
		}
		status.MirrorCounts[string(t)] = n
	}

	if counts, err := h.queueSvc.Counts(ctx); err == nil {
		status.PendingQueue = counts[queue.StatusPending]
		status.FailedQueue = counts[queue.StatusFailed]
	}
	if h.network != nil {
		status.Online = h.network.Online()
		status.ConnectionType = h.network.EffectiveType()
	}

	return &getStatusOutput{
		Body: GetStatusResponse{
			Status: "Ok",
			Data:   status,
		},
	}, nil
}

func (h *Handler) triggerSync(ctx context.Context, _ *triggerSyncInput) (*triggerSyncOutput, error) {
	result, err := h.syncSvc.SyncAll(ctx)
	if err != nil {
		return &triggerSyncOutput{
			Body: TriggerSyncResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	report := &SyncReport{
		Success:   result.Success,
		Pushed:    result.Pushed,
		Synced:    make(map[string]int, len(result.Synced)),
		Conflicts: len(result.Conflicts),
		Resolved:  result.Resolved,
		Manual:    result.Manual,
		Duration:  result.Duration.Seconds(),
	}
	for t, n := range result.Synced {
		report.Synced[string(t)] = n
	}
	if result.Drain != nil {
		report.Replayed = result.Drain.Replayed
	}
	for _, e := range result.Errors {
		report.Errors = append(report.Errors, e.Error)
	}

	return &triggerSyncOutput{
		Body: TriggerSyncResponse{
			Status: "Ok",
			Data:   report,
		},
	}, nil
}

func (h *Handler) getConflicts(ctx context.Context, _ *getConflictsInput) (*getConflictsOutput, error) {
	conflicts, err := h.syncSvc.UnresolvedConflicts(ctx)
	if err != nil {
		return &getConflictsOutput{
			Body: GetConflictsResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	data := make([]ConflictInfo, 0, len(conflicts))
	for _, c := range conflicts {
		info := ConflictInfo{
			ID:               c.ID,
			EntityType:       c.EntityType,
			EntityID:         c.EntityID,
			Local:            c.Local,
			Server:           c.Server,
			LocalModifiedAt:  c.LocalModifiedAt,
			ServerModifiedAt: c.ServerModifiedAt,
			CreatedAt:        c.CreatedAt,
		}
		localFields, lerr := entity.Fields(c.Local)
		serverFields, serr := entity.Fields(c.Server)
		if lerr == nil && serr == nil {
			info.Diff = entity.DiffFields(localFields, serverFields)
		}
		data = append(data, info)
	}

	return &getConflictsOutput{
		Body: GetConflictsResponse{
			Status: "Ok",
			Data:   data,
		},
	}, nil
}

func (h *Handler) resolveConflict(ctx context.Context, input *resolveConflictInput) (*resolveConflictOutput, error) {
	if err := h.syncSvc.ResolveManual(ctx, input.ID, input.Body.Resolution); err != nil {
		return &resolveConflictOutput{
			Body: ResolveConflictResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	h.log.Info("conflict resolved", "id", input.ID, "resolution", input.Body.Resolution)
	return &resolveConflictOutput{
		Body: ResolveConflictResponse{
			Status:  "Ok",
			Message: "conflict resolved",
		},
	}, nil
}

func (h *Handler) getQueue(ctx context.Context, _ *getQueueInput) (*getQueueOutput, error) {
	items, err := h.queueSvc.Items(ctx)
	if err != nil {
		return &getQueueOutput{
			Body: GetQueueResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	data := make([]QueueItem, 0, len(items))
	for _, item := range items {
		data = append(data, queueItemDTO(item))
	}

	resp := GetQueueResponse{
		Status: "Ok",
		Data:   data,
	}
	if counts, err := h.queueSvc.Counts(ctx); err == nil {
		resp.Counts = make(map[string]int, len(counts))
		for s, n := range counts {
			resp.Counts[string(s)] = n
		}
	}

	return &getQueueOutput{Body: resp}, nil
}

func (h *Handler) retryQueueItem(ctx context.Context, input *retryQueueItemInput) (*retryQueueItemOutput, error) {
	if err := h.queueSvc.Retry(ctx, input.ID); err != nil {
		return &retryQueueItemOutput{
			Body: RetryQueueItemResponse{
				Status: "Error",
				Error:  err.Error(),
			},
		}, nil
	}

	return &retryQueueItemOutput{
		Body: RetryQueueItemResponse{
			Status:  "Ok",
			Message: "item requeued",
		},
	}, nil
}

func (h *Handler) getHealth(ctx context.Context, _ *getHealthInput) (*getHealthOutput, error) {
	resp := GetHealthResponse{Status: "Ok"}
	if h.network != nil {
		resp.Online = h.network.Online()
		resp.ConnectionType = h.network.EffectiveType()
	}
	return &getHealthOutput{Body: resp}, nil
}

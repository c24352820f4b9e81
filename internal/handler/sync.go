package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"stocksync-api/internal/lightspeed"
	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
	"stocksync-api/internal/service"
	"stocksync-api/internal/upstream"
	"stocksync-api/pkg/apierror"
	"stocksync-api/pkg/response"
)

// SyncTrigger starts a sync run.
type SyncTrigger interface {
	Run(ctx context.Context, opts service.RunOptions) (*model.SyncReport, error)
}

// SyncHandler handles on-demand sync requests.
type SyncHandler struct {
	sync        SyncTrigger
	incremental bool
	timeout     time.Duration
	logger      *zap.Logger
}

// NewSyncHandler creates a new sync handler. incremental is the mode used
// when the request does not name one.
func NewSyncHandler(sync SyncTrigger, incremental bool, timeout time.Duration, log *zap.Logger) *SyncHandler {
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &SyncHandler{
		sync:        sync,
		incremental: incremental,
		timeout:     timeout,
		logger:      logger.OrNop(log).Named("handler.sync"),
	}
}

// SyncResponse is returned for a run where every write succeeded.
type SyncResponse struct {
	RunID  string            `json:"run_id"`
	Synced int               `json:"synced"`
	Report *model.SyncReport `json:"report"`
}

// Trigger handles POST /api/v1/sync?incremental=true|false
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	incremental := h.incremental
	if v := r.URL.Query().Get("incremental"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			response.Error(w, apierror.BadRequest("incremental must be true or false"))
			return
		}
		incremental = b
	}

	// A client disconnect must not abandon a run halfway through its writes.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	report, err := h.sync.Run(ctx, service.RunOptions{Incremental: incremental})
	if err != nil {
		response.Error(w, syncError(report, err))
		return
	}

	if report.Status == model.SyncStatusPartial {
		response.Error(w, incompleteError(report))
		return
	}

	synced := 0
	if report.Store != nil {
		synced = report.Store.Upserted
	}
	response.OK(w, SyncResponse{RunID: report.RunID, Synced: synced, Report: report})
}

func syncError(report *model.SyncReport, err error) *apierror.Error {
	if errors.Is(err, service.ErrSyncInProgress) {
		return apierror.Conflict("a sync run is already in progress")
	}

	msg := fmt.Sprintf("sync failed: %v", err)
	if report != nil {
		msg = fmt.Sprintf("sync run %s failed: %v", report.RunID, err)
	}
	switch {
	case errors.Is(err, lightspeed.ErrAuthConfig),
		errors.Is(err, lightspeed.ErrAuthExchange),
		errors.Is(err, upstream.ErrRateLimitExceeded),
		errors.Is(err, upstream.ErrUpstreamUnavailable),
		errors.Is(err, upstream.ErrUpstreamRequest):
		return apierror.BadGateway(msg)
	default:
		return apierror.InternalError(msg)
	}
}

func incompleteError(report *model.SyncReport) *apierror.Error {
	var details []apierror.Detail
	for _, res := range []*model.ReconcileResult{report.Store, report.Platform} {
		if res == nil {
			continue
		}
		for _, f := range res.Failed {
			details = append(details, apierror.Detail{Key: f.Key, Message: f.Error})
		}
	}
	msg := fmt.Sprintf("sync run %s finished with %d failed writes", report.RunID, len(details))
	return apierror.SyncIncomplete(msg).WithDetails(details...)
}

// Package echo exposes the sync triggers over HTTP: bulk run endpoints for
// the job runner, the billing collaborator hook, and the remote-change
// webhook intake.
package echo

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pilab-dev/idsync/domain"
	"github.com/pilab-dev/idsync/mongodb"
)

// maxReportedFailures caps the failure details returned for human display.
const maxReportedFailures = 5

// BulkRunner is the bulk reconciliation surface the API triggers.
type BulkRunner interface {
	RunPush(ctx context.Context, filter func(*domain.User) bool) (*domain.BulkSyncResult, error)
	RunPull(ctx context.Context) (*domain.BulkSyncResult, error)
	RunBoth(ctx context.Context) (*domain.BulkSyncResult, *domain.BulkSyncResult, error)
}

// MutationNotifier is the event bridge surface the hooks feed into.
type MutationNotifier interface {
	NotifyUserChanged(user *domain.User, reason string)
	HandleRemoteChange(ctx context.Context, ev domain.RemoteChangeEvent) domain.SyncOutcome
}

// SyncAPI holds the API's dependencies.
type SyncAPI struct {
	bulk        BulkRunner
	bridge      MutationNotifier
	users       domain.UserRepository
	bulkTimeout time.Duration
}

// NewSyncAPI initializes the sync trigger API.
func NewSyncAPI(bulk BulkRunner, bridge MutationNotifier, users domain.UserRepository, bulkTimeout time.Duration) *SyncAPI {
	if bulkTimeout <= 0 {
		bulkTimeout = 10 * time.Minute
	}
	return &SyncAPI{bulk: bulk, bridge: bridge, users: users, bulkTimeout: bulkTimeout}
}

// RegisterRoutes registers the sync routes.
func (a *SyncAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/sync/push", a.PushHandler)
	e.POST("/v1/sync/pull", a.PullHandler)
	e.POST("/v1/sync/run", a.RunBothHandler)
	e.POST("/v1/hooks/billing", a.BillingHookHandler)
	e.POST("/v1/hooks/remote-change", a.RemoteChangeHandler)
	e.GET("/healthz", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// bulkReport is the machine-readable bulk response: counts plus the first
// few failures for human display.
type bulkReport struct {
	Total      int                    `json:"total"`
	Successful int                    `json:"successful"`
	Failed     int                    `json:"failed"`
	Failures   []domain.RecordOutcome `json:"failures,omitempty"`
	Cancelled  bool                   `json:"cancelled,omitempty"`
}

func toReport(result *domain.BulkSyncResult, runErr error) bulkReport {
	report := bulkReport{
		Total:      result.Total,
		Successful: result.Successful,
		Failed:     result.Failed,
		Failures:   result.FirstFailures(maxReportedFailures),
	}
	if runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)) {
		report.Cancelled = true
	}
	return report
}

// PushHandler triggers a bulk push of all local records.
func (a *SyncAPI) PushHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), a.bulkTimeout)
	defer cancel()

	result, err := a.bulk.RunPush(ctx, nil)
	if result == nil {
		log.Error().Err(err).Msg("Bulk push failed before producing a result")
		return echo.NewHTTPError(http.StatusInternalServerError, "bulk push failed")
	}
	return c.JSON(http.StatusOK, toReport(result, err))
}

// PullHandler triggers a bulk pull of the remote directory.
func (a *SyncAPI) PullHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), a.bulkTimeout)
	defer cancel()

	result, err := a.bulk.RunPull(ctx)
	if result == nil {
		log.Error().Err(err).Msg("Bulk pull failed before producing a result")
		return echo.NewHTTPError(http.StatusInternalServerError, "bulk pull failed")
	}
	return c.JSON(http.StatusOK, toReport(result, err))
}

// RunBothHandler triggers a push pass then a pull pass.
func (a *SyncAPI) RunBothHandler(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), a.bulkTimeout)
	defer cancel()

	push, pull, err := a.bulk.RunBoth(ctx)
	resp := map[string]bulkReport{}
	if push != nil {
		resp["push"] = toReport(push, err)
	}
	if pull != nil {
		resp["pull"] = toReport(pull, err)
	}
	if len(resp) == 0 {
		log.Error().Err(err).Msg("Bulk run failed before producing results")
		return echo.NewHTTPError(http.StatusInternalServerError, "bulk run failed")
	}
	return c.JSON(http.StatusOK, resp)
}

type billingHookRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// BillingHookHandler is the collaborator entry point invoked after a
// subscription lifecycle event or billing field update. It enqueues a push
// for the user and returns immediately.
func (a *SyncAPI) BillingHookHandler(c echo.Context) error {
	var req billingHookRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}
	if req.Reason == "" {
		req.Reason = "billing update"
	}

	user, err := a.users.GetByEmail(c.Request().Context(), req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown user")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}

	a.bridge.NotifyUserChanged(user, req.Reason)
	return c.NoContent(http.StatusAccepted)
}

type remoteChangeRequest struct {
	Type     string `json:"type"`
	Identity struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Metadata struct {
			Role        *string        `json:"role,omitempty"`
			DisplayName *string        `json:"display_name,omitempty"`
			Attributes  map[string]any `json:"attributes,omitempty"`
		} `json:"metadata"`
	} `json:"identity"`
}

// RemoteChangeHandler ingests a remote-originated change notification and
// runs the pull path for that one record. Duplicate deliveries are fine;
// pull is idempotent.
func (a *SyncAPI) RemoteChangeHandler(c echo.Context) error {
	var req remoteChangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed notification")
	}
	if req.Identity.Email == "" && req.Identity.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "notification carries no identity key")
	}

	ev := domain.RemoteChangeEvent{
		Type: domain.RemoteChangeType(req.Type),
		Identity: domain.RemoteIdentity{
			ExternalID: req.Identity.ID,
			Email:      req.Identity.Email,
			Metadata: domain.IdentityMetadata{
				Role:        req.Identity.Metadata.Role,
				DisplayName: req.Identity.Metadata.DisplayName,
				Attributes:  req.Identity.Metadata.Attributes,
			},
		},
	}
	outcome := a.bridge.HandleRemoteChange(c.Request().Context(), ev)
	return c.JSON(http.StatusOK, outcome)
}

// HealthHandler reports process and datastore health.
func (a *SyncAPI) HealthHandler(c echo.Context) error {
	if err := mongodb.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

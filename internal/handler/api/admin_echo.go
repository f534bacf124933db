package api

import (
	"context"
	"errors"
	"net/http"

	"PortfolioAgents/internal/domain/models"
	domrepo "PortfolioAgents/internal/domain/repository"
	imw "PortfolioAgents/internal/middleware"
	"PortfolioAgents/internal/mode"
	"PortfolioAgents/internal/service/ratelimit"
	"PortfolioAgents/internal/storage"
	"PortfolioAgents/internal/usecase"
	xhttp "PortfolioAgents/pkg/http"
	xlogger "PortfolioAgents/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ModeController reads and switches the process mode.
type ModeController interface {
	CurrentMode() string
	SetMode(m mode.Mode) (mode.Mode, error)
}

// RunController starts background runs.
type RunController interface {
	Trigger(source string) error
	Running() bool
}

// LedgerReader verifies chains.
type LedgerReader interface {
	ChainKeys(ctx context.Context) ([]string, error)
	VerifyChain(ctx context.Context, chainKey string) (models.ChainVerification, error)
	VerifyAll(ctx context.Context) ([]models.ChainVerification, error)
}

// EntryLister reads raw chain entries.
type EntryLister interface {
	ListChain(ctx context.Context, chainKey string) ([]models.LedgerEntry, error)
}

// AdminDeps groups the collaborators of AdminEchoHandler.
type AdminDeps struct {
	Modes   ModeController
	Runs    RunController
	Latest  domrepo.RunStore
	Ledger  LedgerReader
	Entries EntryLister
	Feed    http.Handler
	Limiter *ratelimit.Limiter
	APIKey  string
}

// AdminEchoHandler serves the operator API.
type AdminEchoHandler struct {
	logger *xlogger.Logger
	deps   AdminDeps
}

func NewAdminEchoHandler(logger *xlogger.Logger, deps AdminDeps) *AdminEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &AdminEchoHandler{logger: logger, deps: deps}
}

func (h *AdminEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	mw := []echo.MiddlewareFunc{}
	if h.deps.Limiter != nil {
		mw = append(mw, imw.RateLimit(h.deps.Limiter, h.logger))
	}
	mw = append(mw, imw.APIKey(h.deps.APIKey))

	g := e.Group("/api", mw...)
	g.GET("/mode", h.GetMode)
	g.PUT("/mode", h.SetMode)
	g.POST("/runs", h.TriggerRun)
	g.GET("/runs/latest", h.LatestRun)
	g.GET("/ledger/chains", h.Chains)
	g.GET("/ledger/verify", h.Verify)
	g.GET("/ledger/entries", h.Entries)

	if h.deps.Feed != nil {
		e.GET("/ws/decisions", echo.WrapHandler(h.deps.Feed), mw...)
	}
}

func (h *AdminEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"status":  "ok",
		"mode":    h.deps.Modes.CurrentMode(),
		"running": h.deps.Runs.Running(),
	})
}

func (h *AdminEchoHandler) GetMode(c echo.Context) error {
	m := h.deps.Modes.CurrentMode()
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"mode":            m,
		"safe_to_execute": m != string(mode.Panic),
	})
}

func (h *AdminEchoHandler) SetMode(c echo.Context) error {
	req := &models.SetModeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	next, err := mode.Parse(req.Mode)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	prev, err := h.deps.Modes.SetMode(next)
	if err != nil {
		h.logger.Error("set mode failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("set mode failed").WithError(err))
	}
	h.logger.Warn("system mode changed",
		xlogger.String("source", "api"),
		xlogger.String("from", string(prev)),
		xlogger.String("to", string(next)),
		xlogger.String("reason", req.Reason),
		xlogger.String("remote_ip", c.RealIP()),
	)
	return xhttp.SuccessResponse(c, map[string]string{"previous": string(prev), "mode": string(next)})
}

// TriggerRun starts a run in the background and answers 202.
func (h *AdminEchoHandler) TriggerRun(c echo.Context) error {
	if !mode.Mode(h.deps.Modes.CurrentMode()).Safe() {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("execution denied by system mode"))
	}
	if err := h.deps.Runs.Trigger("api"); err != nil {
		if errors.Is(err, usecase.ErrRunInProgress) {
			return xhttp.AppErrorResponse(c, xhttp.ConflictError("a run is already in progress"))
		}
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("run could not be started").WithError(err))
	}
	return xhttp.AcceptedResponse(c, map[string]string{"status": "started"})
}

func (h *AdminEchoHandler) LatestRun(c echo.Context) error {
	if h.deps.Latest == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no run recorded"))
	}
	run, err := h.deps.Latest.Latest(c.Request().Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no run recorded"))
		}
		h.logger.Error("latest run lookup failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("latest run lookup failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, run)
}

func (h *AdminEchoHandler) Chains(c echo.Context) error {
	keys, err := h.deps.Ledger.ChainKeys(c.Request().Context())
	if err != nil {
		h.logger.Error("list chains failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("list chains failed").WithError(err))
	}
	return xhttp.ListResponse(c, keys, int64(len(keys)))
}

// Verify checks one chain when ?chain= is given, every chain otherwise.
func (h *AdminEchoHandler) Verify(c echo.Context) error {
	req := &models.VerifyRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	var (
		results []models.ChainVerification
		err     error
	)
	if req.Chain != "" {
		var res models.ChainVerification
		res, err = h.deps.Ledger.VerifyChain(ctx, req.Chain)
		results = []models.ChainVerification{res}
	} else {
		results, err = h.deps.Ledger.VerifyAll(ctx)
	}
	if err != nil {
		h.logger.Error("ledger verification failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("ledger verification failed").WithError(err))
	}

	valid := true
	for _, r := range results {
		if !r.Valid {
			valid = false
			h.logger.Warn("ledger chain broken",
				xlogger.String("chain", r.ChainKey),
				xlogger.Int64("first_broken_id", r.FirstBrokenID),
				xlogger.String("reason", string(r.Reason)),
			)
		}
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"valid":  valid,
		"chains": results,
	})
}

// Entries returns the newest ?limit= entries of ?chain=, oldest first.
func (h *AdminEchoHandler) Entries(c echo.Context) error {
	chain := c.QueryParam("chain")
	if chain == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("chain is required"))
	}
	if h.deps.Entries == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("entries are not available"))
	}
	limit := xhttp.ClampInt(xhttp.ParseIntDefault(c.QueryParam("limit"), 50), 1, 500)

	entries, err := h.deps.Entries.ListChain(c.Request().Context(), chain)
	if err != nil {
		h.logger.Error("list entries failed", xlogger.String("chain", chain), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("list entries failed").WithError(err))
	}
	total := int64(len(entries))
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return xhttp.ListResponse(c, entries, total)
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinionbook/internal/domain"
	"github.com/alanyoungcy/opinionbook/internal/service"
)

// Settler runs sweeps and settles individual markets.
type Settler interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
	SettleMarket(ctx context.Context, marketID string) (domain.SettlementReport, error)
}

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	settler Settler
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(settler Settler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{settler: settler, logger: logger}
}

// Sweep runs one expiry and settlement sweep immediately.
// POST /api/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	rep, err := h.settler.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Settle settles one expired market.
// POST /api/markets/{id}/settle
func (h *AdminHandler) Settle(w http.ResponseWriter, r *http.Request) {
	rep, err := h.settler.SettleMarket(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "settle market", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":          rep,
		"already_settled": rep.AlreadySettled,
	})
}

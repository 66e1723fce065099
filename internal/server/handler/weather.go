package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/opinionbook/internal/oracle"
)

// WeatherSource reports current conditions at the oracle location.
type WeatherSource interface {
	Current(ctx context.Context) (oracle.Weather, error)
}

// WeatherHandler exposes the observation markets are settled against.
type WeatherHandler struct {
	source WeatherSource
	logger *slog.Logger
}

// NewWeatherHandler creates a WeatherHandler.
func NewWeatherHandler(source WeatherSource, logger *slog.Logger) *WeatherHandler {
	return &WeatherHandler{source: source, logger: logger}
}

// GetCurrent returns current weather at the oracle location.
// GET /api/weather
func (h *WeatherHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	cur, err := h.source.Current(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get weather", err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// Package oracle resolves market outcomes against real-world observations.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

// OpenMeteoConfig holds the forecast endpoint and location.
type OpenMeteoConfig struct {
	BaseURL    string
	Latitude   float64
	Longitude  float64
	Timeout    time.Duration
	MaxRetries int
}

// maxBackoff caps the base wait between attempts; jitter adds up to
// backoff.DefaultRandomizationFactor on top.
const maxBackoff = time.Second

// MaxResolveTime bounds one Resolve call: every attempt running into the
// timeout plus the longest jittered wait between attempts. Market leases held
// across settlement must outlast it.
func (c OpenMeteoConfig) MaxResolveTime() time.Duration {
	retries := time.Duration(max(c.MaxRetries, 0))
	wait := time.Duration(float64(maxBackoff) * (1 + backoff.DefaultRandomizationFactor))
	return c.Timeout*(retries+1) + wait*retries
}

// Weather is the current_weather block of a forecast response.
type Weather struct {
	Temperature   decimal.Decimal `json:"temperature"`
	WindSpeed     float64         `json:"windspeed"`
	WindDirection float64         `json:"winddirection"`
	WeatherCode   int             `json:"weathercode"`
	Time          string          `json:"time"`
	Latitude      float64         `json:"latitude"`
	Longitude     float64         `json:"longitude"`
}

// OpenMeteo implements domain.OutcomeOracle with the current temperature at a
// fixed location.
type OpenMeteo struct {
	cfg    OpenMeteoConfig
	client *http.Client
}

// NewOpenMeteo creates an OpenMeteo oracle.
func NewOpenMeteo(cfg OpenMeteoConfig) *OpenMeteo {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &OpenMeteo{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Resolve returns the current temperature. The threshold does not influence
// the observation.
func (o *OpenMeteo) Resolve(ctx context.Context, _ decimal.Decimal) (decimal.Decimal, error) {
	w, err := o.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Temperature, nil
}

// Current fetches the current weather, retrying transient failures with
// exponential backoff. Exhausted retries wrap domain.ErrOracleUnavailable.
func (o *OpenMeteo) Current(ctx context.Context) (Weather, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = maxBackoff

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Weather{}, fmt.Errorf("oracle: %w: %w", domain.ErrOracleUnavailable, ctx.Err())
			case <-time.After(bo.NextBackOff()):
			}
		}
		w, retry, err := o.fetch(ctx)
		if err == nil {
			return w, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return Weather{}, fmt.Errorf("oracle: open-meteo: %w: %w", domain.ErrOracleUnavailable, lastErr)
}

func (o *OpenMeteo) fetch(ctx context.Context) (Weather, bool, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(o.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(o.cfg.Longitude, 'f', -1, 64))
	q.Set("current_weather", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Weather{}, false, fmt.Errorf("create request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return Weather{}, true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return Weather{}, retry, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var body struct {
		Latitude       float64  `json:"latitude"`
		Longitude      float64  `json:"longitude"`
		CurrentWeather *Weather `json:"current_weather"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Weather{}, false, fmt.Errorf("decode response: %w", err)
	}
	if body.CurrentWeather == nil {
		return Weather{}, false, fmt.Errorf("response has no current_weather")
	}
	w := *body.CurrentWeather
	w.Latitude, w.Longitude = body.Latitude, body.Longitude
	return w, false, nil
}

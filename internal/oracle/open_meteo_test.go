package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/opinionbook/internal/domain"
)

const forecast = `{"latitude":28.625,"longitude":77.25,"current_weather":{"temperature":31.4,"windspeed":7.2,"winddirection":280,"weathercode":1,"time":"2026-03-01T12:00"}}`

func newOracle(url string, retries int) *OpenMeteo {
	return NewOpenMeteo(OpenMeteoConfig{BaseURL: url, Latitude: 28.625, Longitude: 77.25, Timeout: time.Second, MaxRetries: retries})
}

func TestResolveReadsCurrentTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("current_weather"))
		assert.Equal(t, "28.625", r.URL.Query().Get("latitude"))
		_, _ = w.Write([]byte(forecast))
	}))
	defer srv.Close()

	v, err := newOracle(srv.URL, 0).Resolve(context.Background(), decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.RequireFromString("31.4")))
}

func TestResolveRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(forecast))
	}))
	defer srv.Close()

	w, err := newOracle(srv.URL, 3).Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, w.WeatherCode)
	assert.Equal(t, 77.25, w.Longitude)
}

func TestResolveFailsAsOracleUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		calls   int32
	}{
		{"retries exhausted", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		}, 2},
		{"client error not retried", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad", http.StatusBadRequest)
		}, 1},
		{"missing block", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"latitude":1}`))
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			_, err := newOracle(srv.URL, 1).Resolve(context.Background(), decimal.NewFromInt(30))
			require.ErrorIs(t, err, domain.ErrOracleUnavailable)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestStatic(t *testing.T) {
	v, err := Static{Value: decimal.NewFromInt(12)}.Resolve(context.Background(), decimal.NewFromInt(30))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(12)))
}

func TestMaxResolveTime(t *testing.T) {
	assert.Equal(t, 5*time.Second, OpenMeteoConfig{Timeout: 5 * time.Second}.MaxResolveTime())
	assert.Equal(t, 24500*time.Millisecond, OpenMeteoConfig{Timeout: 5 * time.Second, MaxRetries: 3}.MaxResolveTime())
	assert.Equal(t, time.Second, OpenMeteoConfig{Timeout: time.Second, MaxRetries: -1}.MaxResolveTime())
}

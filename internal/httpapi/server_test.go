package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nescohelper/meter-bot/internal/nesco"
)

type fakeTicker struct {
	sent int
	err  error
}

func (t *fakeTicker) Tick(context.Context) (int, error) {
	return t.sent, t.err
}

type fakeFetcher struct {
	reading *nesco.Reading
	err     error
	gotNum  string
}

func (f *fakeFetcher) Fetch(_ context.Context, meterNumber string) (*nesco.Reading, error) {
	f.gotNum = meterNumber
	if f.err != nil {
		return nil, f.err
	}
	return f.reading, nil
}

func newTestServer(ticker Ticker, fetcher Fetcher) *Server {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(ticker, fetcher, log)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	return payload
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeTicker{}, &fakeFetcher{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, "healthy", payload["status"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestDailyReminder(t *testing.T) {
	srv := newTestServer(&fakeTicker{sent: 3}, &fakeFetcher{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/daily-reminder", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, float64(3), payload["reminders_sent"])
}

func TestDailyReminderTickFailure(t *testing.T) {
	srv := newTestServer(&fakeTicker{err: errors.New("db down")}, &fakeFetcher{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/daily-reminder", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, false, payload["success"])
}

func TestScrape(t *testing.T) {
	fetcher := &fakeFetcher{reading: &nesco.Reading{Balance: 120.5, CheckedAt: time.Now()}}
	srv := newTestServer(&fakeTicker{}, fetcher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/scrape",
		strings.NewReader(`{"meter_number": "31041051783"}`))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, 120.5, payload["balance"])
	assert.Equal(t, "31041051783", fetcher.gotNum)
}

func TestScrapeFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: &nesco.FetchError{Kind: nesco.KindNotFound}}
	srv := newTestServer(&fakeTicker{}, fetcher)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/scrape",
		strings.NewReader(`{"meter_number": "99999999999"}`))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["error"], "meter not found")
}

func TestScrapeMissingNumber(t *testing.T) {
	srv := newTestServer(&fakeTicker{}, &fakeFetcher{})

	for _, body := range []string{`{}`, `not json`, `{"meter_number": ""}`} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(body))
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(&fakeTicker{}, &fakeFetcher{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scrape", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

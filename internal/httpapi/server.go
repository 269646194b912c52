// Package httpapi exposes the operational endpoints: health, the cron
// trigger for the daily reminder tick, and a direct scrape probe.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/nescohelper/meter-bot/internal/nesco"
)

type Ticker interface {
	Tick(ctx context.Context) (int, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, meterNumber string) (*nesco.Reading, error)
}

type Server struct {
	router  *mux.Router
	ticker  Ticker
	fetcher Fetcher
	log     *logrus.Logger
}

func New(ticker Ticker, fetcher Fetcher, log *logrus.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		ticker:  ticker,
		fetcher: fetcher,
		log:     log,
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/daily-reminder", s.handleDailyReminder).Methods(http.MethodGet)
	s.router.HandleFunc("/api/scrape", s.handleScrape).Methods(http.MethodPost)

	return s
}

// Handler wraps the router with CORS for the internal dashboard.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDailyReminder(w http.ResponseWriter, r *http.Request) {
	sent, err := s.ticker.Tick(r.Context())
	if err != nil {
		s.log.WithError(err).Error("reminder tick failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"reminders_sent": sent,
	})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MeterNumber string `json:"meter_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MeterNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "meter_number required",
		})
		return
	}

	reading, err := s.fetcher.Fetch(r.Context(), body.MeterNumber)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": reading.Balance,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

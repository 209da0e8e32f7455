package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"bridgequotes-service/internal/application"
	"bridgequotes-service/internal/domain"
	"bridgequotes-service/internal/infrastructure/provider"
	"bridgequotes-service/internal/infrastructure/ratelimit"
)

// QuoteAggregator is the application service surface this transport needs.
type QuoteAggregator interface {
	GetQuotes(ctx context.Context, fromChain, toChain string, amount float64, token, clientIdentity string) (domain.QuoteResult, error)
}

// BreakerReporter returns the current breaker state of every provider.
type BreakerReporter func() []provider.BreakerStatus

type Server struct {
	svc      QuoteAggregator
	ping     func(ctx context.Context) error
	breakers BreakerReporter
}

func NewServer(svc QuoteAggregator, ping func(ctx context.Context) error, breakers BreakerReporter) *Server {
	return &Server{svc: svc, ping: ping, breakers: breakers}
}

// quoteResponse adds the success flag to the aggregate result on the wire.
type quoteResponse struct {
	Success bool `json:"success"`
	domain.QuoteResult
}

func (s *Server) GetQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// A missing or unparseable amount flows through as NaN so request
	// validation reports it together with any other problems.
	amount := math.NaN()
	if raw := q.Get("amount"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			amount = v
		}
	}

	result, err := s.svc.GetQuotes(r.Context(),
		q.Get("fromChain"), q.Get("toChain"), amount, q.Get("token"),
		clientIdentity(r))
	if err != nil {
		var ve *domain.ValidationError
		var rl *application.RateLimitError
		switch {
		case errors.As(err, &ve):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "invalid request",
				"details": ve.Problems,
			})
		case errors.As(err, &rl):
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(rl.Remaining, 0)))
			if !rl.ResetAt.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
			}
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      "rate limit exceeded",
				"retryAfter": rl.RetryAfterSeconds,
			})
		default:
			internalError(w)
		}
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{Success: result.Success(), QuoteResult: result})
}

// GetHealth reports service status plus every provider's breaker snapshot.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["cache"] = "unreachable"
		}
	}
	if s.breakers != nil {
		resp["breakers"] = s.breakers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientIdentity derives the rate limiting identity: first hop of
// X-Forwarded-For when present, the socket peer otherwise, masked to its
// network prefix either way.
func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return ratelimit.MaskIdentity(firstForwarded(fwd))
	}
	return ratelimit.MaskIdentity(r.RemoteAddr)
}

func firstForwarded(fwd string) string {
	for i := 0; i < len(fwd); i++ {
		if fwd[i] == ',' {
			fwd = fwd[:i]
			break
		}
	}
	for len(fwd) > 0 && fwd[0] == ' ' {
		fwd = fwd[1:]
	}
	for len(fwd) > 0 && fwd[len(fwd)-1] == ' ' {
		fwd = fwd[:len(fwd)-1]
	}
	return fwd
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func internalError(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

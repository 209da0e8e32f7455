package domain

import (
	"fmt"
	"math"
	"strings"
)

const (
	MinAmount = 1.0
	MaxAmount = 1_000_000.0

	DefaultToken = "usdc"
)

// QuoteRequest is a validated, normalized bridging request. Construct it via
// NewQuoteRequest; treat it as immutable afterwards.
type QuoteRequest struct {
	FromChain Chain
	ToChain   Chain
	Amount    float64
	Token     string
}

// ValidationError aggregates every problem with a request so the caller can
// fix them in one round trip.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

// NewQuoteRequest normalizes and validates raw request parameters.
// No upstream calls are made on behalf of an invalid request.
func NewQuoteRequest(fromChain, toChain string, amount float64, token string) (QuoteRequest, error) {
	from := Chain(strings.ToLower(strings.TrimSpace(fromChain)))
	to := Chain(strings.ToLower(strings.TrimSpace(toChain)))
	tok := strings.ToLower(strings.TrimSpace(token))
	if tok == "" {
		tok = DefaultToken
	}

	var problems []string
	if from == "" {
		problems = append(problems, "source chain is required")
	} else if !IsSupportedChain(from) {
		problems = append(problems, fmt.Sprintf("unsupported source chain %q", from))
	}
	if to == "" {
		problems = append(problems, "destination chain is required")
	} else if !IsSupportedChain(to) {
		problems = append(problems, fmt.Sprintf("unsupported destination chain %q", to))
	}
	if from != "" && from == to {
		problems = append(problems, "source and destination chains must be different")
	}
	switch {
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		problems = append(problems, "amount must be a number")
	case amount < MinAmount:
		problems = append(problems, fmt.Sprintf("minimum amount is %.0f", MinAmount))
	case amount > MaxAmount:
		problems = append(problems, fmt.Sprintf("maximum amount is %.0f", MaxAmount))
	}
	if !IsSupportedToken(tok) {
		problems = append(problems, fmt.Sprintf("unsupported token %q", tok))
	}
	if len(problems) > 0 {
		return QuoteRequest{}, &ValidationError{Problems: problems}
	}

	// Amounts are compared and cached at cent precision.
	amount = math.Round(amount*100) / 100

	return QuoteRequest{FromChain: from, ToChain: to, Amount: amount, Token: tok}, nil
}

// BaseUnits renders the amount in 6-decimal base units, the representation
// every bridge API consumes for stablecoin transfers.
func (r QuoteRequest) BaseUnits() string {
	return fmt.Sprintf("%d", int64(math.Floor(r.Amount*1_000_000)))
}

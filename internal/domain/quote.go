package domain

import (
	"sort"
	"time"
)

// SourceTag records how a quote was produced.
type SourceTag string

const (
	SourceLive     SourceTag = "live"
	SourceCached   SourceTag = "cached"
	SourceFallback SourceTag = "fallback"
)

// Quote is the normalized shape every bridge adapter returns. Fee and
// GasEstimate are USD; they are always non-negative finite numbers.
type Quote struct {
	Provider      string    `json:"provider"`
	Fee           float64   `json:"fee"`
	GasEstimate   float64   `json:"gasEstimate"`
	EstimatedTime string    `json:"estimatedTime"`
	Reliability   float64   `json:"reliability"`
	AffiliateURL  string    `json:"affiliateUrl"`
	Source        SourceTag `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
}

// TotalCost is the canonical ranking key.
func (q Quote) TotalCost() float64 { return q.Fee + q.GasEstimate }

// SortQuotes orders quotes ascending by total cost, breaking ties by
// reliability descending then provider name, so the output is deterministic
// regardless of provider completion order.
func SortQuotes(quotes []Quote) {
	sort.Slice(quotes, func(i, j int) bool {
		ci, cj := quotes[i].TotalCost(), quotes[j].TotalCost()
		if ci != cj {
			return ci < cj
		}
		if quotes[i].Reliability != quotes[j].Reliability {
			return quotes[i].Reliability > quotes[j].Reliability
		}
		return quotes[i].Provider < quotes[j].Provider
	})
}

// Metadata describes how an aggregate result was produced.
type Metadata struct {
	QuotesFound int       `json:"quotesFound"`
	ErrorsCount int       `json:"errorsCount"`
	Cached      bool      `json:"cached"`
	CacheAge    int       `json:"cacheAge,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// QuoteResult is the terminal state of one aggregation. An empty Quotes list
// with a populated Errors list is valid, not exceptional.
type QuoteResult struct {
	Quotes   []Quote         `json:"quotes"`
	Errors   []ProviderError `json:"errors"`
	Metadata Metadata        `json:"metadata"`
}

// Success means at least one provider produced a usable quote, independent
// of how many others failed.
func (r QuoteResult) Success() bool { return len(r.Quotes) > 0 }

package application

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"bridgequotes-service/internal/domain"
)

// CacheKey computes the deterministic fingerprint of one aggregation:
// SHA256(provider1,provider2,...|fromChain|toChain|amount|token), hex
// encoded. The provider set participates so a deployment with a different
// adapter mix never serves another deployment's cached results.
func CacheKey(providerNames []string, req domain.QuoteRequest) string {
	names := make([]string, len(providerNames))
	copy(names, providerNames)
	sort.Strings(names)

	data := fmt.Sprintf("%s|%s|%s|%.2f|%s",
		strings.Join(names, ","),
		req.FromChain,
		req.ToChain,
		req.Amount,
		req.Token,
	)
	hash := sha256.Sum256([]byte(data))
	return "quotes:" + hex.EncodeToString(hash[:])
}

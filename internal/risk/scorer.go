// Package risk scores resolved tokens for basic fraud signals.
package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"solana-pool-sentinel/internal/domain"
)

// Reasons reported by Score.
const (
	ReasonMissingMetadata = "Missing basic metadata"
	ReasonLargeSupply     = "Unusually large supply"
	ReasonDecimals        = "Unusual number of decimals"
	ReasonNonHTTPS        = "Non-HTTPS metadata URI"
	ReasonShortener       = "Suspicious URL shortener in metadata"
	ReasonNoCreators      = "No verified creators"
	reasonNamePattern     = "Suspicious name pattern: "
)

// MaxDecimals is the largest decimals value not flagged.
const MaxDecimals = 9

// Keywords flagged when found in a token name or symbol, case-insensitive.
var Keywords = []string{
	"free", "airdrop", "elon", "moon", "safe", "gem",
	"profit", "rich", "quick", "1000x", "100x", "presale",
}

var (
	supplyThreshold = decimal.New(1, 18)
	urlShorteners   = []string{"bit.ly", "tinyurl"}
)

// NamePatternReason returns the reason reported for a keyword hit.
func NamePatternReason(keyword string) string {
	return reasonNamePattern + keyword
}

// Score evaluates metadata and mint info against fixed heuristics.
// It is pure and total: every input yields an assessment.
func Score(meta domain.TokenMetadata, mint domain.MintInfo) domain.RiskAssessment {
	risks := make([]string, 0)

	if meta.Name == "" || meta.Symbol == "" || meta.URI == "" {
		risks = append(risks, ReasonMissingMetadata)
	}

	if parseSupply(mint.Supply).GreaterThan(supplyThreshold) {
		risks = append(risks, ReasonLargeSupply)
	}

	if mint.Decimals > MaxDecimals {
		risks = append(risks, ReasonDecimals)
	}

	if meta.URI != "" && !strings.HasPrefix(meta.URI, "https://") {
		risks = append(risks, ReasonNonHTTPS)
	}

	for _, s := range urlShorteners {
		if strings.Contains(meta.URI, s) {
			risks = append(risks, ReasonShortener)
			break
		}
	}

	if len(meta.Creators) == 0 {
		risks = append(risks, ReasonNoCreators)
	}

	name := strings.ToLower(meta.Name)
	symbol := strings.ToLower(meta.Symbol)
	for _, kw := range Keywords {
		if strings.Contains(name, kw) || strings.Contains(symbol, kw) {
			risks = append(risks, NamePatternReason(kw))
		}
	}

	return domain.RiskAssessment{
		RiskLevel: Level(len(risks)),
		Risks:     risks,
		Supply:    mint.Supply,
		Decimals:  mint.Decimals,
	}
}

// Level maps a reason count to a risk level.
func Level(reasons int) domain.RiskLevel {
	switch {
	case reasons > 2:
		return domain.RiskHigh
	case reasons > 0:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// parseSupply treats an unparsable supply as zero.
func parseSupply(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

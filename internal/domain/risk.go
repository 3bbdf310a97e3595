package domain

import "fmt"

// RiskLevel is the coarse risk classification of a token.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ParseRiskLevel validates a risk level string. Matching is exact.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	default:
		return "", fmt.Errorf("invalid risk level %q", s)
	}
}

// RiskAssessment is the deterministic result of scoring a token.
type RiskAssessment struct {
	RiskLevel RiskLevel `json:"riskLevel"`
	Risks     []string  `json:"risks"`
	Supply    string    `json:"supply"`
	Decimals  uint8     `json:"decimals"`
}

package protocol

// RiskTier is the coarse risk classification a compliance check assigns.
type RiskTier string

const (
	RiskLow        RiskTier = "low"
	RiskMedium     RiskTier = "medium"
	RiskHigh       RiskTier = "high"
	RiskProhibited RiskTier = "prohibited"
)

// ProcessingBasis is the legal justification recorded for handling
// personal data (GDPR Art. 6).
type ProcessingBasis string

const (
	BasisConsent            ProcessingBasis = "consent"
	BasisContract           ProcessingBasis = "contract"
	BasisLegalObligation    ProcessingBasis = "legal_obligation"
	BasisLegitimateInterest ProcessingBasis = "legitimate_interest"
	BasisVitalInterest      ProcessingBasis = "vital_interest"
	BasisPublicTask         ProcessingBasis = "public_task"
)

// Verdict is the structured outcome of a compliance check. Denials are
// expressed here, never as errors, so callers can branch on the result.
type Verdict struct {
	Allowed           bool            `json:"allowed"`
	RiskTier          RiskTier        `json:"risk_tier"`
	RequiredFollowups []string        `json:"required_followups"`
	Explanation       string          `json:"explanation"`
	HumanInLoop       bool            `json:"human_in_loop_required"`
	ProcessingBasis   ProcessingBasis `json:"processing_basis,omitempty"`
}

// Action is a side-effecting operation submitted for compliance review.
type Action struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Package compliance is the rule-based gate agents consult before executing
// side-effecting actions. Rules evaluate in a fixed order: deny-list, PII
// scan with legal-basis lookup, human-in-the-loop triggers, AI-regulation
// classification. Denials come back as verdicts, never as errors; errors are
// reserved for store failures.
package compliance

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/werkbank-io/werkbank/internal/pii"
	"github.com/werkbank-io/werkbank/pkg/protocol"
)

// HITLRule requires human sign-off for an action type, either always or when
// a numeric payload field crosses a threshold.
type HITLRule struct {
	ActionType string
	Always     bool
	Field      string  // payload field holding the number
	Threshold  float64 // compared against Field
	Below      bool    // true: trigger when value < Threshold; false: when value > Threshold
	Reason     string
}

// Rules is the complete rule set a Checker evaluates.
type Rules struct {
	// Denied action types are blocked outright (GDPR Art. 22 and similar).
	Denied []string
	// DefaultBasis maps action types to the legal basis that justifies
	// their personal-data handling. Contract and legitimate-interest bases
	// auto-register on first use; consent must be registered beforehand.
	DefaultBasis map[string]protocol.ProcessingBasis
	// HITL lists human-in-the-loop triggers.
	HITL []HITLRule
	// HighRisk lists AI-Act high-risk markers matched as substrings of the
	// action type.
	HighRisk []string
}

// DefaultRules returns the rule set for the agency's standard processes.
func DefaultRules() Rules {
	return Rules{
		Denied: []string{
			"automatic_rejection_leads",
			"automated_hiring_decisions",
			"unauthorized_data_transfer",
			"processing_without_basis",
			"retention_beyond_purpose",
		},
		DefaultBasis: map[string]protocol.ProcessingBasis{
			"lead_processing":     protocol.BasisLegitimateInterest,
			"lead_qualification":  protocol.BasisLegitimateInterest,
			"contract_management": protocol.BasisContract,
			"invoicing":           protocol.BasisContract,
			"customer_support":    protocol.BasisContract,
			"marketing":           protocol.BasisConsent,
		},
		HITL: []HITLRule{
			{ActionType: "lead_qualification", Field: "score", Threshold: 30, Below: true, Reason: "GDPR Art. 22"},
			{ActionType: "financial_decision", Field: "amount", Threshold: 10000, Reason: "business risk"},
			{ActionType: "customer_complaint", Always: true, Reason: "customer satisfaction"},
			{ActionType: "legal_matter", Always: true, Reason: "legal review"},
			{ActionType: "data_deletion_request", Always: true, Reason: "GDPR Art. 17"},
		},
		HighRisk: []string{
			"automated_hiring",
			"credit_scoring",
			"law_enforcement_ai",
			"biometric_identification",
			"emotion_recognition",
		},
	}
}

// aiActFollowups are the artifacts an AI-Act high-risk action requires.
// The checker attaches them; producing them is the operator's problem.
var aiActFollowups = []string{
	"register_with_authorities",
	"implement_risk_management",
	"ensure_human_oversight",
	"maintain_audit_logs",
	"conduct_conformity_assessment",
}

// Checker evaluates actions against the rule set and records every verdict.
type Checker struct {
	rules    Rules
	register *Register
	audit    *AuditLog
	logger   *slog.Logger
}

// NewChecker creates a Checker. audit may be nil to skip logging (tests).
func NewChecker(rules Rules, register *Register, audit *AuditLog, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{rules: rules, register: register, audit: audit, logger: logger}
}

// Check evaluates the action for agentID and returns the verdict. The
// returned error is non-nil only for store faults (register or audit log
// unavailable), never for a denial.
func (c *Checker) Check(agentID string, action protocol.Action) (protocol.Verdict, error) {
	verdict := c.evaluate(action)

	if c.audit != nil {
		if err := c.audit.Append(agentID, action, verdict); err != nil {
			return verdict, fmt.Errorf("compliance: %w", err)
		}
	}

	if !verdict.Allowed || verdict.HumanInLoop {
		c.logger.Info("compliance gate",
			"agent", agentID,
			"action", action.Type,
			"allowed", verdict.Allowed,
			"risk", verdict.RiskTier,
			"hitl", verdict.HumanInLoop,
		)
	}
	return verdict, nil
}

func (c *Checker) evaluate(action protocol.Action) protocol.Verdict {
	verdict := protocol.Verdict{
		Allowed:           true,
		RiskTier:          protocol.RiskLow,
		RequiredFollowups: []string{},
	}

	// 1. Deny-list overrides everything, payload included.
	for _, denied := range c.rules.Denied {
		if action.Type == denied {
			verdict.Allowed = false
			verdict.RiskTier = protocol.RiskProhibited
			verdict.Explanation = fmt.Sprintf("action type %q is prohibited", action.Type)
			return verdict
		}
	}

	// 2. Personal data requires a legal basis.
	categories := scanAction(action.Data)
	if len(categories) > 0 {
		verdict.RiskTier = protocol.RiskHigh
		verdict.RequiredFollowups = append(verdict.RequiredFollowups,
			"verify_processing_basis",
			"apply_data_minimization",
			"ensure_encryption",
		)

		basis, ok := c.resolveBasis(action.Type, categories)
		if !ok {
			verdict.Allowed = false
			verdict.Explanation = fmt.Sprintf("no valid processing basis for %v in action %q", categories, action.Type)
			return verdict
		}
		verdict.ProcessingBasis = basis
	}

	// 3. Human-in-the-loop triggers.
	if rule, reason := c.hitlTriggered(action); rule != nil {
		verdict.HumanInLoop = true
		verdict.RequiredFollowups = append(verdict.RequiredFollowups, "escalate_to_human")
		verdict.Explanation = reason
		if verdict.RiskTier == protocol.RiskLow {
			verdict.RiskTier = protocol.RiskMedium
		}
	}

	// 4. AI-Act high-risk classification.
	for _, marker := range c.rules.HighRisk {
		if strings.Contains(action.Type, marker) {
			verdict.RiskTier = protocol.RiskHigh
			verdict.RequiredFollowups = append(verdict.RequiredFollowups, aiActFollowups...)
			break
		}
	}

	return verdict
}

// resolveBasis looks up or auto-registers the legal basis for the action.
// Consent-gated types need a prior register entry; contract and
// legitimate-interest bases register themselves on first use.
func (c *Checker) resolveBasis(actionType string, categories []pii.Category) (protocol.ProcessingBasis, bool) {
	key := Key(actionType, categories)
	if c.register != nil {
		if basis, ok := c.register.Lookup(key); ok {
			return basis, true
		}
	}

	basis, ok := c.rules.DefaultBasis[actionType]
	if !ok {
		return "", false
	}

	switch basis {
	case protocol.BasisContract, protocol.BasisLegitimateInterest:
		if c.register != nil {
			if err := c.register.Record(key, basis, actionType); err != nil {
				c.logger.Error("processing register write failed", "key", key, "error", err)
			}
		}
		return basis, true
	default:
		// Consent (and anything stricter) is never auto-registered.
		return "", false
	}
}

// hitlTriggered returns the first matching HITL rule and its reason.
func (c *Checker) hitlTriggered(action protocol.Action) (*HITLRule, string) {
	for i := range c.rules.HITL {
		rule := &c.rules.HITL[i]
		if rule.ActionType != action.Type {
			continue
		}
		if rule.Always {
			return rule, fmt.Sprintf("human sign-off required: %s", rule.Reason)
		}

		value, ok := numericField(action.Data, rule.Field)
		if !ok {
			continue
		}
		if rule.Below && value < rule.Threshold {
			return rule, fmt.Sprintf("human sign-off required: %s (%s %.0f < %.0f)", rule.Reason, rule.Field, value, rule.Threshold)
		}
		if !rule.Below && value > rule.Threshold {
			return rule, fmt.Sprintf("human sign-off required: %s (%s %.0f > %.0f)", rule.Reason, rule.Field, value, rule.Threshold)
		}
	}
	return nil, ""
}

// scanAction serializes the payload and collects PII categories in it.
func scanAction(data map[string]any) []pii.Category {
	if len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return pii.Categories(string(raw))
}

// numericField extracts a float from a payload field, tolerating the
// int/float ambiguity of decoded JSON.
func numericField(data map[string]any, field string) (float64, bool) {
	v, ok := data[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/arbiter/internal/alert"
	"github.com/linnemanlabs/arbiter/internal/investigation"
	"github.com/linnemanlabs/arbiter/internal/policy"
)

const scoringSystemPrompt = `You are an expert compliance analyst evaluating banking transaction monitoring alerts.

Your role:
- Evaluate SOP rules against investigation findings
- Calculate precise confidence scores (0.0 to 1.0) based on evidence quality
- Provide clear, auditable rationales

Guidelines:
- Be evidence-based in your confidence scoring
- Reserve high confidence (0.8+) for clear patterns with strong evidence
- Be conservative when data is incomplete or ambiguous
- Use professional compliance terminology`

const proofSystemPrompt = `You are a compliance analyst evaluating customer-submitted proof.

Guidelines:
- Legitimate explanations are consistent with the observed transaction patterns
- Flag suspicious or inconsistent explanations
- Consider the customer profile
- When in doubt, recommend branch verification`

func evidenceJSON(e alert.Evidence) string {
	if len(e) == 0 {
		return "{}"
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func scorePrompt(req policy.ScoreRequest) string {
	matched := "NOT MATCHED"
	if req.Matched {
		matched = "MATCHED"
	}
	return fmt.Sprintf(`Evaluate whether the following SOP rule applies to this alert and calculate a precise confidence score.

SOP Rule:
- Rule ID: %s
- Rule Name: %s
- Condition: %s
- Action: %s

Alert Scenario: %s

Investigation Findings:
%s

Customer Context:
%s

Rule-Based Evaluation Result: %s
(Use this as reference, but provide your own independent assessment.)

Confidence score guidelines:
- 0.90-1.00: very strong evidence, clear pattern
- 0.75-0.89: strong evidence, mostly clear pattern
- 0.60-0.74: moderate evidence, some ambiguity
- 0.40-0.59: weak evidence, significant ambiguity
- 0.00-0.39: very weak or no evidence

Respond in JSON format:
{
  "matched": true or false,
  "confidence": 0.0-1.0,
  "rationale": "brief professional explanation",
  "reasoning": "detailed analysis behind the confidence score"
}`,
		req.Rule.ID,
		req.Rule.Name,
		req.Rule.Description,
		req.Rule.Recommendation,
		req.Rule.Scenario,
		evidenceJSON(req.Findings),
		evidenceJSON(req.Customer),
		matched,
	)
}

func proposePrompt(req policy.ProposalRequest) string {
	names := make([]string, 0, len(req.Candidates))
	for _, r := range req.Candidates {
		names = append(names, r.Name)
	}
	if len(names) == 0 {
		names = append(names, "none configured")
	}
	return fmt.Sprintf(`You are evaluating a banking alert where no standard SOP matches.

Alert Scenario: %s

Findings:
%s

Customer Context:
%s

Available SOPs (none matched):
- %s

Based on the findings and context, recommend the best course of action.

Options:
- ESCALATE: suspicious activity requiring immediate attention
- RFI: request for information from the customer
- IVR: automated outbound verification call
- CLOSE: false positive, no action needed
- BLOCK: immediate account blocking required

Respond in JSON format:
{
  "recommendation": "ESCALATE|RFI|IVR|CLOSE|BLOCK",
  "confidence": 0.0-1.0,
  "rationale": "brief explanation",
  "reasoning": "detailed chain of thought"
}`,
		req.Scenario,
		evidenceJSON(req.Findings),
		evidenceJSON(req.Customer),
		strings.Join(names, "\n- "),
	)
}

func enhancePrompt(req policy.EnhanceRequest) string {
	matched := "No SOP matched"
	if req.RuleName != "" {
		matched = "Matched SOP: " + req.RuleName
	}
	return fmt.Sprintf(`Generate a clear, professional rationale for the following compliance decision.

Decision: %s
Current rationale: %s

Findings:
%s

Customer Context:
%s

%s

Requirements:
- Concise but comprehensive
- Reference the specific findings that led to the decision
- Professional compliance language
- Maximum 200 words

Respond with the rationale text only.`,
		req.Decision.Recommendation,
		req.Decision.Rationale,
		evidenceJSON(req.Findings),
		evidenceJSON(req.Customer),
		matched,
	)
}

func proofPrompt(req investigation.ProofRequest) string {
	var (
		alertID  = "unknown"
		scenario = "unknown"
	)
	if req.Alert != nil {
		alertID = req.Alert.ID
		scenario = string(req.Alert.Scenario)
	}
	resolution := "RFI"
	rationale := "n/a"
	if req.Decision != nil {
		resolution = string(req.Decision.Recommendation)
		rationale = req.Decision.Rationale
	}
	return fmt.Sprintf(`Evaluate the legitimacy of customer-submitted proof for a banking compliance alert.

Alert details:
- Alert ID: %s
- Scenario: %s
- Original resolution: %s
- Original rationale: %s

Customer proof/explanation:
%s

Task: decide if the proof is legitimate and sufficient to resolve the alert.

Consider:
1. Does the explanation align with the transaction patterns?
2. Is the proof credible and consistent?
3. Are there red flags or inconsistencies?
4. Is the explanation reasonable for the customer's profile?

Respond in JSON format:
{
  "legitimate": true or false,
  "confidence": 0.0-1.0,
  "rationale": "brief explanation of the decision",
  "reasoning": "detailed analysis of why the proof is or is not sufficient"
}`,
		alertID,
		scenario,
		resolution,
		rationale,
		req.Text,
	)
}

package learner

import "github.com/AtRiskMedia/intervene/internal/domain/behavior"

// Intervention names predicted when no learned pattern qualifies.
const (
	InterventionHelpChat       = "help_chat"
	InterventionDiscountModal  = "discount_modal"
	InterventionExitIntent     = "exit_intent"
	InterventionSocialProof    = "social_proof"
	InterventionUrgencyBanner  = "urgency_banner"
	InterventionValueHighlight = "value_highlight"
	InterventionNone           = "none"
)

type heuristic struct {
	action     string
	confidence float64
}

var heuristics = map[behavior.Emotion]heuristic{
	behavior.Frustration:     {InterventionHelpChat, 70},
	behavior.Confusion:       {InterventionHelpChat, 65},
	behavior.PurchaseIntent:  {InterventionDiscountModal, 60},
	behavior.AbandonmentRisk: {InterventionExitIntent, 70},
	behavior.Interest:        {InterventionSocialProof, 55},
	behavior.Hesitation:      {InterventionUrgencyBanner, 60},
	behavior.Scanning:        {InterventionValueHighlight, 50},
}

// heuristicFor keys off the most recent emotion in the sequence.
func heuristicFor(sequence []behavior.Emotion) heuristic {
	if len(sequence) == 0 {
		return heuristic{action: InterventionNone}
	}
	if h, ok := heuristics[sequence[len(sequence)-1]]; ok {
		return h
	}
	return heuristic{action: InterventionNone}
}

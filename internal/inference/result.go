package inference

import "time"

// RiskTier is a coarse, human-facing reading of the toxicity probability.
type RiskTier string

const (
	RiskHigh     RiskTier = "High Risk"
	RiskModerate RiskTier = "Moderate Risk"
	RiskSafe     RiskTier = "Safe"
	RiskVerySafe RiskTier = "Very Safe"
)

const (
	ToxicThreshold  = 0.5
	highRiskAbove   = 0.8
	verySafeBelow   = 0.2
	VerdictToxic    = "toxic"
	VerdictNonToxic = "non-toxic"
)

// ClassifyRisk maps a toxicity probability to its tier: above 0.8 is high,
// above 0.5 moderate, below 0.2 very safe, anything else safe.
func ClassifyRisk(p float64) RiskTier {
	switch {
	case p > highRiskAbove:
		return RiskHigh
	case p > ToxicThreshold:
		return RiskModerate
	case p < verySafeBelow:
		return RiskVerySafe
	default:
		return RiskSafe
	}
}

type FruitPrediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type ToxicityPrediction struct {
	Toxic       bool     `json:"toxic"`
	Verdict     string   `json:"verdict"`
	Probability float64  `json:"probability"`
	Confidence  float64  `json:"confidence"` // probability of the chosen verdict, always >= 0.5
	RiskTier    RiskTier `json:"riskTier"`
}

// PredictionResult is the outcome of one Predict call.
type PredictionResult struct {
	FruitType     FruitPrediction    `json:"fruitType"`
	Toxicity      ToxicityPrediction `json:"toxicity"`
	Probabilities map[string]float64 `json:"probabilities"`
	Timestamp     time.Time          `json:"timestamp"`
}

func assessToxicity(p float64) ToxicityPrediction {
	t := ToxicityPrediction{
		Toxic:       p > ToxicThreshold,
		Probability: p,
		RiskTier:    ClassifyRisk(p),
	}
	if t.Toxic {
		t.Verdict = VerdictToxic
		t.Confidence = p
	} else {
		t.Verdict = VerdictNonToxic
		t.Confidence = 1 - p
	}
	return t
}

package engine

import (
	"time"

	"leadpilot/internal/campaign"
)

// The engines report the same facts under different keys depending on
// their version. Each normalizer keeps its key-variants table next to
// it; the first present key wins and absent counters default to zero.

var prospectingKeys = map[string][]string{
	"prospects_generated": {"prospects_generated", "generated", "found", "count"},
	"prospects_verified":  {"prospects_verified", "verified"},
}

var analysisKeys = map[string][]string{
	"leads_analyzed": {"leads_analyzed", "analyzed", "count"},
	"leads_updated":  {"leads_updated", "updated"},
	"grade_a":        {"grade_a", "gradeA"},
	"grade_b":        {"grade_b", "gradeB"},
	"grade_c":        {"grade_c", "gradeC"},
}

var outreachKeys = map[string][]string{
	"emails_composed":   {"emails_composed", "composed", "count"},
	"emails_ready":      {"emails_ready", "ready"},
	"avg_quality_score": {"avg_quality_score", "avgQualityScore", "quality"},
}

var senderKeys = map[string][]string{
	"emails_sent":   {"emails_sent", "sent", "count"},
	"emails_failed": {"emails_failed", "failed"},
	"emails_queued": {"emails_queued", "queued"},
}

var keyTables = map[campaign.EngineKind]map[string][]string{
	campaign.EngineProspecting: prospectingKeys,
	campaign.EngineAnalysis:    analysisKeys,
	campaign.EngineOutreach:    outreachKeys,
	campaign.EngineSender:      senderKeys,
}

// Normalize maps a raw engine payload to the canonical per-engine
// result record. The full payload rides along in Raw for downstream
// report rendering.
func Normalize(kind campaign.EngineKind, payload map[string]any, elapsed time.Duration) campaign.StepResult {
	res := campaign.StepResult{
		Success: true,
		Engine:  kind,
		Cost:    campaign.ExtractCost(payload),
		TimeMS:  elapsed.Milliseconds(),
		Metrics: map[string]float64{},
		Raw:     payload,
	}
	if ms, ok := numericField(payload, "time_ms", "timeMs", "duration_ms"); ok {
		res.TimeMS = int64(ms)
	}
	for canonical, variants := range keyTables[kind] {
		if v, ok := numericField(payload, variants...); ok {
			res.Metrics[canonical] = v
		} else {
			res.Metrics[canonical] = 0
		}
	}
	return res
}

func numericField(payload map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := payload[key]; ok {
			if f, ok := asFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

package campaign

import "strconv"

// ExtractCost pulls a monetary cost out of a heterogeneous engine
// response. The engines disagree on where they report spend, so a
// single precedence list lives here and nowhere else:
//
//	cost -> totalCost -> total_cost -> sum of the costs map -> 0
//
// String numerics are coerced and negatives clamp to zero.
func ExtractCost(envelope map[string]any) float64 {
	if envelope == nil {
		return 0
	}
	for _, key := range []string{"cost", "totalCost", "total_cost"} {
		if v, ok := envelope[key]; ok {
			if f, ok := asFloat(v); ok {
				return clamp(f)
			}
		}
	}
	if costs, ok := envelope["costs"].(map[string]any); ok {
		var sum float64
		for _, v := range costs {
			if f, ok := asFloat(v); ok {
				sum += f
			}
		}
		return clamp(sum)
	}
	return 0
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

// asFloat coerces the numeric shapes JSON decoding and operators
// produce: float64, integers, and numeric strings.
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
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

package scoring

import "okrengine/internal/okrstore"

func confidenceWeight(c okrstore.Confidence) float64 {
	switch c {
	case okrstore.AtRisk:
		return 2
	case okrstore.OffTrack:
		return 1
	default:
		return 3
	}
}

// AggregateConfidence averages confidences on a 3/2/1 scale and buckets the
// mean back: above 2.5 is on track, above 1.5 at risk, otherwise off track.
// An empty list is on track.
func AggregateConfidence(confidences []okrstore.Confidence) okrstore.Confidence {
	if len(confidences) == 0 {
		return okrstore.OnTrack
	}
	var sum float64
	for _, c := range confidences {
		sum += confidenceWeight(c)
	}
	mean := sum / float64(len(confidences))
	switch {
	case mean > 2.5:
		return okrstore.OnTrack
	case mean > 1.5:
		return okrstore.AtRisk
	default:
		return okrstore.OffTrack
	}
}

// ObjectiveConfidence aggregates the confidence of every key result.
func ObjectiveConfidence(obj okrstore.Objective) okrstore.Confidence {
	confidences := make([]okrstore.Confidence, 0, len(obj.KeyResults))
	for _, kr := range obj.KeyResults {
		confidences = append(confidences, kr.Confidence)
	}
	return AggregateConfidence(confidences)
}

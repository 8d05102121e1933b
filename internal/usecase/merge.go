package usecase

import (
	"github.com/example/skin-advisor/internal/vision"
)

// ConcernMap maps every label in the closed vocabulary to its "present"
// flag. It is the single source of truth for catalog querying.
type ConcernMap map[string]bool

// MergeConcerns applies the shared decision threshold to the raw ensemble
// scores and OR-merges them into one map covering the full vocabulary. Every
// vocabulary label appears exactly once; labels outside the vocabulary are
// dropped.
func MergeConcerns(scores []vision.ConditionScore, threshold float32) ConcernMap {
	merged := make(ConcernMap, len(vision.Vocabulary()))
	for _, label := range vision.Vocabulary() {
		merged[label] = false
	}
	for _, score := range scores {
		if _, ok := merged[score.Label]; !ok {
			continue
		}
		if score.Confidence >= threshold {
			merged[score.Label] = true
		}
	}
	return merged
}

// DetectedLabels returns the present labels in stable vocabulary order.
func DetectedLabels(concerns ConcernMap) []string {
	var labels []string
	for _, label := range vision.Vocabulary() {
		if concerns[label] {
			labels = append(labels, label)
		}
	}
	return labels
}

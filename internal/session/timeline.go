package session

import (
	"sort"

	"github.com/Ahrakshith/healthcare-app/internal/domain"
)

// mergeMessages folds incoming messages into the timeline. Messages arrive
// from two independent sources (history fetch and realtime push) in no
// guaranteed order, so the fold must be idempotent: duplicates are detected by
// timestamp and dropped, keeping whichever copy was merged first. The result
// is always sorted ascending by timestamp.
func mergeMessages(timeline []domain.Message, incoming ...domain.Message) []domain.Message {
	seen := make(map[string]struct{}, len(timeline)+len(incoming))
	merged := make([]domain.Message, 0, len(timeline)+len(incoming))
	for _, m := range timeline {
		if _, dup := seen[m.Timestamp]; dup {
			continue
		}
		seen[m.Timestamp] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range incoming {
		if _, dup := seen[m.Timestamp]; dup {
			continue
		}
		seen[m.Timestamp] = struct{}{}
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// latestDiagnosis returns the diagnosis text of the most recent
// doctor-authored diagnosis message, or "" if none exists.
func latestDiagnosis(timeline []domain.Message) string {
	for i := len(timeline) - 1; i >= 0; i-- {
		if timeline[i].IsDiagnosis() {
			return timeline[i].Diagnosis
		}
	}
	return ""
}

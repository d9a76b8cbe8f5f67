package finalize

import (
	"fmt"
	"sort"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// computeRootCause produces the ranked root-cause hypotheses, each
// carrying a single JSON-pointer evidence reference.
func computeRootCause(report *model.Report) {
	var hyps []model.RootCause

	if report.Exception != nil && report.Exception.Signal != "" {
		hyps = append(hyps, model.RootCause{
			Label:      fmt.Sprintf("native signal: %s", report.Exception.Signal),
			Confidence: 0.8,
			Evidence:   "/exception/signal",
		})
	}
	if report.Exception != nil && report.Exception.CanonicalName != "" {
		hyps = append(hyps, model.RootCause{
			Label:      fmt.Sprintf("managed exception: %s", report.Exception.CanonicalName),
			Confidence: 0.75,
			Evidence:   "/exception/canonicalName",
		})
	}
	if captureIsSigstopSnapshot(report) {
		hyps = append(hyps, model.RootCause{
			Label:      "SIGSTOP snapshot",
			Confidence: 0.4,
			Evidence:   "/threadsInfo/faultingThread",
		})
	}
	if report.Timeline != nil && len(report.Timeline.Deadlocks) > 0 {
		hyps = append(hyps, model.RootCause{
			Label:      "potential deadlock",
			Confidence: 0.6,
			Evidence:   "/timeline/deadlocks/0",
		})
	}

	sort.SliceStable(hyps, func(i, j int) bool {
		if hyps[i].Confidence != hyps[j].Confidence {
			return hyps[i].Confidence > hyps[j].Confidence
		}
		return hyps[i].Label < hyps[j].Label
	})

	report.RootCause = hyps
}

// Package finalize implements the single, idempotent pass that turns a
// populated model.Report into its derived form — normalized frames, the
// meaningful top frame per thread, the stable signature, symbol health,
// the timeline, deterministic findings, and ranked root-cause hypotheses.
package finalize

import "github.com/nikolaivetrov/crashlens/internal/model"

// Finalize runs every derivation step, in order, exactly once. Calling it
// again on an already-finalized report is a no-op.
func Finalize(report *model.Report) {
	if report.Finalized {
		return
	}

	normalizeFrames(report)
	renumberFrames(report)
	selectTopFrames(report)
	computeThreadTotals(report)
	computeSignature(report)
	computeSymbolHealth(report)
	computeTimeline(report)
	computeFindings(report)
	computeRootCause(report)
	sortFindingsByConfidence(report)

	report.Finalized = true
}

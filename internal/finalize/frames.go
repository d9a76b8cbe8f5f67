package finalize

import "github.com/nikolaivetrov/crashlens/internal/model"

// normalizeFrames forces is_managed=true on every placeholder frame
// ("[ManagedMethod]" case-insensitive, or a "[JIT Code @" prefix) — a
// parser can only emit these when it already knows the frame is managed
// but could not resolve a symbol.
func normalizeFrames(report *model.Report) {
	if report.ThreadsInfo == nil {
		return
	}
	for ti := range report.ThreadsInfo.Threads {
		stack := report.ThreadsInfo.Threads[ti].CallStack
		for fi := range stack {
			if stack[fi].IsPlaceholder() {
				stack[fi].IsManaged = true
			}
		}
	}
}

// renumberFrames reassigns FrameNumber to 0..n-1 in current list order,
// the only numbering any downstream consumer may trust.
func renumberFrames(report *model.Report) {
	if report.ThreadsInfo == nil {
		return
	}
	for ti := range report.ThreadsInfo.Threads {
		stack := report.ThreadsInfo.Threads[ti].CallStack
		for fi := range stack {
			stack[fi].FrameNumber = fi
		}
	}
}

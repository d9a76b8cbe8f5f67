package finalize

import (
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// selectTopFrames picks each thread's meaningful top frame: the first frame
// whose trimmed function is non-empty and not one of the four glue/
// placeholder markers. If none qualifies, index 0 is selected regardless.
// The decision and every skip reason along the way is recorded in
// report.StackSelection.
func selectTopFrames(report *model.Report) {
	if report.ThreadsInfo == nil {
		return
	}
	selection := &model.StackSelection{PerThread: make(map[string]model.ThreadSelection)}

	for ti := range report.ThreadsInfo.Threads {
		thread := &report.ThreadsInfo.Threads[ti]
		ts := model.ThreadSelection{}
		chosen := -1

		for fi, frame := range thread.CallStack {
			reason := skipReason(frame)
			if reason == "" {
				chosen = fi
				break
			}
			ts.SkippedFrames = append(ts.SkippedFrames, model.SkippedFrame{Index: fi, Reason: reason})
		}
		if chosen < 0 {
			chosen = 0
		}
		ts.SelectedIndex = chosen

		if chosen < len(thread.CallStack) {
			thread.TopFunction = topFunctionLabel(thread.CallStack[chosen])
		}
		selection.PerThread[thread.ThreadID] = ts
	}
	report.StackSelection = selection
}

func topFunctionLabel(frame model.StackFrame) string {
	if frame.Module == "" {
		return frame.Function
	}
	return frame.Module + "!" + frame.Function
}

// skipReason classifies why a frame is not a meaningful-top-frame
// candidate, or returns "" if it is one.
func skipReason(frame model.StackFrame) string {
	fn := strings.TrimSpace(frame.Function)
	if fn == "" {
		return "empty-function"
	}
	switch {
	case strings.EqualFold(fn, "[Runtime]"):
		return "runtime-glue"
	case strings.EqualFold(fn, "[ManagedMethod]"):
		return "managed-placeholder"
	case strings.HasPrefix(strings.ToLower(fn), "[jit code @"):
		return "placeholder-jit-code"
	case strings.HasPrefix(strings.ToLower(fn), "[native code @"):
		return "unknown"
	default:
		return ""
	}
}

// computeThreadTotals recomputes the aggregate thread/frame/module counts
// and the faulting thread, replacing any earlier description in place.
func computeThreadTotals(report *model.Report) {
	if report.ThreadsInfo == nil {
		return
	}
	totalFrames := 0
	faultingFrames := 0
	faultingID := ""
	for _, t := range report.ThreadsInfo.Threads {
		totalFrames += len(t.CallStack)
		if t.IsFaulting {
			faultingFrames = len(t.CallStack)
			if faultingID == "" {
				faultingID = t.ThreadID
			}
		}
	}
	report.ThreadsInfo.OSThreadCount = len(report.ThreadsInfo.Threads)
	report.ThreadsInfo.FaultingThread = faultingID
	report.Description = model.DescribeThreadTotals(
		len(report.ThreadsInfo.Threads), totalFrames, faultingFrames, len(report.Modules))
}

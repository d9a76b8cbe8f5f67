package finalize

import (
	"sort"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

const maxTimelineThreads = 200
const maxOwnershipHops = 16

// computeTimeline classifies each thread's activity at capture time and
// layers on wait-graph-derived blocked chains and deadlock cycles.
func computeTimeline(report *model.Report) {
	if report.ThreadsInfo == nil {
		return
	}

	timeline := &model.Timeline{Version: 1}
	if report.Signature != nil {
		timeline.Kind = string(report.Signature.Kind)
	}
	if captureIsSigstopSnapshot(report) {
		timeline.CaptureReason = "sigstop-snapshot"
	}

	for i, t := range report.ThreadsInfo.Threads {
		if i >= maxTimelineThreads {
			break
		}
		tt := model.TimelineThread{ThreadID: t.ThreadID}
		activity, waitKind := classifyActivity(report, t)
		tt.Activity = activity
		tt.WaitKind = waitKind
		timeline.Threads = append(timeline.Threads, tt)
	}

	timeline.BlockedChains, timeline.Deadlocks = computeOwnershipChains(report)

	if len(timeline.Deadlocks) == 0 && report.Synchronization != nil {
		for range report.Synchronization.PotentialDeadlocks {
			timeline.Deadlocks = append(timeline.Deadlocks, model.Deadlock{
				Kind:       "monitor-cycle",
				Confidence: 0.6,
			})
		}
	}

	report.Timeline = timeline
}

func captureIsSigstopSnapshot(report *model.Report) bool {
	if report.ThreadsInfo == nil {
		return false
	}
	for _, t := range report.ThreadsInfo.Threads {
		if strings.Contains(strings.ToUpper(t.State), "SIGSTOP") {
			return true
		}
	}
	return false
}

type waitRule struct {
	contains []string
	kind     string
}

// waitRules implements the wait-classification matrix in declaration
// order — first match wins.
var waitRules = []waitRule{
	{contains: []string{"monitor.wait"}, kind: "monitor"},
	{contains: []string{"waithandle", "manualresetevent", "autoresetevent"}, kind: "event"},
	{contains: []string{"thread.sleep"}, kind: "sleep"},
	{contains: []string{"join"}, kind: "join"},
	{contains: []string{"futex", "pthread_cond_wait", "waitforsingleobject"}, kind: "native-syscall"},
}

// classifyActivity applies the wait-classification matrix to a thread's
// selected top frame, returning (activity, waitKind).
func classifyActivity(report *model.Report, t model.ThreadInfo) (string, string) {
	frame, ok := selectedFrame(report, t)
	if !ok {
		return "unknown", ""
	}
	fn := strings.ToLower(frame.Function)
	for _, rule := range waitRules {
		for _, needle := range rule.contains {
			if strings.Contains(fn, needle) {
				return "waiting", rule.kind
			}
		}
	}
	if strings.Contains(fn, "wait") && !strings.Contains(fn, "await") {
		if frame.IsManaged {
			return "waiting", "wait"
		}
		return "waiting", "native-syscall"
	}
	return "running", ""
}

func selectedFrame(report *model.Report, t model.ThreadInfo) (model.StackFrame, bool) {
	if report.StackSelection == nil {
		return model.StackFrame{}, false
	}
	sel, ok := report.StackSelection.PerThread[t.ThreadID]
	if !ok || sel.SelectedIndex >= len(t.CallStack) {
		return model.StackFrame{}, false
	}
	return t.CallStack[sel.SelectedIndex], true
}

// computeOwnershipChains builds a single successor graph from every wait-
// graph edge (both "waits" and "owned by" labels feed the same From->To
// adjacency) and follows it forward from each thread up to 16 hops,
// recording chains of length >= 2 and flagging any revisit as a cycle.
func computeOwnershipChains(report *model.Report) ([]model.BlockedChain, []model.Deadlock) {
	if report.Synchronization == nil || len(report.Synchronization.WaitGraphEdges) == 0 {
		return nil, nil
	}

	next := make(map[string]string)
	for _, e := range report.Synchronization.WaitGraphEdges {
		next[e.From] = e.To
	}

	var chains []model.BlockedChain
	var deadlocks []model.Deadlock
	threadIDs := make([]string, 0, len(report.ThreadsInfo.Threads))
	for _, t := range report.ThreadsInfo.Threads {
		threadIDs = append(threadIDs, t.ThreadID)
	}
	sort.Strings(threadIDs)

	for _, start := range threadIDs {
		path := []string{start}
		visited := map[string]bool{start: true}
		cur := start
		cyclic := false
		for hop := 0; hop < maxOwnershipHops; hop++ {
			nxt, ok := next[cur]
			if !ok {
				break
			}
			if visited[nxt] {
				path = append(path, nxt)
				cyclic = true
				break
			}
			visited[nxt] = true
			path = append(path, nxt)
			cur = nxt
		}
		if len(path) >= 2 {
			chains = append(chains, model.BlockedChain{ThreadIDs: path})
		}
		if cyclic {
			deadlocks = append(deadlocks, model.Deadlock{
				Kind:       "waitgraph-cycle",
				Confidence: 0.6,
				ThreadIDs:  path,
			})
		}
	}
	return chains, deadlocks
}

package finalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// computeSignature classifies the report's crash kind and builds its
// stable, newline-delimited textual fingerprint.
func computeSignature(report *model.Report) {
	kind := classifyKind(report)
	parts := model.SignatureParts{
		Signal:  exceptionSignal(report),
		Runtime: func() string {
			if report.Environment != nil {
				return report.Environment.Runtime
			}
			return ""
		}(),
		OS:      func() string {
			if report.Environment != nil {
				return report.Environment.Platform.OS
			}
			return ""
		}(),
	}
	if report.Exception != nil {
		parts.Exception = report.Exception.CanonicalName
	}
	parts.Frames = selectionFrames(report)

	payload := buildPayload(kind, parts)
	sum := sha256.Sum256([]byte(payload))

	report.Signature = &model.Signature{
		Version: 1,
		Kind:    kind,
		Hash:    "sha256:" + hex.EncodeToString(sum[:]),
		Parts:   parts,
	}
}

func exceptionSignal(report *model.Report) string {
	if report.Exception == nil {
		return ""
	}
	return report.Exception.Signal
}

// classifyKind runs the four-way oom/hang/crash/unknown classification.
func classifyKind(report *model.Report) model.SignatureKind {
	if isOOM(report) {
		return model.SignatureOOM
	}
	if isHang(report) {
		return model.SignatureHang
	}
	if report.Exception != nil && (report.Exception.Signal != "" || report.Exception.CanonicalName != "" || report.Exception.Code != "") {
		return model.SignatureCrash
	}
	return model.SignatureUnknown
}

// isOOM reports whether the exception record names an out-of-memory
// condition: any exception whose code, canonical name, or message names
// one of the common native/managed out-of-memory signatures.
func isOOM(report *model.Report) bool {
	if report.Exception == nil {
		return false
	}
	needles := []string{report.Exception.CanonicalName, report.Exception.Message, report.Exception.Code}
	for _, n := range needles {
		lower := strings.ToLower(n)
		if strings.Contains(lower, "outofmemory") || strings.Contains(lower, "status_no_memory") || strings.Contains(lower, "enomem") {
			return true
		}
	}
	return false
}

func isHang(report *model.Report) bool {
	if report.Exception != nil && (report.Exception.Signal != "" || report.Exception.CanonicalName != "") {
		return false
	}
	if report.ThreadsInfo == nil || report.ThreadsInfo.FaultingThread == "" {
		return false
	}
	for _, t := range report.ThreadsInfo.Threads {
		if t.ThreadID == report.ThreadsInfo.FaultingThread {
			return strings.Contains(strings.ToUpper(t.State), "SIGSTOP")
		}
	}
	return false
}

// selectionFrames returns up to 3 deduplicated "module: function" entries
// in thread order, using each thread's selected top frame.
func selectionFrames(report *model.Report) []string {
	if report.ThreadsInfo == nil || report.StackSelection == nil {
		return nil
	}
	seen := make(map[string]bool)
	var frames []string
	for _, t := range report.ThreadsInfo.Threads {
		sel, ok := report.StackSelection.PerThread[t.ThreadID]
		if !ok || sel.SelectedIndex >= len(t.CallStack) {
			continue
		}
		frame := t.CallStack[sel.SelectedIndex]
		label := frame.Module + ": " + frame.Function
		if seen[label] {
			continue
		}
		seen[label] = true
		frames = append(frames, label)
		if len(frames) == 3 {
			break
		}
	}
	return frames
}

func buildPayload(kind model.SignatureKind, parts model.SignatureParts) string {
	var sb strings.Builder
	sb.WriteString("v=1\n")
	sb.WriteString("kind=" + string(kind) + "\n")
	sb.WriteString("exception=" + parts.Exception + "\n")
	sb.WriteString("signal=" + parts.Signal + "\n")
	sb.WriteString("runtime=" + parts.Runtime + "\n")
	sb.WriteString("os=" + parts.OS + "\n")
	for _, f := range parts.Frames {
		sb.WriteString("frame=" + f + "\n")
	}
	return sb.String()
}

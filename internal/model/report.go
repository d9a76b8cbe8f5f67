package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewReport creates an empty report for a freshly opened dump. It is
// mutated only by the parsing, runtime-reading, and pipeline stages until
// finalization.
func NewReport(dumpPath string, dialect Dialect) *Report {
	return &Report{
		RunID:       uuid.NewString(),
		DumpPath:    dumpPath,
		Dialect:     dialect,
		GeneratedAt: time.Now().UTC(),
		ThreadsInfo: &ThreadsInfo{},
	}
}

// RecordRawCommand appends a verbatim command/output pair to RawCommands.
func (r *Report) RecordRawCommand(command, output string) {
	r.RawCommands = append(r.RawCommands, ExecutedRawCommand{Command: command, Output: output})
}

// FaultingThreadInfo returns the single thread marked IsFaulting, or nil.
func (r *Report) FaultingThreadInfo() *ThreadInfo {
	if r.ThreadsInfo == nil {
		return nil
	}
	for i := range r.ThreadsInfo.Threads {
		if r.ThreadsInfo.Threads[i].IsFaulting {
			return &r.ThreadsInfo.Threads[i]
		}
	}
	return nil
}

// DescribeThreadTotals builds the fixed-form summary sentence recomputed by
// the finalizer: "Found {N} threads ({F_total} total frames, {F_faulting}
// in faulting thread), {M} modules."
func DescribeThreadTotals(threadCount, totalFrames, faultingFrames, moduleCount int) string {
	return fmt.Sprintf("Found %d threads (%d total frames, %d in faulting thread), %d modules.",
		threadCount, totalFrames, faultingFrames, moduleCount)
}

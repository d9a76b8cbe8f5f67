package finalize

import (
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// computeSymbolHealth tallies native and managed symbol coverage.
func computeSymbolHealth(report *model.Report) {
	health := &model.SymbolHealth{}

	seen := make(map[string]bool)
	for _, m := range report.Modules {
		if m.HasSymbols || strings.HasPrefix(m.Name, "[") {
			continue
		}
		if seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		health.NativeMissingCount++
	}

	if report.ThreadsInfo != nil {
		for _, t := range report.ThreadsInfo.Threads {
			for _, f := range t.CallStack {
				if !f.IsManaged {
					continue
				}
				switch {
				case f.SourceURL != "":
					health.SourceLinkResolved++
				case f.SourceFile != "":
					health.SourceLinkUnresolved++
					if f.LineNumber > 0 {
						health.ManagedPDBMissingCount++
					}
				}
			}
		}
	}

	report.Symbols = health
}

package parse

import (
	"regexp"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

// safeSEHArchitectures are the architectures where SafeSEH is a meaningful
// concept. Upstream checks for it unconditionally; SafeSEH is 32-bit-only,
// so crashlens gates the check instead of reproducing that behavior.
var safeSEHArchitectures = map[string]bool{"x86": true, "arm": true}

var stackBufferOverrunRe = regexp.MustCompile(`STATUS_STACK_BUFFER_OVERRUN`)
var safeSEHDisabledRe = regexp.MustCompile(`(?i)safeseh\W*(disabled|not enabled|not registered)`)

// ParseSecurity scans WinDbg `!analyze -v` output for vulnerability-style
// findings and stack-integrity diagnostics. architecture is the already
// -parsed platform architecture (may be empty if platform parsing found
// nothing), used only to gate the SafeSEH fields.
func ParseSecurity(raw, architecture string, report *model.Report) {
	if !stackBufferOverrunRe.MatchString(raw) {
		return
	}

	sec := &model.SecuritySection{
		StackIntegrity: model.StackIntegrity{CanaryCorrupted: true},
	}
	sec.Vulnerabilities = append(sec.Vulnerabilities, model.Vulnerability{
		Title:    "Stack buffer overrun",
		Severity: "Critical",
		CWE:      "CWE-121",
		Detail:   strings.TrimSpace(firstLineContaining(raw, "STATUS_STACK_BUFFER_OVERRUN")),
	})

	if safeSEHArchitectures[architecture] {
		sec.StackIntegrity.SafeSEHChecked = true
		sec.StackIntegrity.SafeSEHEnabled = !safeSEHDisabledRe.MatchString(raw)
	}

	report.Security = sec
}

func firstLineContaining(raw, needle string) string {
	for _, line := range strings.Split(raw, "\n") {
		if strings.Contains(line, needle) {
			return line
		}
	}
	return ""
}

package parse

import (
	"regexp"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

var (
	exceptionCodeRe = regexp.MustCompile(
		`EXCEPTION_CODE:\s*\(([^)]*)\)\s*(0x[0-9a-fA-F]+)(?:\s*-\s*(.+))?`)
	exceptionRecordAddrRe = regexp.MustCompile(`EXCEPTION_RECORD:\s*(\S+)`)
	faultingIPRe          = regexp.MustCompile(`FAULTING_IP:\s*\n?\s*(\S+)`)
	canonicalNameRe       = regexp.MustCompile(`\b(EXCEPTION_[A-Z_]+|STATUS_[A-Z_]+|Access violation)\b`)
)

// ParseException parses WinDbg `!analyze -v` output into report.Exception.
func ParseException(raw string, report *model.Report) {
	if !strings.Contains(raw, "EXCEPTION_CODE") && !strings.Contains(raw, "EXCEPTION_RECORD") {
		return
	}

	exc := &model.Exception{}
	if m := exceptionCodeRe.FindStringSubmatch(raw); m != nil {
		exc.Code = m[2]
		if m[3] != "" {
			exc.Message = strings.TrimSpace(m[3])
		}
	}
	if m := canonicalNameRe.FindString(raw); m != "" {
		exc.CanonicalName = m
	}
	if m := exceptionRecordAddrRe.FindStringSubmatch(raw); m != nil && exc.FaultingIP == "" {
		_ = m
	}
	if m := faultingIPRe.FindStringSubmatch(raw); m != nil {
		exc.FaultingIP = m[1]
	}

	if exc.Code == "" && exc.CanonicalName == "" && exc.FaultingIP == "" {
		return
	}
	report.Exception = exc
}

package facade

import (
	"fmt"
	"strings"
)

// unsafePrefixes is the fixed blocklist: any command segment that starts
// with one of these after being split on `;`, `|` or `&` is rejected. The
// facade never spawns a host shell, so these are the only escape hatches a
// debugger itself exposes.
var unsafePrefixes = []string{
	".shell",
	"platform shell",
	"command script",
	"script",
}

// CheckSafe rejects multi-line commands, embedded CR/LF, and any command
// whose normalized segments match the unsafe-command blocklist.
func CheckSafe(command string) error {
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("%w: embedded CR/LF", ErrUnsafeCommand)
	}

	for _, segment := range splitCommand(command) {
		trimmed := strings.TrimSpace(segment)
		lower := strings.ToLower(trimmed)
		for _, prefix := range unsafePrefixes {
			if strings.HasPrefix(lower, prefix) {
				return fmt.Errorf("%w: %q", ErrUnsafeCommand, trimmed)
			}
		}
	}
	return nil
}

// splitCommand splits on `;`, `|` and `&`, the delimiters after which a
// new command segment may begin.
func splitCommand(command string) []string {
	return strings.FieldsFunc(command, func(r rune) bool {
		return r == ';' || r == '|' || r == '&'
	})
}

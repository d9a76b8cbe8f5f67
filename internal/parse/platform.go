package parse

import (
	"regexp"
	"strings"

	"github.com/nikolaivetrov/crashlens/internal/model"
)

var (
	archTokenRe = regexp.MustCompile(`(?i)\b(aarch64|arm64|x86_64|amd64|i686|armhf)\b`)
	hexAddrRe   = regexp.MustCompile(`0x[0-9a-fA-F]+`)
)

// ParsePlatform derives Platform from the text of the modules listing
// (LLDB `image list` or WinDbg `lm`).
func ParsePlatform(dialect model.Dialect, modulesRaw string, report *model.Report) {
	platform := model.Platform{}

	switch {
	case strings.Contains(modulesRaw, "ld-musl-"):
		platform.OS = "Linux"
		platform.LibcType = "musl"
		platform.Distribution = "Alpine"
	case strings.Contains(modulesRaw, "ld-linux-") || strings.Contains(modulesRaw, "libc.so"):
		platform.OS = "Linux"
		platform.LibcType = "glibc"
		platform.Distribution = distributionFromPath(modulesRaw)
	case strings.Contains(modulesRaw, "dyld") || strings.Contains(modulesRaw, ".dylib"):
		platform.OS = "macOS"
	case strings.Contains(modulesRaw, "ntdll") || strings.Contains(modulesRaw, "kernel32"):
		platform.OS = "Windows"
	}

	if m := archTokenRe.FindString(modulesRaw); m != "" {
		platform.Architecture = normalizeArch(m)
	} else if addr := hexAddrRe.FindString(modulesRaw); addr != "" {
		// Fallback: an address 18 chars long ("0x" + 16 hex digits) implies
		// a 64-bit pointer.
		if len(addr) >= 18 {
			platform.Architecture = "x64"
		} else {
			platform.Architecture = "x86"
		}
	}

	switch platform.Architecture {
	case "x64", "arm64":
		platform.PointerSize = 64
	case "x86", "arm":
		platform.PointerSize = 32
	}

	if report.Environment == nil {
		report.Environment = &model.Environment{}
	}
	report.Environment.Platform = platform
}

func normalizeArch(token string) string {
	switch strings.ToLower(token) {
	case "aarch64", "arm64":
		return "arm64"
	case "x86_64", "amd64":
		return "x64"
	case "i686":
		return "x86"
	case "armhf":
		return "arm"
	default:
		return strings.ToLower(token)
	}
}

func distributionFromPath(text string) string {
	switch {
	case strings.Contains(text, "/ubuntu/"), strings.Contains(text, "ubuntu"):
		return "Ubuntu"
	case strings.Contains(text, "debian"):
		return "Debian"
	case strings.Contains(text, "centos"):
		return "CentOS"
	case strings.Contains(text, "rhel"), strings.Contains(text, "redhat"):
		return "RHEL"
	default:
		return ""
	}
}

//go:build linux

package discovery

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// YamaScope is the kernel's ptrace_scope sysctl value, as read from
// /proc/sys/kernel/yama/ptrace_scope.
type YamaScope int

const (
	// YamaUnrestricted allows any process to PTRACE_ATTACH another
	// process running under the same uid.
	YamaUnrestricted YamaScope = 0
	// YamaRestricted allows attach only to descendants or with
	// CAP_SYS_PTRACE.
	YamaRestricted YamaScope = 1
	// YamaAdminOnly allows attach only with CAP_SYS_PTRACE.
	YamaAdminOnly YamaScope = 2
	// YamaNoAttach disables PTRACE_ATTACH entirely.
	YamaNoAttach YamaScope = 3
	// YamaUnknown means the sysctl file is absent (e.g. CONFIG_SECURITY_YAMA
	// not built into the running kernel); attach is governed only by the
	// traditional uid/capability rules in that case.
	YamaUnknown YamaScope = -1
)

func (y YamaScope) String() string {
	switch y {
	case YamaUnrestricted:
		return "unrestricted"
	case YamaRestricted:
		return "restricted (descendants or CAP_SYS_PTRACE)"
	case YamaAdminOnly:
		return "admin-only (CAP_SYS_PTRACE required)"
	case YamaNoAttach:
		return "no-attach"
	default:
		return "unknown (no yama sysctl)"
	}
}

// DetectYamaScope reads the host's ptrace_scope. It is informational only
// the extractor does not change its behavior based on it, but surfaces
// it in a startup log line since a restrictive scope is the most common
// reason attach fails.
func DetectYamaScope() (YamaScope, error) {
	const path = "/proc/sys/kernel/yama/ptrace_scope"
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return YamaUnknown, nil
	}
	if err != nil {
		return YamaUnknown, fmt.Errorf("discovery: read %s: %w", path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return YamaUnknown, fmt.Errorf("discovery: parse %s: %w", path, err)
	}
	return YamaScope(v), nil
}

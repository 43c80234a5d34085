package ipc

import (
	"strconv"
	"strings"
)

// HighIntegrityRID is the minimum mandatory-label RID a caller must run
// at for a privileged command (spec.md §6: "integrity RID ≥ 0x3000").
const HighIntegrityRID = 0x3000

// ParseIntegrityRID extracts the RID from a mandatory-label SID of the
// form "S-1-16-<rid>". Any other SID shape (including a non-mandatory-
// label SID like a domain-relative "S-1-5-21-...") returns 0, which
// fails every privileged check by construction — spec.md §8's boundary
// cases: "S-1-16-12288" -> 12288, "S-1-16-4096" -> 4096, "S-1-5-21" -> 0.
func ParseIntegrityRID(sid string) int {
	parts := strings.Split(sid, "-")
	if len(parts) < 4 {
		return 0
	}
	if parts[0] != "S" || parts[2] != "16" {
		return 0
	}
	rid, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return rid
}

// CallerInfo describes the authenticated caller of an IPC connection.
type CallerInfo struct {
	ProcessID      uint32
	IntegrityRID   int
	IsAdministrator bool
	ImageSigned    bool
	ImagePath      string
}

// IsHighIntegrity reports whether the caller runs at High or System
// integrity.
func (c CallerInfo) IsHighIntegrity() bool {
	return c.IntegrityRID >= HighIntegrityRID
}

// AuthorizedForPrivileged reports whether the caller may issue a
// mutating/privileged command: administrators-group member, High/System
// integrity, and an Authenticode-signed, trust-verified image. Any check
// that cannot be satisfied denies — fail closed (spec.md §6).
func (c CallerInfo) AuthorizedForPrivileged() bool {
	return c.IsAdministrator && c.IsHighIntegrity() && c.ImageSigned
}

// CallerResolver resolves the authenticated caller of an established
// connection, platform-specific behind a build tag.
type CallerResolver interface {
	Resolve(processID uint32) (CallerInfo, error)
}

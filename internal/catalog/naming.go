package catalog

import (
	"path"
	"regexp"
	"strings"

	"github.com/odyssey-erp/warden/internal/shared"
)

// MaxNameLength bounds permission and role names.
const MaxNameLength = 100

// MaxTextLength bounds free-text fields (labels, descriptions).
const MaxTextLength = 1000

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// Reserved words that may never appear as a bare path segment.
var reservedSegments = []string{"admin", "system", "root", "sudo", "all", "any", "none"}

// DefaultDangerousPatterns is the built-in deny-list of name globs.
func DefaultDangerousPatterns() []string {
	return []string{"root.*", "*.destroy.*", "system.*", "*.root", "sudo.*"}
}

// Markers that fail the free-text content-safety scan.
var unsafeMarkers = []string{
	"<script", "</script", "<iframe", "javascript:", "onerror=", "onload=",
	"union select", "drop table", "insert into", "delete from", "--", "/*", "xp_",
}

// Validator applies naming-safety rules to permission and role names.
// The deny-list and allow-list come from configuration; the pattern and
// reserved words are fixed.
type Validator struct {
	dangerous []string
	allowlist map[string]struct{}
}

// NewValidator builds a Validator. Empty dangerous falls back to the
// built-in deny-list; allowlist entries are grandfathered names that skip
// the deny-list (but never the pattern or length checks).
func NewValidator(dangerous, allowlist []string) *Validator {
	if len(dangerous) == 0 {
		dangerous = DefaultDangerousPatterns()
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, name := range allowlist {
		allowed[strings.TrimSpace(name)] = struct{}{}
	}
	return &Validator{dangerous: dangerous, allowlist: allowed}
}

// ValidateName checks pattern, length, reserved segments and the dangerous
// deny-list. Allow-listed names skip only the reserved/deny-list stages.
func (v *Validator) ValidateName(name string) error {
	if name == "" {
		return shared.Validationf("name is required")
	}
	if len(name) > MaxNameLength {
		return shared.Validationf("name exceeds %d characters", MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return shared.Validationf("name %q must be lowercase dotted segments", name)
	}
	if _, ok := v.allowlist[name]; ok {
		return nil
	}
	for _, segment := range strings.Split(name, ".") {
		for _, reserved := range reservedSegments {
			if segment == reserved {
				return shared.Validationf("name %q uses reserved segment %q", name, reserved)
			}
		}
	}
	for _, pattern := range v.dangerous {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return shared.Validationf("name %q matches dangerous pattern %q", name, pattern)
		}
	}
	return nil
}

// ValidateText runs the content-safety scan over a free-text field.
func ValidateText(field, value string) error {
	if len(value) > MaxTextLength {
		return shared.Validationf("%s exceeds %d characters", field, MaxTextLength)
	}
	lowered := strings.ToLower(value)
	for _, marker := range unsafeMarkers {
		if strings.Contains(lowered, marker) {
			return shared.Validationf("%s contains unsafe content %q", field, marker)
		}
	}
	return nil
}

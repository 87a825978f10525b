package binding

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/cases"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
)

// forbiddenChars may never appear in a substituted identifier.
const forbiddenChars = ";'\"\n\r\x00"

// forbiddenFragments are matched against the case-folded value.
var forbiddenFragments = []string{
	"--", "/*", "*/",
	" union ", " or ", " and ", " select ", " drop ", " insert ",
}

// ValidateIdentifier checks a value destined for literal substitution into
// SQL text. With a non-empty allow-list the value must match one entry
// case-insensitively and pattern checks are not consulted; otherwise the
// value is rejected when it is empty, contains a statement terminator, quote
// or control character, a comment marker, or a connective/DML keyword.
func ValidateIdentifier(value string, allowed ...string) error {
	return validateIdentifier("", value, allowed)
}

// ValidateParam is ValidateIdentifier with the parameter name reported in
// the error.
func ValidateParam(param, value string, allowed ...string) error {
	return validateIdentifier(param, value, allowed)
}

func validateIdentifier(param, value string, allowed []string) error {
	if len(allowed) > 0 {
		for _, a := range allowed {
			if strings.EqualFold(a, value) {
				return nil
			}
		}
		return violation(param, value, "value is not in the allowed list")
	}
	if value == "" {
		return violation(param, value, "empty identifier")
	}
	if strings.ContainsAny(value, forbiddenChars) {
		return violation(param, value, "forbidden character")
	}
	folded := cases.Fold().String(value)
	for _, f := range forbiddenFragments {
		if strings.Contains(folded, f) {
			return violation(param, value, fmt.Sprintf("forbidden fragment %q", strings.TrimSpace(f)))
		}
	}
	return nil
}

func violation(param, value, reason string) error {
	return &nuvatis.SecurityViolationError{
		Param:       param,
		Reason:      reason,
		Fingerprint: Fingerprint(value),
	}
}

// Fingerprint identifies a rejected value in logs without reproducing it.
func Fingerprint(value string) string {
	return fmt.Sprintf("len=%d xxh=%016x", len(value), xxhash.Sum64String(value))
}

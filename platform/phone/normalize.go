// Package phone canonicalizes contact numbers captured on leads before they
// are copied onto the converted contact.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion applies to national-format numbers when no region is
// configured.
const DefaultRegion = "US"

// NormalizeE164 returns the number in E.164, reading national formats in
// region. Input that does not parse to a valid number comes back trimmed
// but otherwise untouched so nothing the rep typed is lost.
func NormalizeE164(input, region string) string {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return ""
	}
	if region = strings.ToUpper(strings.TrimSpace(region)); region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

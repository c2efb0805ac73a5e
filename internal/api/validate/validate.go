package validate

import (
	"fmt"
	"regexp"
)

// accountIdRx mirrors the CRM location id shape: alphanumeric, 1-40 chars.
var accountIdRx = regexp.MustCompile(`^[A-Za-z0-9_-]{1,40}$`)

// AccountID validates the tenant identifier taken from the URL path.
func AccountID(v string) error {
	if v == "" {
		return fmt.Errorf("accountId is required")
	}
	if !accountIdRx.MatchString(v) {
		return fmt.Errorf("accountId must match %s", accountIdRx.String())
	}
	return nil
}

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field string, v *string, limit int) error {
	if v == nil {
		return nil
	}
	if len(*v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

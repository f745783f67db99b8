package linkauth

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeEmail parses a bare address and case-folds it. Display names
// ("Ada <ada@example.com>") are rejected.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	if addr.Name != "" || addr.Address != trimmed {
		return "", fmt.Errorf("%w: display names are not accepted", ErrInvalidEmail)
	}

	return cases.Fold().String(addr.Address), nil
}

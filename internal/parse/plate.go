package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	plateRe      = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)
	plateStripRe = regexp.MustCompile(`[\s\-·]+`)
)

// NormalizePlate upper-cases a raw plate and strips spaces and dashes, so that
// "sbs 001-a" and "SBS001A" identify the same bus.
func NormalizePlate(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = plateStripRe.ReplaceAllString(s, "")
	if s == "" {
		return "", fmt.Errorf("plate number is empty")
	}
	if !plateRe.MatchString(s) {
		return "", fmt.Errorf("invalid plate number: %q", raw)
	}
	return s, nil
}

package app

import (
	"net/mail"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func validEmail(value string) bool {
	value = strings.TrimSpace(value)
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value && strings.Contains(value, "@")
}

func validURL(value string) bool {
	u, err := url.ParseRequestURI(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validDate(value string) bool {
	_, err := time.Parse("2006-01-02", value)
	return err == nil
}

func validClock(value string) bool {
	_, err := time.Parse("15:04", value)
	return err == nil
}

func oneOf(value string, allowed []string) bool {
	return slices.Contains(allowed, value)
}

// rule is one validation step; the first failing rule wins.
type rule struct {
	failed  bool
	message string
}

func firstFailure(rules ...rule) error {
	for _, r := range rules {
		if r.failed {
			return validationError(r.message)
		}
	}
	return nil
}

func floatOutside(v *float64, check func(float64) bool) bool {
	return v != nil && !check(*v)
}

func intOutside(v *int, check func(int) bool) bool {
	return v != nil && !check(*v)
}

package services

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/authsvc/apiserver/types"
)

const (
	minNameLength     = 3
	maxNameLength     = 20
	minPasswordLength = 6
	maxPasswordLength = 12
	maxTitleLength    = 30
	maxValueLength    = 200
	maxEmailLength    = 254
)

// CanonicalEmail is the form emails are stored and looked up in.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail accepts a bare RFC 5322 address and returns it canonicalized.
func ValidateEmail(email string) (string, error) {
	email = CanonicalEmail(email)
	if email == "" {
		return "", invalid("email", "is required")
	}
	if len(email) > maxEmailLength {
		return "", invalid("email", "must be at most %d characters", maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", invalid("email", "is not a valid email address")
	}
	return email, nil
}

// ValidatePassword enforces length and character class rules.
func ValidatePassword(field, password string) error {
	n := utf8.RuneCountInString(password)
	var hasDigit, hasLower, hasUpper bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		}
	}
	if n < minPasswordLength || n > maxPasswordLength || !hasDigit || !hasLower || !hasUpper {
		return invalid(field, "must have %d to %d characters, at least one uppercase letter, one lowercase letter and one number",
			minPasswordLength, maxPasswordLength)
	}
	return nil
}

// ValidateName trims name and checks its length.
func ValidateName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return "", invalid(field, "must have %d to %d characters", minNameLength, maxNameLength)
	}
	return name, nil
}

// ValidateFeatures trims titles and values and drops duplicate values.
func ValidateFeatures(features []types.FeaturePatch) ([]types.FeaturePatch, error) {
	out := make([]types.FeaturePatch, 0, len(features))
	for _, feature := range features {
		if feature.ID != nil && *feature.ID < 1 {
			return nil, invalid("features.id", "must be positive")
		}
		title := strings.TrimSpace(feature.Title)
		if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
			return nil, invalid("features.title", "must have 1 to %d characters", maxTitleLength)
		}

		seen := make(map[string]struct{}, len(feature.Values))
		values := make([]string, 0, len(feature.Values))
		for _, value := range feature.Values {
			value = strings.TrimSpace(value)
			if value == "" || utf8.RuneCountInString(value) > maxValueLength {
				return nil, invalid("features.values", "must have 1 to %d characters", maxValueLength)
			}
			if _, dup := seen[value]; dup {
				continue
			}
			seen[value] = struct{}{}
			values = append(values, value)
		}

		out = append(out, types.FeaturePatch{ID: feature.ID, Title: title, Values: values})
	}
	return out, nil
}

package validators

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"
)

// ToUserFriendlyName converts snake_case field names to user-friendly names
// Examples: "first_name" -> "First name", "email_address" -> "Email address"
func ToUserFriendlyName(fieldName string) string {
	if fieldName == "" {
		return fieldName
	}

	parts := strings.Split(fieldName, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToLower(part)
		}
	}
	out := strings.Join(parts, " ")
	return strings.ToUpper(out[:1]) + out[1:]
}

// ValidateStringEmpty fails for empty or blank values.
func ValidateStringEmpty(value string, fieldName string) *ValidationResult {
	if strings.TrimSpace(value) == "" {
		name := ToUserFriendlyName(fieldName)
		return failure(fieldName, value, ValidationCodeRequired,
			fmt.Sprintf("%s is required.", name),
			fmt.Sprintf("Please provide a valid %s.", strings.ToLower(name)))
	}
	return success(fieldName, value)
}

// ValidateStringLength validates that a string meets minimum and maximum
// length requirements, counted in characters.
func ValidateStringLength(value string, fieldName string, minLength, maxLength int) *ValidationResult {
	name := ToUserFriendlyName(fieldName)
	n := utf8.RuneCountInString(value)

	if n < minLength {
		return failure(fieldName, value, ValidationCodeInvalid,
			fmt.Sprintf("%s must be at least %d characters long.", name, minLength),
			fmt.Sprintf("Please provide a %s with at least %d characters.", strings.ToLower(name), minLength))
	}
	if n > maxLength {
		return failure(fieldName, value, ValidationCodeInvalid,
			fmt.Sprintf("%s must be no more than %d characters long.", name, maxLength),
			fmt.Sprintf("Please provide a %s with no more than %d characters.", strings.ToLower(name), maxLength))
	}
	return success(fieldName, value)
}

// ValidateStringPattern validates that a string matches a regular
// expression.
func ValidateStringPattern(value string, fieldName string, pattern string, patternName string) *ValidationResult {
	name := ToUserFriendlyName(fieldName)

	if value == "" {
		return failure(fieldName, value, ValidationCodeRequired,
			fmt.Sprintf("%s is required.", name),
			fmt.Sprintf("Please provide a valid %s.", strings.ToLower(name)))
	}
	if pattern == "" || !govalidator.Matches(value, pattern) {
		return failure(fieldName, value, ValidationCodeInvalid,
			fmt.Sprintf("Invalid %s format.", strings.ToLower(name)),
			fmt.Sprintf("Please provide a %s that matches the %s pattern.", strings.ToLower(name), patternName))
	}
	return success(fieldName, value)
}

// ValidateIdentifier accepts non-empty printable ASCII without whitespace,
// the form entity ids take in keys and subjects.
func ValidateIdentifier(value string, fieldName string) *ValidationResult {
	if r := ValidateStringEmpty(value, fieldName); !r.IsValid {
		return r
	}
	if !govalidator.IsPrintableASCII(value) || govalidator.HasWhitespace(value) {
		name := ToUserFriendlyName(fieldName)
		return failure(fieldName, value, ValidationCodeInvalid,
			fmt.Sprintf("%s may only contain printable characters without spaces.", name),
			fmt.Sprintf("Please provide a %s such as 'cart-42'.", strings.ToLower(name)))
	}
	return success(fieldName, value)
}

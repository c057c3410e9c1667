package validators

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateIntRange checks lo <= value <= hi.
func ValidateIntRange(value int, fieldName string, lo, hi int) *ValidationResult {
	v := strconv.Itoa(value)
	if value < lo || value > hi {
		name := ToUserFriendlyName(fieldName)
		return failure(fieldName, v, ValidationCodeOutOfRange,
			fmt.Sprintf("%s must be between %d and %d.", name, lo, hi),
			fmt.Sprintf("Please provide a %s between %d and %d.", strings.ToLower(name), lo, hi))
	}
	return success(fieldName, v)
}

// ValidateAmount checks that an amount is not negative and has at most
// places decimal places.
func ValidateAmount(value decimal.Decimal, fieldName string, places int32) *ValidationResult {
	name := ToUserFriendlyName(fieldName)
	v := value.String()

	if value.IsNegative() {
		return failure(fieldName, v, ValidationCodeOutOfRange,
			fmt.Sprintf("%s cannot be negative.", name),
			fmt.Sprintf("Please provide a %s of zero or more.", strings.ToLower(name)))
	}
	if !value.Equal(value.Truncate(places)) {
		return failure(fieldName, v, ValidationCodeInvalid,
			fmt.Sprintf("%s has more than %d decimal places.", name, places),
			fmt.Sprintf("Please round the %s to %d decimal places.", strings.ToLower(name), places))
	}
	return success(fieldName, v)
}

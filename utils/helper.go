package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "JM"

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil
}

func ProcessValidationErrors(err error) map[string]string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"error": err.Error()}
	}

	errorResponse := make(map[string]string)
	for _, fieldErr := range validationErrors {
		field := strings.ToLower(fieldErr.Field())
		switch fieldErr.Tag() {
		case "required":
			errorResponse[field] = fmt.Sprintf("The %s field is required.", field)
		case "min":
			errorResponse[field] = fmt.Sprintf("The %s field must be at least %s.", field, fieldErr.Param())
		case "max":
			errorResponse[field] = fmt.Sprintf("The %s field cannot exceed %s.", field, fieldErr.Param())
		default:
			errorResponse[field] = fmt.Sprintf("The %s field is invalid.", field)
		}
	}
	return errorResponse
}

// RoundMoney normalizes a monetary amount to currency precision.
// All persisted amounts and all equality comparisons in settlement go
// through this so that decimal noise never flips a payment status.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatMoney serializes a monetary amount with exactly 2 decimal digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// DerefMoney treats a missing fee as zero.
func DerefMoney(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

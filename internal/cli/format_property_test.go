package cli

import (
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// Property: currency formatting produces Indian numbering and keeps the
// value to the paisa.
func TestProperty_IndianCurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	indianPattern := regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)

	properties.Property("FormatIndianCurrency produces valid Indian format", prop.ForAll(
		func(milli int64) bool {
			amount := decimal.New(milli, -3)
			formatted := FormatIndianCurrency(amount)

			if amount.Round(2).IsNegative() {
				if !strings.HasPrefix(formatted, "-₹") {
					t.Logf("Expected -₹ prefix for %s, got %s", amount, formatted)
					return false
				}
			} else if !strings.HasPrefix(formatted, "₹") {
				t.Logf("Expected ₹ prefix for %s, got %s", amount, formatted)
				return false
			}

			parts := strings.Split(formatted, ".")
			if len(parts) != 2 || len(parts[1]) != 2 {
				t.Logf("Expected 2 decimal places for %s, got %s", amount, formatted)
				return false
			}

			numPart := strings.TrimPrefix(strings.TrimPrefix(parts[0], "-"), "₹")
			if !indianPattern.MatchString(numPart) {
				t.Logf("Invalid Indian format for %s: %s", amount, formatted)
				return false
			}
			return true
		},
		gen.Int64Range(-1e15, 1e15),
	))

	properties.Property("FormatIndianCurrency preserves value", prop.ForAll(
		func(milli int64) bool {
			amount := decimal.New(milli, -3)
			formatted := FormatIndianCurrency(amount)

			parsed, err := decimal.NewFromString(strings.NewReplacer("₹", "", ",", "").Replace(formatted))
			if err != nil {
				t.Logf("Unparseable %s: %v", formatted, err)
				return false
			}
			if !parsed.Equal(amount.Round(2)) {
				t.Logf("Value not preserved: original=%s, formatted=%s", amount, formatted)
				return false
			}
			return true
		},
		gen.Int64Range(-1e15, 1e15),
	))

	properties.Property("FormatPercent is signed", prop.ForAll(
		func(basis int64) bool {
			value := decimal.New(basis, -2)
			formatted := FormatPercent(value)
			if !strings.HasSuffix(formatted, "%") {
				return false
			}
			return value.IsPositive() == strings.HasPrefix(formatted, "+")
		},
		gen.Int64Range(-10000, 10000),
	))

	properties.TestingRun(t)
}

func TestIndianNumberFormatExamples(t *testing.T) {
	testCases := []struct {
		amount   string
		expected string
	}{
		{"0", "₹0.00"},
		{"1", "₹1.00"},
		{"1000", "₹1,000.00"},
		{"100000", "₹1,00,000.00"},
		{"10000000", "₹1,00,00,000.00"},
		{"-1234.56", "-₹1,234.56"},
		{"12345678.90", "₹1,23,45,678.90"},
		{"0.005", "₹0.01"},
		{"-0.004", "₹0.00"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := FormatIndianCurrency(decimal.RequireFromString(tc.amount))
			if result != tc.expected {
				t.Errorf("FormatIndianCurrency(%s) = %s, want %s", tc.amount, result, tc.expected)
			}
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    string
		expected string
	}{
		{"0", "0.00%"},
		{"1.5", "+1.50%"},
		{"-2.5", "-2.50%"},
		{"100", "+100.00%"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := FormatPercent(decimal.RequireFromString(tc.value))
			if result != tc.expected {
				t.Errorf("FormatPercent(%s) = %s, want %s", tc.value, result, tc.expected)
			}
		})
	}
}

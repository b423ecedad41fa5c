package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"cas-valuer/internal/models"
)

var inr = money.GetCurrency(money.INR)

// FormatIndianCurrency formats an amount in rupees with Indian digit
// grouping (lakhs, crores), rounded to paise.
func FormatIndianCurrency(amount decimal.Decimal) string {
	m := money.New(amount.Shift(int32(inr.Fraction)).Round(0).IntPart(), money.INR)

	paise := m.Absolute().Amount()
	unit := int64(1)
	for i := 0; i < inr.Fraction; i++ {
		unit *= 10
	}

	result := inr.Grapheme + formatIndianNumber(strconv.FormatInt(paise/unit, 10)) +
		inr.Decimal + fmt.Sprintf("%0*d", inr.Fraction, paise%unit)
	if m.IsNegative() {
		result = "-" + result
	}
	return result
}

// formatIndianNumber formats an integer string in Indian numbering system.
// Indian system: 1,00,00,000 (1 crore) vs Western: 10,000,000
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	result := s[n-3:]
	s = s[:n-3]

	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}

// FormatChange formats a signed rupee change.
func FormatChange(change decimal.Decimal) string {
	formatted := FormatIndianCurrency(change)
	if change.IsPositive() {
		return "+" + formatted
	}
	return formatted
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value decimal.Decimal) string {
	sign := ""
	if value.IsPositive() {
		sign = "+"
	}
	return sign + value.StringFixed(2) + "%"
}

// FormatUnits formats a unit balance to the precision statements use.
func FormatUnits(units decimal.Decimal) string {
	return units.StringFixed(3)
}

// FormatNAV formats a NAV.
func FormatNAV(nav decimal.Decimal) string {
	return nav.StringFixed(4)
}

// FormatDate formats a calendar date.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return models.FormatDate(t)
}

// FormatDateTime formats a timestamp in local time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadLeft pads a string to the left.
func PadLeft(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat(" ", length-len(s)) + s
}

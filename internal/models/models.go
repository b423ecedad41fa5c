// Package models provides domain models for the valuation pipeline.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar date format used for storage.
const DateLayout = "2006-01-02"

// ProviderDateLayout is the date format used by the NAV provider.
const ProviderDateLayout = "02-01-2006"

// ParseDate parses an ISO calendar date into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// FormatDate formats t as an ISO calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Scheme is one holding (mutual fund scheme) keyed by its AMFI code.
type Scheme struct {
	AMFI    string `json:"amfi"`
	ISIN    string `json:"isin,omitempty"`
	Name    string `json:"scheme"`
	Advisor string `json:"advisor,omitempty"`
	RTA     string `json:"rta,omitempty"`
	RTACode string `json:"rta_code,omitempty"`
	Type    string `json:"type,omitempty"`
	Folio   string `json:"folio,omitempty"`
	AMC     string `json:"amc,omitempty"`
	PAN     string `json:"PAN,omitempty"`

	// Backfilled from the NAV provider.
	FundHouse      string `json:"fund_house,omitempty"`
	SchemeType     string `json:"scheme_type,omitempty"`
	SchemeCategory string `json:"scheme_category,omitempty"`
}

// SchemeMeta is the provider-supplied metadata merged into a Scheme.
type SchemeMeta struct {
	FundHouse      string `json:"fund_house"`
	SchemeType     string `json:"scheme_type"`
	SchemeCategory string `json:"scheme_category"`
}

// Quote is the NAV of one scheme on one date.
type Quote struct {
	AMFI string          `json:"amfi"`
	Date time.Time       `json:"date"`
	NAV  decimal.Decimal `json:"nav"`

	FundHouse      string `json:"fund_house,omitempty"`
	SchemeName     string `json:"scheme_name,omitempty"`
	SchemeType     string `json:"scheme_type,omitempty"`
	SchemeCategory string `json:"scheme_category,omitempty"`
}

// Meta returns the provider metadata carried by the quote.
func (q Quote) Meta() SchemeMeta {
	return SchemeMeta{
		FundHouse:      q.FundHouse,
		SchemeType:     q.SchemeType,
		SchemeCategory: q.SchemeCategory,
	}
}

// DailyValuation is the derived position of one scheme on a quote date.
type DailyValuation struct {
	AMFI           string          `json:"amfi"`
	Date           time.Time       `json:"date"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	TotalUnits     decimal.Decimal `json:"total_units"`
	NAV            decimal.Decimal `json:"nav"`
	TotalValuation decimal.Decimal `json:"total_valuation"`
}

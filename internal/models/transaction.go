package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the closed set of CAS transaction types.
type TransactionType string

const (
	TxPurchase             TransactionType = "PURCHASE"
	TxPurchaseSIP          TransactionType = "PURCHASE_SIP"
	TxRedemption           TransactionType = "REDEMPTION"
	TxSwitchIn             TransactionType = "SWITCH_IN"
	TxSwitchInMerger       TransactionType = "SWITCH_IN_MERGER"
	TxSwitchOut            TransactionType = "SWITCH_OUT"
	TxSwitchOutMerger      TransactionType = "SWITCH_OUT_MERGER"
	TxDividendPayout       TransactionType = "DIVIDEND_PAYOUT"
	TxDividendReinvestment TransactionType = "DIVIDEND_REINVESTMENT"
	TxSegregation          TransactionType = "SEGREGATION"
	TxStampDutyTax         TransactionType = "STAMP_DUTY_TAX"
	TxTDSTax               TransactionType = "TDS_TAX"
	TxSTTTax               TransactionType = "STT_TAX"
	TxMisc                 TransactionType = "MISC"
	TxReversal             TransactionType = "REVERSAL"
	TxUnknown              TransactionType = "UNKNOWN"
)

var transactionTypes = []TransactionType{
	TxPurchase, TxPurchaseSIP, TxRedemption, TxSwitchIn, TxSwitchInMerger,
	TxSwitchOut, TxSwitchOutMerger, TxDividendPayout, TxDividendReinvestment,
	TxSegregation, TxStampDutyTax, TxTDSTax, TxSTTTax, TxMisc, TxReversal, TxUnknown,
}

// TransactionTypes returns every known transaction type.
func TransactionTypes() []TransactionType {
	out := make([]TransactionType, len(transactionTypes))
	copy(out, transactionTypes)
	return out
}

// ParseTransactionType maps a raw type string to a TransactionType.
// Unrecognised values map to TxUnknown.
func ParseTransactionType(s string) TransactionType {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range transactionTypes {
		if t == known {
			return t
		}
	}
	return TxUnknown
}

// LotEffect describes how a transaction type interacts with FIFO lots.
type LotEffect int

const (
	// EffectAcquire opens a new lot and adds the amount to net invested.
	EffectAcquire LotEffect = iota
	// EffectConsume redeems units from the oldest lots first.
	EffectConsume
	// EffectSigned acquires or consumes depending on the sign of units.
	EffectSigned
)

func (e LotEffect) String() string {
	switch e {
	case EffectConsume:
		return "consume"
	case EffectSigned:
		return "signed"
	default:
		return "acquire"
	}
}

// Effect returns the lot effect of t. Only outflows consume lots; every
// other type, cash-only rows such as stamp duty included, opens a lot so its
// amount counts towards net invested. Zero-unit lots are dropped by the next
// redemption together with their cost.
func (t TransactionType) Effect() LotEffect {
	switch t {
	case TxRedemption, TxSwitchOut, TxSwitchOutMerger:
		return EffectConsume
	case TxReversal:
		return EffectSigned
	case TxPurchase, TxPurchaseSIP, TxSwitchIn, TxSwitchInMerger,
		TxDividendReinvestment, TxDividendPayout, TxSegregation,
		TxStampDutyTax, TxTDSTax, TxSTTTax, TxMisc, TxUnknown:
		return EffectAcquire
	}
	return EffectAcquire
}

// IsInvestment reports whether t counts as money invested in yearly reports.
func (t TransactionType) IsInvestment() bool {
	switch t {
	case TxPurchase, TxPurchaseSIP, TxDividendReinvestment, TxSwitchIn:
		return true
	}
	return false
}

// IsWithdrawal reports whether t counts as money withdrawn in yearly reports.
func (t TransactionType) IsWithdrawal() bool {
	switch t {
	case TxRedemption, TxSwitchOut, TxDividendPayout, TxSegregation:
		return true
	}
	return false
}

// Transaction is one flattened ledger entry.
type Transaction struct {
	AMFI         string          `json:"amfi"`
	SchemeName   string          `json:"scheme_name,omitempty"`
	ISIN         string          `json:"isin,omitempty"`
	Folio        string          `json:"folio,omitempty"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description,omitempty"`
	Type         TransactionType `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Units        decimal.Decimal `json:"units"`
	NAV          decimal.Decimal `json:"nav"`
	Balance      decimal.Decimal `json:"balance"`
	DividendRate decimal.Decimal `json:"dividend_rate"`
}

// NaturalKey returns the dedup key of the transaction.
func (t Transaction) NaturalKey() string {
	return strings.Join([]string{
		t.AMFI,
		FormatDate(t.Date),
		string(t.Type),
		t.Units.String(),
		t.Amount.String(),
		t.Balance.String(),
	}, "|")
}

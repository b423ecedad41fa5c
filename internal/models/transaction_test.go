package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		in   string
		want TransactionType
	}{
		{"PURCHASE", TxPurchase},
		{"purchase_sip", TxPurchaseSIP},
		{"  REDEMPTION ", TxRedemption},
		{"SWITCH_OUT_MERGER", TxSwitchOutMerger},
		{"REVERSAL", TxReversal},
		{"BONUS", TxUnknown},
		{"", TxUnknown},
	}
	for _, tt := range tests {
		if got := ParseTransactionType(tt.in); got != tt.want {
			t.Errorf("ParseTransactionType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestEveryTypeHasAnEffect(t *testing.T) {
	counts := map[LotEffect]int{}
	for _, tt := range TransactionTypes() {
		counts[tt.Effect()]++
	}
	if counts[EffectAcquire] != 12 || counts[EffectConsume] != 3 || counts[EffectSigned] != 1 {
		t.Errorf("effect counts = %v", counts)
	}
	for _, tt := range []TransactionType{TxStampDutyTax, TxSTTTax, TxTDSTax, TxDividendPayout, TxMisc} {
		if tt.Effect() != EffectAcquire {
			t.Errorf("%s effect = %s, want acquire", tt, tt.Effect())
		}
	}
}

func TestInvestmentAndWithdrawalAreDisjoint(t *testing.T) {
	for _, tt := range TransactionTypes() {
		if tt.IsInvestment() && tt.IsWithdrawal() {
			t.Errorf("%s is both investment and withdrawal", tt)
		}
	}
	if !TxSwitchIn.IsInvestment() || !TxDividendPayout.IsWithdrawal() {
		t.Error("report classification changed")
	}
}

func TestNaturalKey(t *testing.T) {
	date := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	a := Transaction{
		AMFI:        "120503",
		Date:        date,
		Type:        TxPurchase,
		Units:       decimal.RequireFromString("100.000"),
		Amount:      decimal.NewFromInt(1000),
		Balance:     decimal.NewFromInt(100),
		Description: "Purchase",
	}
	b := a
	b.Description = "Purchase via SIP"
	b.Folio = "F2"
	if a.NaturalKey() != b.NaturalKey() {
		t.Error("descriptive fields must not change the key")
	}

	if want := "120503|2023-01-05|PURCHASE|100|1000|100"; a.NaturalKey() != want {
		t.Errorf("NaturalKey() = %q, want %q", a.NaturalKey(), want)
	}

	b.Units = decimal.NewFromInt(-100)
	if a.NaturalKey() == b.NaturalKey() {
		t.Error("different units share a key")
	}
}

func TestStatusIsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("in-flight status reported terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("terminal status not reported")
	}
}

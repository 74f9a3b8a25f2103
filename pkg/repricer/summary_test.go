package repricer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOutcome_MarshalJSONFixedAmounts(t *testing.T) {
	base := decimal.RequireFromString("1000")
	final := decimal.RequireFromString("51000.5")
	o := Outcome{ProductID: 1, VariantID: 11, Status: StatusUpdated, Base: &base, Final: &final}

	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got := string(data)
	for _, want := range []string{`"base":"1000.00"`, `"final":"51000.50"`, `"variant_id":11`} {
		if !strings.Contains(got, want) {
			t.Errorf("Marshal() = %s, want containing %s", got, want)
		}
	}
}

func TestOutcome_MarshalJSONOmitsUnknownAmounts(t *testing.T) {
	data, err := json.Marshal(Outcome{VariantID: 11, Status: StatusSkipped, Reason: ReasonAttributeMissing})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got := string(data); strings.Contains(got, "base") || strings.Contains(got, "final") {
		t.Errorf("Marshal() = %s, want no amounts", got)
	}
}

func TestOutcome_UnmarshalFixedAmounts(t *testing.T) {
	final := decimal.RequireFromString("12.3")
	data, err := json.Marshal(Summary{Outcomes: []Outcome{{VariantID: 11, Final: &final}}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(s.Outcomes) != 1 || s.Outcomes[0].Final == nil || !s.Outcomes[0].Final.Equal(final) {
		t.Errorf("Unmarshal() outcomes = %+v, want final 12.30", s.Outcomes)
	}
}

func TestTally_CapsOutcomes(t *testing.T) {
	tl := &tally{max: 1}
	tl.record(Outcome{VariantID: 11, Status: StatusUpdated})
	tl.record(Outcome{VariantID: 12, Status: StatusFailed})

	s := tl.snapshot()
	if s.TotalSeen != 2 || s.Updated != 1 || s.Failed != 1 {
		t.Errorf("TotalSeen/Updated/Failed = %d/%d/%d, want 2/1/1", s.TotalSeen, s.Updated, s.Failed)
	}
	if len(s.Outcomes) != 1 || s.OutcomesDropped != 1 {
		t.Errorf("len(Outcomes)/OutcomesDropped = %d/%d, want 1/1", len(s.Outcomes), s.OutcomesDropped)
	}
}

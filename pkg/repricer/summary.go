package repricer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the terminal classification of one variant in a run.
type Status string

const (
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Reasons recorded on skipped and failed outcomes.
const (
	ReasonAttributeMissing = "attribute_missing"
	ReasonAttributeInvalid = "attribute_invalid"
	ReasonInvalidInput     = "invalid_input"
	ReasonUnchanged        = "unchanged"
	ReasonDryRun           = "dry_run"
	ReasonLockFailure      = "lock_failure"
	ReasonThrottled        = "remote_throttled"
	ReasonRejected         = "remote_rejected"
	ReasonWriteUnknown     = "write_outcome_unknown"
	ReasonRemoteError      = "remote_error"
)

// Outcome is the result of processing one variant.
type Outcome struct {
	ProductID int64  `json:"product_id"`
	VariantID int64  `json:"variant_id"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Detail    string `json:"detail,omitempty"`

	// Base and Final are set once known.
	Base  *decimal.Decimal `json:"base,omitempty"`
	Final *decimal.Decimal `json:"final,omitempty"`
}

// MarshalJSON renders Base and Final with exactly two decimal places.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	return json.Marshal(struct {
		plain
		Base  *string `json:"base,omitempty"`
		Final *string `json:"final,omitempty"`
	}{
		plain: plain(o),
		Base:  fixed(o.Base),
		Final: fixed(o.Final),
	})
}

func fixed(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

// Summary is the aggregate result of one run.
// TotalSeen always equals Updated + Skipped + Failed.
type Summary struct {
	RunID      string    `json:"run_id"`
	MarketRate string    `json:"market_rate"`
	DryRun     bool      `json:"dry_run"`
	TotalSeen  int       `json:"total_seen"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Pages      int       `json:"pages"`
	Cancelled  bool      `json:"cancelled"`
	Incomplete bool      `json:"incomplete"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`

	// OutcomesDropped counts outcomes left out of Outcomes once the cap
	// was reached. They are still counted in the totals.
	OutcomesDropped int `json:"outcomes_dropped,omitempty"`
}

// DefaultMaxOutcomes caps Summary.Outcomes.
const DefaultMaxOutcomes = 1000

// tally accumulates outcomes. It is safe for concurrent use.
type tally struct {
	mu      sync.Mutex
	summary Summary

	// max caps the kept outcomes; 0 keeps all.
	max int
}

func (t *tally) record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.summary.TotalSeen++
	switch o.Status {
	case StatusUpdated:
		t.summary.Updated++
	case StatusSkipped:
		t.summary.Skipped++
	default:
		t.summary.Failed++
	}
	if t.max > 0 && len(t.summary.Outcomes) >= t.max {
		t.summary.OutcomesDropped++
		return
	}
	t.summary.Outcomes = append(t.summary.Outcomes, o)
}

func (t *tally) update(fn func(*Summary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.summary)
}

func (t *tally) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.summary
	s.Outcomes = append([]Outcome(nil), t.summary.Outcomes...)
	return s
}

// Observer receives each variant outcome as soon as it is known.
type Observer interface {
	Observe(Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome)

// Observe implements Observer.
func (f ObserverFunc) Observe(o Outcome) {
	f(o)
}

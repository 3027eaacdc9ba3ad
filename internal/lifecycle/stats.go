package lifecycle

import (
	"fmt"
	"time"

	"callwake-platform/internal/call"
)

// Stats aggregates response outcomes over dispatched calls.
type Stats struct {
	Total      int `json:"total"`
	Answered   int `json:"answered"`
	Declined   int `json:"declined"`
	Missed     int `json:"missed"`
	NoResponse int `json:"no_response"`

	// AnswerRate is (answered+declined)/total as a one-decimal percent
	// string, "0.0%" when total is zero.
	AnswerRate string `json:"answer_rate"`
}

// Stats computes response counts over dispatched calls, scoped to a recipient
// when one is given.
func (e *Engine) Stats(recipientID *int64) Stats {
	var out Stats
	for _, rec := range e.reg.ListAll() {
		if rec.State != call.StateDispatched {
			continue
		}
		if recipientID != nil && rec.RecipientID != *recipientID {
			continue
		}
		out.Total++
		if rec.Response == nil {
			out.NoResponse++
			continue
		}
		switch rec.Response.Status {
		case call.ResponseAnswered:
			out.Answered++
		case call.ResponseDeclined:
			out.Declined++
		case call.ResponseMissed:
			out.Missed++
		}
	}

	rate := 0.0
	if out.Total > 0 {
		rate = float64(out.Answered+out.Declined) / float64(out.Total) * 100
	}
	out.AnswerRate = fmt.Sprintf("%.1f%%", rate)
	return out
}

// HistoryEntry is the projection of a dispatched call for history listings.
type HistoryEntry struct {
	ID          string        `json:"id"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Status      string        `json:"status"`
	RespondedAt *time.Time    `json:"responded_at,omitempty"`
	DisplayName string        `json:"display_name"`
	Platform    call.Platform `json:"platform"`
}

// History projects the recipient's dispatched calls in insertion order.
// Status is "none" while no response is recorded.
func (e *Engine) History(recipientID int64) []HistoryEntry {
	out := []HistoryEntry{}
	for _, rec := range e.reg.ListAll() {
		if rec.RecipientID != recipientID || rec.State != call.StateDispatched {
			continue
		}
		entry := HistoryEntry{
			ID:          rec.ID,
			ScheduledAt: rec.ScheduledAt,
			Status:      "none",
			DisplayName: rec.DisplayName,
			Platform:    rec.Platform,
		}
		if rec.Response != nil {
			entry.Status = string(rec.Response.Status)
			at := rec.Response.RespondedAt
			entry.RespondedAt = &at
		}
		out = append(out, entry)
	}
	return out
}

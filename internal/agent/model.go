package agent

import (
	"time"

	"github.com/Wuchinator/monetai-go/internal/remote"
	"github.com/Wuchinator/monetai-go/pkg/monetai"
)

// AppEvent is one record on the app events topic.
type AppEvent struct {
	EventName string         `json:"event_name"`
	Params    map[string]any `json:"params,omitempty"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
}

const (
	RecordDiscountChanged = "discount_changed"
	RecordDiscountExpired = "discount_expired"
)

// DiscountRecord is what the agent publishes on the discounts topic.
type DiscountRecord struct {
	Type        string  `json:"type"`
	AppUserID   string  `json:"app_user_id"`
	HasDiscount bool    `json:"has_discount"`
	StartedAt   *string `json:"started_at,omitempty"`
	EndedAt     *string `json:"ended_at,omitempty"`
	Active      bool    `json:"active"`
	PublishedAt string  `json:"published_at"`
}

func newDiscountRecord(kind, userID string, d *monetai.Discount, now time.Time) DiscountRecord {
	rec := DiscountRecord{
		Type:        kind,
		AppUserID:   userID,
		HasDiscount: d != nil,
		Active:      d.ActiveAt(now),
		PublishedAt: remote.FormatTimestamp(now),
	}
	if d != nil {
		started := remote.FormatTimestamp(d.StartedAt.Time)
		ended := remote.FormatTimestamp(d.EndedAt.Time)
		rec.StartedAt = &started
		rec.EndedAt = &ended
		if d.AppUserID != "" {
			rec.AppUserID = d.AppUserID
		}
	}
	return rec
}

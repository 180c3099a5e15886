package record

import (
	"time"

	"github.com/ireporter/api/internal/model"
)

// View is the public projection of a record.
type View struct {
	ID          int64            `json:"id"`
	Type        model.RecordType `json:"type"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Latitude    *float64         `json:"latitude"`
	Longitude   *float64         `json:"longitude"`
	Images      []string         `json:"images"`
	Status      string           `json:"status"`
	CreatedAt   *string          `json:"created_at"`
	UpdatedAt   *string          `json:"updated_at"`
	UserID      int64            `json:"user_id"`
}

func Format(rec *model.Record) View {
	images := []string(rec.Images)
	if images == nil {
		images = []string{}
	}
	return View{
		ID:          rec.ID,
		Type:        rec.Type,
		Title:       rec.Title,
		Description: rec.Description,
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		Images:      images,
		Status:      rec.Status,
		CreatedAt:   isoTime(rec.CreatedAt),
		UpdatedAt:   isoTime(rec.UpdatedAt),
		UserID:      rec.UserID,
	}
}

func FormatAll(recs []model.Record) []View {
	views := make([]View, 0, len(recs))
	for i := range recs {
		views = append(views, Format(&recs[i]))
	}
	return views
}

func isoTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

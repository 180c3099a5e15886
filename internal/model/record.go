package model

import (
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type RecordType string

const (
	RecordTypeRedFlag      RecordType = "Red-Flag"
	RecordTypeIntervention RecordType = "Intervention"
)

// ParseRecordType matches s case-insensitively and returns the canonical type.
func ParseRecordType(s string) (RecordType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red-flag":
		return RecordTypeRedFlag, true
	case "intervention":
		return RecordTypeIntervention, true
	}
	return "", false
}

// Status constants
const (
	StatusPending            = "pending"
	StatusUnderInvestigation = "under investigation"
	StatusRejected           = "rejected"
	StatusResolved           = "resolved"
)

// LockedStatuses are the statuses in which the owner may no longer edit or
// delete a record.
var LockedStatuses = []string{StatusUnderInvestigation, StatusRejected, StatusResolved}

type Record struct {
	ID          int64                       `gorm:"primaryKey;autoIncrement" json:"id"`
	Type        RecordType                  `gorm:"not null;size:20" json:"type"`
	Title       string                      `gorm:"size:255" json:"title"`
	Description string                      `gorm:"type:text" json:"description"`
	Latitude    *float64                    `json:"latitude"`
	Longitude   *float64                    `json:"longitude"`
	Images      datatypes.JSONSlice[string] `json:"images"`
	Status      string                      `gorm:"not null;default:'pending';size:40;index" json:"status"`
	UserID      int64                       `gorm:"not null;index" json:"userId"`
	CreatedAt   time.Time                   `json:"createdAt"`
	UpdatedAt   time.Time                   `json:"updatedAt"`
}

func (Record) TableName() string {
	return "records"
}

// Locked reports whether the owner may no longer edit or delete the record.
func (r *Record) Locked() bool {
	return slices.Contains(LockedStatuses, r.Status)
}

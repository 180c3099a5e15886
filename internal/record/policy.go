package record

import "github.com/ireporter/api/internal/model"

type Action int

const (
	ActionRead Action = iota
	ActionUpdate
	ActionDelete
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID int64
	Admin  bool
}

type DenyReason int

const (
	Allowed DenyReason = iota
	DenyForbidden
	DenyLocked
)

type Decision struct {
	Allow  bool
	Reason DenyReason
}

// Authorize decides whether caller may perform action on rec.
//
// Reads are open to the owner and to admins. Updates and deletes are
// open to the owner only, and only while the record is not locked. Admins
// get no edit or delete rights here.
func Authorize(caller Caller, rec *model.Record, action Action) Decision {
	owner := rec.UserID == caller.UserID

	switch action {
	case ActionRead:
		if owner || caller.Admin {
			return Decision{Allow: true}
		}
		return Decision{Reason: DenyForbidden}
	case ActionUpdate, ActionDelete:
		if !owner {
			return Decision{Reason: DenyForbidden}
		}
		if rec.Locked() {
			return Decision{Reason: DenyLocked}
		}
		return Decision{Allow: true}
	}
	return Decision{Reason: DenyForbidden}
}

var denyMessages = map[Action]map[DenyReason]string{
	ActionRead: {
		DenyForbidden: "Unauthorized access",
	},
	ActionUpdate: {
		DenyForbidden: "Unauthorized to edit this record",
		DenyLocked:    "Cannot edit record with current status",
	},
	ActionDelete: {
		DenyForbidden: "Unauthorized to delete this record",
		DenyLocked:    "Cannot delete record with current status",
	},
}

// authorize applies the policy and converts a denial into an *Error.
func authorize(caller Caller, rec *model.Record, action Action) error {
	d := Authorize(caller, rec, action)
	if d.Allow {
		return nil
	}
	msg := denyMessages[action][d.Reason]
	if d.Reason == DenyLocked {
		return Validation(msg)
	}
	return Forbidden(msg)
}

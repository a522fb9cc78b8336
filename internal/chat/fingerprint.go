package chat

import (
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/rufae/servibot/internal/model"
)

// Identity structs hold the small, fixed field subset that names an
// action. Hashing these instead of the whole action keeps the
// fingerprint stable across incidental changes to unrelated fields.

type emailIdentity struct {
	Type    model.ActionType
	To      string
	Subject string
}

type calendarIdentity struct {
	Type    model.ActionType
	Summary string
	Start   string
	End     string
}

type eventRefIdentity struct {
	Type    model.ActionType
	EventID string
}

type otherIdentity struct {
	Type    model.ActionType
	Message string
}

// Fingerprint derives a deterministic key for a pending action from its
// type plus the designated identifying fields. Two logically identical
// actions always produce the same fingerprint even if unrelated fields
// differ. The key is used only to correlate transient editing intent,
// never for ownership.
func Fingerprint(a *model.PendingAction) string {
	var identity any

	switch p := a.Params.(type) {
	case *model.EmailParams:
		identity = emailIdentity{Type: a.Type, To: p.To, Subject: p.Subject}
	case *model.CalendarEventParams:
		if p.EventID != "" {
			identity = eventRefIdentity{Type: a.Type, EventID: p.EventID}
		} else {
			identity = calendarIdentity{Type: a.Type, Summary: p.Summary, Start: p.Start, End: p.End}
		}
	case *model.CalendarDeleteParams:
		identity = eventRefIdentity{Type: a.Type, EventID: p.EventID}
	default:
		identity = otherIdentity{Type: a.Type, Message: a.ConfirmationMessage}
	}

	hash, err := hashstructure.Hash(identity, hashstructure.FormatV2, nil)
	if err != nil {
		// Hashing flat structs of strings cannot fail; keep a usable
		// fallback key anyway.
		return string(a.Type)
	}
	return fmt.Sprintf("%s:%016x", a.Type, hash)
}

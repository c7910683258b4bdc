package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NotificationKind represents the visual/semantic category of a notification.
type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationError   NotificationKind = "error"
	NotificationWarning NotificationKind = "warning"
	NotificationInfo    NotificationKind = "info"
)

// DefaultNotificationTTL is applied when a notification spec leaves TTL unset.
const DefaultNotificationTTL = 5000 * time.Millisecond

// NotificationAction is a user-actionable command attached to a notification.
type NotificationAction struct {
	Label   string `json:"label"`
	Primary bool   `json:"primary,omitempty"`

	// Fn is invoked when the user activates the action. Never serialized.
	Fn func() `json:"-"`
}

// Notification is a transient, user-facing message. TTL of zero means the
// notification persists until explicitly removed.
type Notification struct {
	ID        string               `json:"id"`
	Kind      NotificationKind     `json:"kind"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	TTL       time.Duration        `json:"ttl_ms"`
	CreatedAt time.Time            `json:"created_at"`
	Actions   []NotificationAction `json:"actions,omitempty"`
}

// NewNotificationID generates a notification identity from a time component
// plus a random component so bursts within the same instant cannot collide.
func NewNotificationID() string {
	var buf [4]byte
	rand.Read(buf[:])
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(buf[:]))
}

// ParseNotificationKind converts a string to NotificationKind.
func ParseNotificationKind(s string) NotificationKind {
	switch s {
	case "success":
		return NotificationSuccess
	case "error":
		return NotificationError
	case "warning":
		return NotificationWarning
	default:
		return NotificationInfo
	}
}

// Package notify models user-visible notifications and the facility that
// shows and dismisses them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnknownNotification is returned when closing a notification that is not shown.
var ErrUnknownNotification = errors.New("notify: unknown notification")

// Presentation defaults shared by every notification the manager shows.
const (
	DefaultIcon  = "/assets/icons/icon-192x192.png"
	DefaultBadge = "/assets/icons/badge-72x72.png"
)

// Action identifiers offered on push notifications.
const (
	ActionExplore = "explore"
	ActionClose   = "close"
)

// DefaultVibrate is the vibration pattern in milliseconds.
var DefaultVibrate = []int{100, 50, 100}

// Action is a button shown on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Data is the application payload attached to a notification.
type Data struct {
	DateOfArrival time.Time       `json:"dateOfArrival"`
	PrimaryKey    json.RawMessage `json:"primaryKey,omitempty"`
}

// Notification is one user notification.
type Notification struct {
	ID      string   `json:"id"`
	Tag     string   `json:"tag,omitempty"`
	Title   string   `json:"title"`
	Body    string   `json:"body,omitempty"`
	Icon    string   `json:"icon,omitempty"`
	Badge   string   `json:"badge,omitempty"`
	Vibrate []int    `json:"vibrate,omitempty"`
	Data    *Data    `json:"data,omitempty"`
	Actions []Action `json:"actions,omitempty"`
}

// PushActions returns the actions offered on push notifications.
func PushActions() []Action {
	return []Action{
		{Action: ActionExplore, Title: "Ver más", Icon: "/assets/icons/checkmark.png"},
		{Action: ActionClose, Title: "Cerrar", Icon: "/assets/icons/xmark.png"},
	}
}

// Notifier shows and dismisses notifications.
type Notifier interface {
	// Show displays n. Show assigns n.ID when it is empty.
	Show(ctx context.Context, n *Notification) error
	// Close dismisses the notification with the given id.
	Close(ctx context.Context, id string) error
}

// Package catalog holds the notification configuration entities and the
// Postgres store behind the dispatch engine. Configuration rows (categories,
// events, parameters, notification configs) are authored by administrators or
// by the declarative sync; Fire and Notification rows are facts created at
// fire time and never edited except for status transitions.
package catalog

import "time"

// NotificationStatus is the delivery lifecycle of a Notification record.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusInProcess NotificationStatus = "in_process"
	StatusComplete  NotificationStatus = "complete"
	StatusError     NotificationStatus = "error"
)

// RecipientKind selects how a RecipientSpec value is interpreted.
type RecipientKind string

const (
	KindEmail RecipientKind = "email"
	KindUser  RecipientKind = "user"
	KindGroup RecipientKind = "group"
)

// Category groups events.
type Category struct {
	ID        string
	Slug      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	IsErased  bool
}

// Event is a declared application event, identified by slug.
type Event struct {
	ID          string
	Slug        string
	Name        string
	Description string
	CategoryID  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsErased    bool
}

// Parameter declares a typed value callers must supply when firing the event.
// Descriptor is a registry key resolving to the serialization descriptor used
// to extract schema and flatten values.
type Parameter struct {
	ID         string
	EventID    string
	Name       string
	HumanName  string
	Descriptor string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	IsErased   bool
}

// NotificationConfig is a configured notification attached to an event.
// Subject and Message are plain strings containing flattened parameter paths
// as literal placeholders. When Collective is set, all resolved user
// recipients share a single Notification record.
type NotificationConfig struct {
	ID          string
	EventID     string
	Name        string
	Description string
	Type        string
	Collective  bool
	Subject     string
	Message     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IsErased    bool
}

// RecipientSpec describes how to derive a concrete recipient at fire time:
// Recipient is either a flattened parameter path resolved dynamically, or a
// literal value.
type RecipientSpec struct {
	ID        string
	ConfigID  string
	Kind      RecipientKind
	Recipient string
}

// FileSpec describes a file attachment the same way a RecipientSpec describes
// a recipient: a flattened path looked up at fire time.
type FileSpec struct {
	ID       string
	ConfigID string
	File     string
}

// Fire is one persisted firing of a NotificationConfig. Subject and Message
// are frozen at fire time, independent of later template edits.
type Fire struct {
	ID        string
	ConfigID  string
	Subject   string
	Message   string
	Files     []string
	CreatedAt time.Time
}

// Notification is one per-recipient (or collective per-group) delivery/inbox
// record derived from a Fire. Recipient and Kind are set only when the
// recipient is not a registered user (literal email delivery); UserIDs holds
// the targeted registered users.
type Notification struct {
	ID          string
	FireID      string
	Recipient   *string
	Kind        *RecipientKind
	UserIDs     []string
	Status      NotificationStatus
	IsRead      bool
	IsImportant bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Settings is the single named global delivery configuration record. The
// email template wraps the fire message; "{{ message }}" is the placeholder.
type Settings struct {
	Name          string
	EmailTemplate string
	FromEmail     string
}

// DefaultEmailTemplate is the template the settings row is initialized with.
const DefaultEmailTemplate = "{{ message }}"

// SettingsName is the fixed identity of the settings row; there is exactly
// one and it cannot be deleted.
const SettingsName = "default"

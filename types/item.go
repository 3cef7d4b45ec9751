package types

import "time"

// Item status values. An item starts out pending and is moved to
// approved or rejected exactly once by an administrator.
const (
	ItemStatusPending  = "pending"
	ItemStatusApproved = "approved"
	ItemStatusRejected = "rejected"
)

// Item report kinds.
const (
	ItemTypeLost  = "lost"
	ItemTypeFound = "found"
)

// Item represents a lost or found report with its moderation state.
type Item struct {
	// ID is the unique identifier of the item, assigned by the store.
	ID int64 `json:"id" db:"id"`

	// Title is the short human-readable name of the report.
	Title string `json:"title" db:"title"`

	// Description contains the full free-form text of the report.
	Description string `json:"description" db:"description"`

	// Category is the free-form category label (e.g. "Electronics").
	Category string `json:"category" db:"category"`

	// Location is where the item was lost or found.
	Location string `json:"location" db:"location"`

	// Type is either "lost" or "found".
	Type string `json:"type" db:"type"`

	// Date is the calendar day the item was lost or found.
	Date time.Time `json:"date" db:"date"`

	// Status is the moderation state: pending, approved or rejected.
	Status string `json:"status" db:"status"`

	// ImagePath is the object storage key of the uploaded photo,
	// empty when no photo was attached.
	ImagePath string `json:"image_path,omitempty" db:"image_path"`

	// SubmittedBy is the username of the submitter. It is set once at
	// creation, trimmed, and never altered afterwards.
	SubmittedBy string `json:"submitted_by" db:"submitted_by"`

	// CreatedAt is the timestamp at which the report was submitted.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// ApprovedBy and ApprovedAt record the moderating admin and time
	// when the item was approved. Only one of the approved/rejected
	// pairs is ever set.
	ApprovedBy string     `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`

	// RejectedBy and RejectedAt record the moderating admin and time
	// when the item was rejected.
	RejectedBy string     `json:"rejected_by,omitempty" db:"rejected_by"`
	RejectedAt *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
}

// ItemFilter describes the public search predicate. All set fields are
// combined with AND; Keyword matches title or description.
type ItemFilter struct {
	// Category is a case-insensitive substring match on the category.
	Category string

	// Location is a case-insensitive substring match on the location.
	Location string

	// Day restricts results to items whose date falls on this calendar
	// day, compared as the half-open interval [Day, Day+24h).
	Day *time.Time

	// Keyword is a case-insensitive substring match against the title
	// or the description.
	Keyword string
}

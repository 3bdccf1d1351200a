package appointments

import "time"

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Record is one durable appointment. Records are never physically deleted;
// cancellation flips Status, modification rewrites Slot in place.
type Record struct {
	ID            string    `json:"id"`
	ContactNumber string    `json:"contact_number"`
	UserName      string    `json:"user_name,omitempty"`
	Slot          string    `json:"slot_time"`
	Details       string    `json:"details,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (r Record) Confirmed() bool {
	return r.Status == StatusConfirmed
}

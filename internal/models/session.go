package models

import "time"

// Session is a top-level academic period (a school year) containing terms.
type Session struct {
	ID        string    `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Term is a sub-period of a session with its own activation window.
type Term struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Label     string    `db:"label" json:"label"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SessionDetail bundles a session with its terms.
type SessionDetail struct {
	Session
	Terms []Term `json:"terms"`
}

// ActiveTerm returns the session's active term, if any.
func (d *SessionDetail) ActiveTerm() *Term {
	for i := range d.Terms {
		if d.Terms[i].IsActive {
			return &d.Terms[i]
		}
	}
	return nil
}

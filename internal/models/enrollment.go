package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment row. A row only
// ever leaves the enrolled state; promoted and transferred are terminal.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled    EnrollmentStatus = "enrolled"
	EnrollmentStatusPromoted    EnrollmentStatus = "promoted"
	EnrollmentStatusTransferred EnrollmentStatus = "transferred"
)

// StudentEnrollment captures a student's placement in a class/section for a
// specific session and term.
type StudentEnrollment struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	ClassID   string           `db:"class_id" json:"class_id"`
	SectionID string           `db:"section_id" json:"section_id"`
	SessionID string           `db:"session_id" json:"session_id"`
	TermID    string           `db:"term_id" json:"term_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// PromotionHistory is an append-only audit record of a promotion.
type PromotionHistory struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	FromClassID string    `db:"from_class_id" json:"from_class_id"`
	ToClassID   string    `db:"to_class_id" json:"to_class_id"`
	SessionID   string    `db:"session_id" json:"session_id"`
	TermID      string    `db:"term_id" json:"term_id"`
	PromotedBy  string    `db:"promoted_by" json:"promoted_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// StudentTransfer is an append-only audit record of a school transfer.
type StudentTransfer struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	FromSchoolID   string    `db:"from_school_id" json:"from_school_id"`
	ToSchoolID     string    `db:"to_school_id" json:"to_school_id"`
	ToClassID      string    `db:"to_class_id" json:"to_class_id"`
	ToSectionID    string    `db:"to_section_id" json:"to_section_id"`
	TransferReason *string   `db:"transfer_reason" json:"transfer_reason,omitempty"`
	TransferDate   time.Time `db:"transfer_date" json:"transfer_date"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TransferFilter narrows transfer record listings for a school.
type TransferFilter struct {
	SchoolID     string
	FromSchoolID string
	ToSchoolID   string
	Page         int
	PageSize     int
}

// EnrollmentWithSession joins an enrollment to its session dates for
// promotion ordering checks.
type EnrollmentWithSession struct {
	StudentEnrollment
	SessionStartDate time.Time `db:"session_start_date" json:"-"`
}

package models

import "time"

// Student represents a learner registered in the institution.
type Student struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Name            string    `db:"name" json:"name"`
	AdmissionNumber int       `db:"admission_number" json:"admission_number"`
	Gender          string    `db:"gender" json:"gender"`
	BirthDate       time.Time `db:"birth_date" json:"birth_date"`
	Address         string    `db:"address" json:"address"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for school rosters.
type StudentFilter struct {
	SchoolID        string
	ClassID         string
	Name            string
	AdmissionNumber *int
	Page            int
	PageSize        int
	SortBy          string
	SortOrder       string
}

// StudentDetail contains student information with current placement context.
type StudentDetail struct {
	Student
	Email       string                `db:"email" json:"email"`
	Username    string                `db:"username" json:"username"`
	Enrollments []EnrollmentPlacement `json:"enrollments"`
}

// EnrollmentPlacement is the display shape of an active placement.
type EnrollmentPlacement struct {
	EnrollmentID string `db:"enrollment_id" json:"enrollment_id"`
	ClassLabel   string `db:"class_label" json:"class"`
	SectionLabel string `db:"section_label" json:"section"`
	SessionLabel string `db:"session_label" json:"session"`
	TermLabel    string `db:"term_label" json:"term"`
}

package models

import "time"

// Class represents an academic class shared across one or more schools.
type Class struct {
	ID        string    `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Section is a subdivision of a class.
type Section struct {
	ID      string `db:"id" json:"id"`
	ClassID string `db:"class_id" json:"class_id"`
	Label   string `db:"label" json:"label"`
}

// ClassDetail extends Class with its sections and linked schools.
type ClassDetail struct {
	Class
	Sections  []Section `json:"sections"`
	SchoolIDs []string  `json:"school_ids"`
}

// HasSection reports whether the given section belongs to the class.
func (d *ClassDetail) HasSection(sectionID string) bool {
	for _, s := range d.Sections {
		if s.ID == sectionID {
			return true
		}
	}
	return false
}

// SharesSchoolWith reports whether two classes are linked to a common school.
func (d *ClassDetail) SharesSchoolWith(other *ClassDetail) bool {
	if other == nil {
		return false
	}
	set := make(map[string]struct{}, len(d.SchoolIDs))
	for _, id := range d.SchoolIDs {
		set[id] = struct{}{}
	}
	for _, id := range other.SchoolIDs {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

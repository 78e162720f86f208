package model

import "time"

// Link states of a certification on its faculty member's account.
const (
	LinkPending  = "PENDING"
	LinkApproved = "APPROVED"
)

// Certification is a student-submitted certificate record, stored in the
// `certifications` table.  FacultyID is set iff RoutedToFaculty; StudentID
// never changes after creation; Approved only ever goes false -> true.
type Certification struct {
	ID              string     `json:"_id"`
	Title           string     `json:"title"`
	StudentID       string     `json:"uploaded_by"`
	RoutedToFaculty bool       `json:"isUnderFaculty"`
	FacultyID       *string    `json:"faculty,omitempty"`
	Approved        bool       `json:"isApproved"`
	CertificateURL  string     `json:"certificate"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
}

// Faculty returns the routed faculty id, or "" when unrouted.
func (c Certification) Faculty() string {
	if c.FacultyID == nil {
		return ""
	}
	return *c.FacultyID
}

package model

import (
	"encoding/json"
	"time"
)

// Role tags which extension an Account carries.  The values double as the
// first path segment of the role's routes (/student, /faculty, /institution).
type Role string

const (
	RoleStudent     Role = "student"
	RoleFaculty     Role = "faculty"
	RoleInstitution Role = "institution"
)

// Valid reports whether r is one of the three account roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleInstitution:
		return true
	}
	return false
}

// Account is the row shared by every role, as stored in the `accounts`
// table, plus exactly one non-nil extension matching Role.
//
// Fields:
//
//	ID               – ULID primary key.
//	Role             – student, faculty or institution.
//	Name             – display name.
//	LoginKey         – unique per role: email for students and faculty,
//	                   normalized "name|location" for institutions.
//	PasswordHash     – bcrypt hash; never serialized.
//	RefreshTokenHash – SHA-256 of the only valid refresh token; nil when
//	                   logged out.  Never serialized.
type Account struct {
	ID               string
	Role             Role
	Name             string
	LoginKey         string
	PasswordHash     string
	RefreshTokenHash *string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Student     *StudentProfile
	Faculty     *FacultyProfile
	Institution *InstitutionProfile
}

// StudentProfile holds the `students` columns and the ordered ids of the
// certifications the student owns.
type StudentProfile struct {
	InstitutionID  string
	Email          string
	Roll           string
	Programme      string
	Department     string
	Certifications []string
	PortalData     json.RawMessage
	PortalSyncedAt *time.Time
}

// FacultyProfile holds the `faculty` columns and the pending/approved sets.
type FacultyProfile struct {
	InstitutionID string
	Email         string
	Department    string
	Position      string
	Pending       []string
	Approved      []string
}

// InstitutionProfile holds the `institutions` columns.  EncryptedAPIKey is
// sealed with the server key and is never serialized.
type InstitutionProfile struct {
	Location        string
	APIURL          *string
	EncryptedAPIKey *string
}

// FacultySummary is the projection returned by faculty search.
type FacultySummary struct {
	ID            string `json:"_id"`
	Name          string `json:"name"`
	InstitutionID string `json:"institution"`
	Department    string `json:"department"`
	Position      string `json:"position,omitempty"`
	Email         string `json:"email"`
}

// MarshalJSON flattens the account and its extension into one object and
// leaves out every secret.
func (a Account) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"_id":       a.ID,
		"role":      a.Role,
		"name":      a.Name,
		"createdAt": a.CreatedAt,
		"updatedAt": a.UpdatedAt,
	}
	switch {
	case a.Student != nil:
		s := a.Student
		out["institution"] = s.InstitutionID
		out["email"] = s.Email
		out["roll"] = s.Roll
		out["programme"] = s.Programme
		out["department"] = s.Department
		out["certifications"] = nonNil(s.Certifications)
		out["isPortalSynced"] = s.PortalSyncedAt != nil
		if s.PortalSyncedAt != nil {
			out["lastSyncedAt"] = *s.PortalSyncedAt
			out["instituteData"] = s.PortalData
		}
	case a.Faculty != nil:
		f := a.Faculty
		out["institution"] = f.InstitutionID
		out["email"] = f.Email
		out["department"] = f.Department
		out["position"] = f.Position
		out["pendingCertifications"] = nonNil(f.Pending)
		out["approvedCertifications"] = nonNil(f.Approved)
	case a.Institution != nil:
		in := a.Institution
		out["location"] = in.Location
		out["apiUrl"] = in.APIURL
		out["hasApiKey"] = in.EncryptedAPIKey != nil
	}
	return json.Marshal(out)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

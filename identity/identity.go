// Package identity defines the persisted view of the signed-in user.
// An Identity never carries the access credential.
package identity

import (
	"errors"
	"strings"

	"github.com/coursemart/authclient/internal/util"
)

// Role is the marketplace role of an account.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
	RoleAdmin   Role = "admin"
)

// Status is the account lifecycle status reported by the server.
type Status string

const (
	StatusActive              Status = "active"
	StatusPendingVerification Status = "pending_verification"
	StatusSuspended           Status = "suspended"
)

// ErrInvalid is returned by Validate for an unusable identity.
var ErrInvalid = errors.New("invalid identity")

// TutorProfile is the tutor-specific sub-profile.
type TutorProfile struct {
	Headline   string   `json:"headline,omitempty"`
	Subjects   []string `json:"subjects,omitempty"`
	HourlyRate int      `json:"hourlyRate,omitempty"`
	Approved   bool     `json:"approved"`
}

// StudentProfile is the student-specific sub-profile.
type StudentProfile struct {
	Grade     string   `json:"grade,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// Identity is the authenticated user as returned by the auth endpoints.
type Identity struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	Role            Role            `json:"role"`
	Status          Status          `json:"status,omitempty"`
	EmailVerified   bool            `json:"emailVerified"`
	FirstName       string          `json:"firstName,omitempty"`
	LastName        string          `json:"lastName,omitempty"`
	ProfileComplete bool            `json:"profileComplete"`
	OnboardingStep  int             `json:"onboardingStep,omitempty"`
	Tutor           *TutorProfile   `json:"tutorProfile,omitempty"`
	Student         *StudentProfile `json:"studentProfile,omitempty"`
}

// Validate reports whether the identity has the fields every session needs.
func (id *Identity) Validate() error {
	if id == nil {
		return errors.Join(ErrInvalid, errors.New("nil identity"))
	}
	if id.ID == "" {
		return errors.Join(ErrInvalid, errors.New("missing id"))
	}
	if id.Email == "" {
		return errors.Join(ErrInvalid, errors.New("missing email"))
	}
	return nil
}

// DisplayName returns "First Last", falling back to the email.
func (id *Identity) DisplayName() string {
	if id == nil {
		return ""
	}
	name := strings.TrimSpace(id.FirstName + " " + id.LastName)
	if name == "" {
		return id.Email
	}
	return name
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	c := *id
	if id.Tutor != nil {
		t := *id.Tutor
		t.Subjects = append([]string(nil), id.Tutor.Subjects...)
		c.Tutor = &t
	}
	if id.Student != nil {
		s := *id.Student
		s.Interests = append([]string(nil), id.Student.Interests...)
		c.Student = &s
	}
	return &c
}

// NormalizeEmail folds an email address to the form the API matches on:
// NFKC, trimmed, lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(util.Normalize(email)))
}

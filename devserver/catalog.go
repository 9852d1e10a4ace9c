package devserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coursemart/authclient/identity"
)

// Course is a catalog entry.
type Course struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PriceCents int    `json:"priceCents"`
}

// Order is a course purchase.
type Order struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"courseId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	CourseID string `json:"courseId"`
}

// ProfileUpdate is the body of PATCH /profile.
type ProfileUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

var catalog = []Course{
	{ID: "go-101", Title: "Go Fundamentals", PriceCents: 4900},
	{ID: "http-201", Title: "HTTP Clients in Practice", PriceCents: 5900},
	{ID: "sql-110", Title: "Relational Data Modelling", PriceCents: 3900},
}

// ListCourses handles GET /courses. It needs no authentication.
func (s *Server) ListCourses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog)
}

// ListOrders handles GET /orders.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	orders := append([]Order{}, s.orders[userIDFrom(r.Context())]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, orders)
}

// CreateOrder handles POST /orders.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	found := false
	for _, c := range catalog {
		if c.ID == req.CourseID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	order := Order{ID: uuid.NewString(), CourseID: req.CourseID, CreatedAt: s.now().UTC()}
	userID := userIDFrom(r.Context())
	s.mu.Lock()
	s.orders[userID] = append(s.orders[userID], order)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, order)
}

// GetProfile handles GET /profile.
func (s *Server) GetProfile(w http.ResponseWriter, r *http.Request) {
	s.Me(w, r)
}

// UpdateProfile handles PATCH /profile.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accountByIDLocked(userIDFrom(r.Context()))
	if acct == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if req.FirstName != nil {
		acct.user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		acct.user.LastName = strings.TrimSpace(*req.LastName)
	}
	acct.user.ProfileComplete = acct.user.FirstName != "" && acct.user.LastName != ""
	writeJSON(w, http.StatusOK, UserResponse{User: acct.user.Clone()})
}

// TutorProfile handles GET /tutors/me/profile; 404 until a tutor profile exists.
func (s *Server) TutorProfile(w http.ResponseWriter, r *http.Request) {
	s.subProfile(w, r, func(u *identity.Identity) any {
		if u.Tutor == nil {
			return nil
		}
		return u.Tutor
	})
}

// StudentProfile handles GET /students/me/profile; 404 until a student profile exists.
func (s *Server) StudentProfile(w http.ResponseWriter, r *http.Request) {
	s.subProfile(w, r, func(u *identity.Identity) any {
		if u.Student == nil {
			return nil
		}
		return u.Student
	})
}

func (s *Server) subProfile(w http.ResponseWriter, r *http.Request, pick func(*identity.Identity) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accountByIDLocked(userIDFrom(r.Context()))
	if acct == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	p := pick(&acct.user)
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not created yet")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

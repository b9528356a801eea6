package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/dental-booking/internal/appointment"
	"github.com/hackgods/dental-booking/internal/assistant"
)

type BookingResponse struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	AppointmentID uuid.UUID `json:"appointment_id"`
}

type SlotsRequest struct {
	CheckDate string `json:"check_date"`
}

type ActionResponse struct {
	Success          bool   `json:"success"`
	Status           string `json:"status"`
	AlreadyProcessed bool   `json:"already_processed"`
	Message          string `json:"message"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Service   string    `json:"service"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Notes     *string   `json:"notes,omitempty"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

type AppointmentListResponse struct {
	Date         string                `json:"date"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type ChatRequest struct {
	Messages []assistant.Message `json:"messages"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

type SignedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Phone:     a.Phone,
		Service:   a.Service,
		Date:      a.Date,
		Time:      a.Time,
		Notes:     a.Notes,
		Status:    string(a.Status),
		Source:    string(a.Source),
		CreatedAt: a.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

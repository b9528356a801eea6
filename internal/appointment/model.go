package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending            AppointmentStatus = "pending"
	StatusPendingDoctor      AppointmentStatus = "pending_doctor"
	StatusPendingPatient     AppointmentStatus = "pending_patient"
	StatusConfirmed          AppointmentStatus = "confirmed"
	StatusCancelled          AppointmentStatus = "cancelled"
	StatusCancelledByPatient AppointmentStatus = "cancelled_by_patient"
	StatusRejectedByDoctor   AppointmentStatus = "rejected_by_doctor"
	StatusBlocked            AppointmentStatus = "blocked"
)

// ActiveStatuses count toward the weekly duplicate and slot monopolization checks.
var ActiveStatuses = []AppointmentStatus{
	StatusPending,
	StatusPendingDoctor,
	StatusPendingPatient,
	StatusConfirmed,
}

type Source string

const (
	SourceBookingForm    Source = "booking_form"
	SourceAdminBooking   Source = "admin_booking"
	SourceVoiceAssistant Source = "voice_assistant"
	SourceContactForm    Source = "contact_form"
)

// Submission is a raw booking request as received from a client.
type Submission struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Service string  `json:"service"`
	Date    string  `json:"date"`
	Time    string  `json:"time"`
	Notes   *string `json:"notes,omitempty"`
}

// NewAppointment is a validated, normalized submission ready to insert.
// Date is YYYY-MM-DD and Time is HH:MM:SS, both in clinic local time.
type NewAppointment struct {
	Name    string
	Email   string
	Phone   string
	Service string
	Date    string
	Time    string
	Notes   *string
	Status  AppointmentStatus
	Source  Source
}

type Appointment struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Phone     string
	Service   string
	Date      string
	Time      string
	Notes     *string
	Status    AppointmentStatus
	Source    Source
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is one entry of the clinic's fixed daily schedule for a date.
type Slot struct {
	SlotTime    string `json:"slot_time"`
	IsAvailable bool   `json:"is_available"`
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/dental-booking/internal/actiontoken"
	"github.com/hackgods/dental-booking/internal/appointment"
	"github.com/hackgods/dental-booking/internal/assistant"
)

const maxBodyBytes = 64 << 10

// BookingService is the part of appointment.Service the HTTP layer uses.
type BookingService interface {
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	AvailableSlots(ctx context.Context, date string) ([]appointment.Slot, error)

	ConfirmByDoctor(ctx context.Context, id uuid.UUID) (appointment.TransitionResult, error)
	RejectByDoctor(ctx context.Context, id uuid.UUID) (appointment.TransitionResult, error)
	ConfirmByPatient(ctx context.Context, id uuid.UUID) (appointment.TransitionResult, error)
	CancelByPatient(ctx context.Context, id uuid.UUID) (appointment.TransitionResult, error)

	AdminConfirm(ctx context.Context, id uuid.UUID) (appointment.TransitionResult, error)
	AdminCancel(ctx context.Context, id uuid.UUID) (appointment.TransitionResult, error)
	AdminDelete(ctx context.Context, id uuid.UUID) error
	ListByDate(ctx context.Context, date string) ([]appointment.Appointment, error)
}

type TokenParser interface {
	Parse(token string) (actiontoken.Claims, error)
}

type ChatCompleter interface {
	Complete(ctx context.Context, msgs []assistant.Message) (string, error)
}

type VoiceSigner interface {
	SignedURL(ctx context.Context) (string, error)
}

func bookingHandler(svc BookingService, source appointment.Source, trusted bool, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub appointment.Submission
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid input data", "could not parse JSON body")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookingRequest{
			Submission: sub,
			CallerID:   CallerID(r),
			Trusted:    trusted,
			Source:     source,
		})
		if err != nil {
			handleBookingError(w, r, err, logger)
			return
		}

		msg := "Appointment request received. The clinic will contact you to confirm."
		if trusted {
			msg = "Appointment booked and confirmed."
		}
		writeJSON(w, http.StatusOK, BookingResponse{Success: true, Message: msg, AppointmentID: appt.ID})
	}
}

func handleBookingError(w http.ResponseWriter, r *http.Request, err error, logger *logrus.Logger) {
	var verr *appointment.ValidationError
	var rerr *appointment.RejectionError

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "Invalid input data", verr.Message)
	case errors.As(err, &rerr):
		status := http.StatusTooManyRequests
		if rerr.Kind == appointment.KindDuplicate {
			status = http.StatusConflict
		}
		writeError(w, status, rerr.Message, rerr.Details)
	case errors.Is(err, appointment.ErrBookingInProgress):
		writeError(w, http.StatusConflict, "Booking in progress", "Another booking with these contact details is being processed. Please retry in a moment.")
	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"request_id": GetRequestID(r.Context()),
			"caller":     CallerID(r),
		}).Error("booking failed")
		writeError(w, http.StatusInternalServerError, "Failed to process appointment", "An unexpected error occurred. Please try again.")
	}
}

func slotsRPCHandler(svc BookingService, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SlotsRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid input data", "could not parse JSON body")
			return
		}
		writeSlots(w, r, svc, req.CheckDate, logger)
	}
}

func slotsQueryHandler(svc BookingService, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSlots(w, r, svc, r.URL.Query().Get("check_date"), logger)
	}
}

func writeSlots(w http.ResponseWriter, r *http.Request, svc BookingService, date string, logger *logrus.Logger) {
	slots, err := svc.AvailableSlots(r.Context(), date)
	if err != nil {
		var verr *appointment.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "Invalid input data", verr.Message)
			return
		}
		logger.WithError(err).WithField("check_date", date).Error("slot query failed")
		writeError(w, http.StatusInternalServerError, "Failed to load available slots", "Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

var actionMessages = map[actiontoken.Action]string{
	actiontoken.DoctorConfirm:  "The appointment has been confirmed.",
	actiontoken.DoctorReject:   "The appointment has been declined.",
	actiontoken.PatientConfirm: "Thank you, your appointment is confirmed.",
	actiontoken.PatientCancel:  "Your appointment has been cancelled.",
}

// appointmentActionHandler applies a signed doctor or patient link. Replaying a
// link reports already_processed instead of repeating the change.
func appointmentActionHandler(svc BookingService, tokens TokenParser, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := tokens.Parse(r.URL.Query().Get("token"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired link", "Please contact the clinic.")
			return
		}

		var res appointment.TransitionResult
		switch claims.Action {
		case actiontoken.DoctorConfirm:
			res, err = svc.ConfirmByDoctor(r.Context(), claims.AppointmentID)
		case actiontoken.DoctorReject:
			res, err = svc.RejectByDoctor(r.Context(), claims.AppointmentID)
		case actiontoken.PatientConfirm:
			res, err = svc.ConfirmByPatient(r.Context(), claims.AppointmentID)
		case actiontoken.PatientCancel:
			res, err = svc.CancelByPatient(r.Context(), claims.AppointmentID)
		default:
			writeError(w, http.StatusBadRequest, "Unknown action", string(claims.Action))
			return
		}
		if err != nil {
			handleTransitionError(w, r, err, logger)
			return
		}

		msg := actionMessages[claims.Action]
		if res.AlreadyProcessed {
			msg = "This appointment was already processed."
		}
		writeJSON(w, http.StatusOK, ActionResponse{
			Success:          true,
			Status:           string(res.Appointment.Status),
			AlreadyProcessed: res.AlreadyProcessed,
			Message:          msg,
		})
	}
}

func handleTransitionError(w http.ResponseWriter, r *http.Request, err error, logger *logrus.Logger) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "Appointment not found", "")
	default:
		logger.WithError(err).WithField("request_id", GetRequestID(r.Context())).Error("status change failed")
		writeError(w, http.StatusInternalServerError, "Failed to update appointment", "Please try again.")
	}
}

func listAppointmentsHandler(svc BookingService, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		appts, err := svc.ListByDate(r.Context(), date)
		if err != nil {
			var verr *appointment.ValidationError
			if errors.As(err, &verr) {
				writeError(w, http.StatusBadRequest, "Invalid input data", verr.Message)
				return
			}
			logger.WithError(err).Error("list appointments failed")
			writeError(w, http.StatusInternalServerError, "Failed to load appointments", "")
			return
		}

		resp := AppointmentListResponse{Date: date, Appointments: make([]AppointmentResponse, 0, len(appts))}
		for _, a := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type transitionFunc func(ctx context.Context, id uuid.UUID) (appointment.TransitionResult, error)

func adminTransitionHandler(fn transitionFunc, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid appointment id", "id must be a valid UUID")
			return
		}

		res, err := fn(r.Context(), id)
		if err != nil {
			handleTransitionError(w, r, err, logger)
			return
		}
		adminLog(r, logger, id).WithField("status", res.Appointment.Status).Info("admin status change")

		msg := "Appointment updated."
		if res.AlreadyProcessed {
			msg = "This appointment was already processed."
		}
		writeJSON(w, http.StatusOK, ActionResponse{
			Success:          true,
			Status:           string(res.Appointment.Status),
			AlreadyProcessed: res.AlreadyProcessed,
			Message:          msg,
		})
	}
}

func deleteAppointmentHandler(svc BookingService, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid appointment id", "id must be a valid UUID")
			return
		}
		if err := svc.AdminDelete(r.Context(), id); err != nil {
			handleTransitionError(w, r, err, logger)
			return
		}
		adminLog(r, logger, id).Info("admin deleted appointment")
		w.WriteHeader(http.StatusNoContent)
	}
}

func adminLog(r *http.Request, logger *logrus.Logger, id uuid.UUID) *logrus.Entry {
	entry := logger.WithFields(logrus.Fields{
		"appointment_id": id,
		"request_id":     GetRequestID(r.Context()),
	})
	if claims, ok := AdminClaimsFromContext(r.Context()); ok {
		entry = entry.WithField("admin", claims.Subject)
	}
	return entry
}

func chatHandler(chat ChatCompleter, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chat == nil {
			writeError(w, http.StatusServiceUnavailable, "Assistant unavailable", "")
			return
		}
		var req ChatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid input data", "could not parse JSON body")
			return
		}

		reply, err := chat.Complete(r.Context(), req.Messages)
		if err != nil {
			handleAssistantError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{Reply: reply})
	}
}

func voiceSignedURLHandler(voice VoiceSigner, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if voice == nil {
			writeError(w, http.StatusServiceUnavailable, "Assistant unavailable", "")
			return
		}
		u, err := voice.SignedURL(r.Context())
		if err != nil {
			handleAssistantError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, SignedURLResponse{SignedURL: u})
	}
}

func handleAssistantError(w http.ResponseWriter, err error, logger *logrus.Logger) {
	switch {
	case errors.Is(err, assistant.ErrInvalidMessages):
		writeError(w, http.StatusBadRequest, "Invalid input data", err.Error())
	case errors.Is(err, assistant.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Assistant unavailable", "")
	case errors.Is(err, assistant.ErrUpstreamRateLimit):
		writeError(w, http.StatusTooManyRequests, "Assistant is busy", "Please try again in a moment.")
	case errors.Is(err, assistant.ErrUpstreamCredits):
		writeError(w, http.StatusPaymentRequired, "Assistant unavailable", "Usage limit reached.")
	default:
		logger.WithError(err).Error("assistant request failed")
		writeError(w, http.StatusBadGateway, "Assistant unavailable", "Please try again.")
	}
}

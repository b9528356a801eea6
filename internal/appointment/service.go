package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/dental-booking/internal/logging"
	"github.com/hackgods/dental-booking/internal/metrics"
	redisclient "github.com/hackgods/dental-booking/internal/redis"
)

const (
	EventAppointmentCreated   = "appointment.created"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentRejected  = "appointment.rejected"
	EventAppointmentCancelled = "appointment.cancelled"
	EventAppointmentDeleted   = "appointment.deleted"

	// ActionBooking is the rate limiter action key for booking attempts.
	ActionBooking = "booking"
)

// RateLimiter reports whether identifier may perform action once more.
type RateLimiter interface {
	Allow(ctx context.Context, identifier, action string) (bool, error)
}

// BookingLocker serializes work across bookings sharing any key. It returns
// redisclient.ErrLockNotAcquired when a key stays held by someone else.
type BookingLocker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

type Notification struct {
	Event       string
	Appointment Appointment
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type PolicyConfig struct {
	RateLimitFailOpen     bool
	ConflictCheckFailOpen bool
	// MonopolyWindow and MonopolyMax bound how many active appointments one
	// contact may hold starting inside the same window on one date.
	MonopolyWindow time.Duration
	MonopolyMax    int
}

func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		RateLimitFailOpen:     true,
		ConflictCheckFailOpen: true,
		MonopolyWindow:        30 * time.Minute,
		MonopolyMax:           3,
	}
}

// BookingRequest is one booking attempt. Trusted requests come from an
// authenticated administrator and skip the duplicate and monopolization checks.
type BookingRequest struct {
	Submission Submission
	CallerID   string
	Trusted    bool
	Source     Source
}

type TransitionResult struct {
	Appointment      *Appointment
	AlreadyProcessed bool
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) { s.logger = logging.OrDefault(l) }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	repo      Repository
	validator *Validator
	limiter   RateLimiter
	locker    BookingLocker
	notifier  Notifier
	policy    PolicyConfig
	clock     Clock
	logger    *logrus.Logger
	metrics   *metrics.BookingMetrics

	inflight sync.WaitGroup
}

// NewService wires the booking policy. limiter, locker and notifier may be nil,
// which disables the corresponding step.
func NewService(repo Repository, validator *Validator, limiter RateLimiter, locker BookingLocker, notifier Notifier, policy PolicyConfig, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		validator: validator,
		limiter:   limiter,
		locker:    locker,
		notifier:  notifier,
		policy:    policy,
		clock:     SystemClock{},
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MonopolyWindow <= 0 {
		s.policy.MonopolyWindow = 30 * time.Minute
	}
	if s.policy.MonopolyMax <= 0 {
		s.policy.MonopolyMax = 3
	}
	return s
}

// Book validates a submission, applies the booking policy and persists it.
// Checks run in order and the first failure ends the attempt.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	start := time.Now()
	appt, err := s.book(ctx, req)

	path := "public"
	if req.Trusted {
		path = "admin"
	}
	s.metrics.ObserveOutcome(path, outcomeOf(err), time.Since(start).Seconds())
	return appt, err
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	in, err := s.validator.Validate(req.Submission)
	if err != nil {
		return nil, err
	}

	if err := s.checkRateLimit(ctx, req.CallerID); err != nil {
		return nil, err
	}

	if req.Trusted {
		in.Status = StatusConfirmed
		in.Source = SourceAdminBooking
	} else {
		in.Status = StatusPendingDoctor
		in.Source = req.Source
		if in.Source == "" {
			in.Source = SourceBookingForm
		}
	}

	var created *Appointment
	err = s.withContactLock(ctx, in, func(lockCtx context.Context) error {
		if !req.Trusted {
			if err := s.checkConflicts(lockCtx, in); err != nil {
				return err
			}
		}

		appt, err := s.repo.CreateAppointment(lockCtx, in)
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"appointment_id": created.ID,
		"caller":         req.CallerID,
		"status":         created.Status,
		"source":         created.Source,
	}).Info("appointment booked")

	s.logEvent(ctx, created.ID, EventAppointmentCreated, map[string]any{
		"date":    created.Date,
		"time":    created.Time,
		"source":  created.Source,
		"status":  created.Status,
		"trusted": req.Trusted,
	})
	s.dispatch(ctx, EventAppointmentCreated, created)

	return created, nil
}

func (s *Service) checkRateLimit(ctx context.Context, callerID string) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, callerID, ActionBooking)
	if err != nil {
		s.metrics.ObserveCheckFailure("rate_limit")
		if s.policy.RateLimitFailOpen {
			s.logger.WithError(err).WithField("caller", callerID).Warn("rate limiter unavailable, allowing request")
			return nil
		}
		return fmt.Errorf("check rate limit: %w", err)
	}
	if !allowed {
		s.logger.WithField("caller", callerID).Info("booking rate limit exceeded")
		return rateLimited()
	}
	return nil
}

// contactLockKeys covers every identity the conflict checks match on, so two
// bookings that could conflict always share a key.
func contactLockKeys(in NewAppointment) []string {
	return []string{"email:" + in.Email, "phone:" + in.Phone}
}

// withContactLock runs fn under the locks of the submission's email and
// phone. If the lock store itself is unreachable fn runs unlocked.
func (s *Service) withContactLock(ctx context.Context, in NewAppointment, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	ran := false
	err := s.locker.WithLock(ctx, contactLockKeys(in), func(lockCtx context.Context) error {
		ran = true
		return fn(lockCtx)
	})
	if ran {
		return err
	}
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrBookingInProgress
	}
	if err != nil {
		s.metrics.ObserveCheckFailure("booking_lock")
		s.logger.WithError(err).Warn("booking lock unavailable, continuing unlocked")
		return fn(ctx)
	}
	return nil
}

func (s *Service) checkConflicts(ctx context.Context, in NewAppointment) error {
	d, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return fmt.Errorf("parse booking date: %w", err)
	}
	weekStart, weekEnd := WeekBounds(d)

	existing, err := s.repo.FindWeeklyDuplicate(ctx, in.Name, in.Email, in.Phone,
		weekStart.Format(dateLayout), weekEnd.Format(dateLayout), ActiveStatuses)
	if err != nil {
		if ferr := s.checkFailed("weekly_duplicate", err); ferr != nil {
			return ferr
		}
	} else if existing != nil {
		s.logger.WithFields(logrus.Fields{
			"existing_id": existing.ID,
			"date":        in.Date,
		}).Info("weekly duplicate booking rejected")
		return duplicateBooking(existing)
	}

	to, err := windowEnd(in.Time, s.policy.MonopolyWindow)
	if err != nil {
		return fmt.Errorf("compute monopolization window: %w", err)
	}
	count, err := s.repo.CountContactAppointmentsInWindow(ctx, in.Email, in.Phone, in.Date, in.Time, to, ActiveStatuses)
	if err != nil {
		return s.checkFailed("slot_monopolization", err)
	}
	if count >= s.policy.MonopolyMax {
		s.logger.WithFields(logrus.Fields{
			"date":  in.Date,
			"time":  in.Time,
			"count": count,
		}).Info("slot monopolization rejected")
		return slotMonopolized(in.Date, in.Time)
	}
	return nil
}

// checkFailed returns nil when the policy lets bookings through despite a
// failed conflict query.
func (s *Service) checkFailed(check string, err error) error {
	s.metrics.ObserveCheckFailure(check)
	if s.policy.ConflictCheckFailOpen {
		s.logger.WithError(err).WithField("check", check).Warn("conflict check failed, allowing booking")
		return nil
	}
	return fmt.Errorf("%s check: %w", check, err)
}

func (s *Service) ConfirmByDoctor(ctx context.Context, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, id, []AppointmentStatus{StatusPendingDoctor}, StatusConfirmed, EventAppointmentConfirmed)
}

func (s *Service) RejectByDoctor(ctx context.Context, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, id, []AppointmentStatus{StatusPendingDoctor}, StatusRejectedByDoctor, EventAppointmentRejected)
}

func (s *Service) ConfirmByPatient(ctx context.Context, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, id, []AppointmentStatus{StatusPendingPatient}, StatusConfirmed, EventAppointmentConfirmed)
}

func (s *Service) CancelByPatient(ctx context.Context, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, id,
		[]AppointmentStatus{StatusPendingPatient, StatusPendingDoctor, StatusConfirmed},
		StatusCancelledByPatient, EventAppointmentCancelled)
}

func (s *Service) AdminConfirm(ctx context.Context, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, id,
		[]AppointmentStatus{StatusPending, StatusPendingDoctor, StatusPendingPatient},
		StatusConfirmed, EventAppointmentConfirmed)
}

func (s *Service) AdminCancel(ctx context.Context, id uuid.UUID) (TransitionResult, error) {
	return s.transition(ctx, id, ActiveStatuses, StatusCancelled, EventAppointmentCancelled)
}

// transition applies a conditional status change. A call that loses to an
// earlier one reports AlreadyProcessed and has no side effects.
func (s *Service) transition(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, event string) (TransitionResult, error) {
	updated, err := s.repo.TransitionStatus(ctx, id, from, to)
	if errors.Is(err, ErrStatusConflict) {
		current, gerr := s.repo.GetAppointmentByID(ctx, id)
		if gerr != nil {
			return TransitionResult{}, gerr
		}
		s.logger.WithFields(logrus.Fields{
			"appointment_id": id,
			"status":         current.Status,
			"target":         to,
		}).Info("status transition already processed")
		return TransitionResult{Appointment: current, AlreadyProcessed: true}, nil
	}
	if err != nil {
		return TransitionResult{}, err
	}

	s.logEvent(ctx, updated.ID, event, map[string]any{"status": updated.Status})
	s.dispatch(ctx, event, updated)
	return TransitionResult{Appointment: updated}, nil
}

// AdminDelete removes an appointment. The audit event is written while the
// row still exists; deleting it then clears the event's reference.
func (s *Service) AdminDelete(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return err
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"appointment_id": id,
		"date":           appt.Date,
		"time":           appt.Time,
		"status":         appt.Status,
	})

	return s.repo.DeleteAppointment(ctx, id)
}

func (s *Service) ListByDate(ctx context.Context, date string) ([]Appointment, error) {
	d, err := ParseCheckDate(date)
	if err != nil {
		return nil, err
	}
	appts, err := s.repo.ListAppointmentsByDate(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("list appointments by date: %w", err)
	}
	return appts, nil
}

// AvailableSlots returns the clinic schedule for date in slot order.
func (s *Service) AvailableSlots(ctx context.Context, date string) ([]Slot, error) {
	d, err := ParseCheckDate(date)
	if err != nil {
		return nil, err
	}
	slots, err := s.repo.ListAvailableSlots(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("available slots: %w", err)
	}
	return slots, nil
}

// dispatch sends the notification in the background. The request context is
// detached so the send outlives the response.
func (s *Service) dispatch(ctx context.Context, event string, appt *Appointment) {
	if s.notifier == nil {
		return
	}
	n := Notification{Event: event, Appointment: *appt}
	bg := context.WithoutCancel(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.notifier.Notify(bg, n); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"appointment_id": n.Appointment.ID,
				"event":          event,
			}).Error("notification dispatch failed")
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event":          eventType,
			"appointment_id": appointmentID,
		}).Warn("failed to insert event log")
	}
}

func outcomeOf(err error) string {
	var verr *ValidationError
	var rerr *RejectionError
	switch {
	case err == nil:
		return "created"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &rerr):
		return string(rerr.Kind)
	case errors.Is(err, ErrBookingInProgress):
		return "busy"
	default:
		return "error"
	}
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/dental-booking/internal/actiontoken"
	"github.com/hackgods/dental-booking/internal/appointment"
	"github.com/hackgods/dental-booking/internal/logging"
	"github.com/hackgods/dental-booking/internal/metrics"
)

const defaultTimeout = 8 * time.Second

type Signer interface {
	Issue(appointmentID uuid.UUID, action actiontoken.Action) (string, error)
}

// ActionLinks builds the one-click URLs included in notifications.
type ActionLinks struct {
	baseURL string
	signer  Signer
}

func NewActionLinks(baseURL string, signer Signer) *ActionLinks {
	return &ActionLinks{baseURL: baseURL, signer: signer}
}

// For returns the links that make sense for the appointment's status, keyed
// by action.
func (l *ActionLinks) For(appt appointment.Appointment) (map[actiontoken.Action]string, error) {
	if l == nil || l.signer == nil {
		return nil, nil
	}

	var actions []actiontoken.Action
	switch appt.Status {
	case appointment.StatusPendingDoctor:
		actions = []actiontoken.Action{actiontoken.DoctorConfirm, actiontoken.DoctorReject}
	case appointment.StatusPendingPatient:
		actions = []actiontoken.Action{actiontoken.PatientConfirm, actiontoken.PatientCancel}
	case appointment.StatusConfirmed:
		actions = []actiontoken.Action{actiontoken.PatientCancel}
	default:
		return nil, nil
	}

	links := make(map[actiontoken.Action]string, len(actions))
	for _, a := range actions {
		tok, err := l.signer.Issue(appt.ID, a)
		if err != nil {
			return nil, fmt.Errorf("issue %s link: %w", a, err)
		}
		links[a] = l.baseURL + "/appointments/actions?token=" + url.QueryEscape(tok)
	}
	return links, nil
}

type appointmentPayload struct {
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

type webhookPayload struct {
	Event       string                        `json:"event"`
	Appointment appointmentPayload            `json:"appointment"`
	Actions     map[actiontoken.Action]string `json:"actions,omitempty"`
	SentAt      time.Time                     `json:"sent_at"`
}

// WebhookNotifier posts appointment events to a workflow webhook. Delivery is
// attempted once.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	links   *ActionLinks
	logger  *logrus.Logger
	metrics *metrics.BookingMetrics
}

type Option func(*WebhookNotifier)

func WithLinks(l *ActionLinks) Option {
	return func(n *WebhookNotifier) { n.links = l }
}

func WithLogger(l *logrus.Logger) Option {
	return func(n *WebhookNotifier) { n.logger = logging.OrDefault(l) }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(n *WebhookNotifier) { n.metrics = m }
}

func NewWebhookNotifier(webhookURL string, timeout time.Duration, opts ...Option) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	n := &WebhookNotifier{
		url:    webhookURL,
		client: &http.Client{Timeout: timeout},
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify implements appointment.Notifier. Without a configured URL it logs a
// warning and returns nil.
func (n *WebhookNotifier) Notify(ctx context.Context, note appointment.Notification) error {
	if n.url == "" {
		n.logger.WithField("event", note.Event).Warn("webhook url not configured, skipping notification")
		n.metrics.ObserveWebhook(note.Event, "skipped")
		return nil
	}

	err := n.send(ctx, note)
	if err != nil {
		n.metrics.ObserveWebhook(note.Event, "failed")
		return err
	}
	n.metrics.ObserveWebhook(note.Event, "sent")
	n.logger.WithFields(logrus.Fields{
		"event":          note.Event,
		"appointment_id": note.Appointment.ID,
	}).Debug("notification delivered")
	return nil
}

func (n *WebhookNotifier) send(ctx context.Context, note appointment.Notification) error {
	a := note.Appointment
	payload := webhookPayload{
		Event: note.Event,
		Appointment: appointmentPayload{
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
		},
		SentAt: time.Now().UTC(),
	}

	links, err := n.links.For(a)
	if err != nil {
		n.logger.WithError(err).WithField("appointment_id", a.ID).Warn("could not build action links")
	}
	payload.Actions = links

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

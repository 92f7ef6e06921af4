// Package worker delivers due reminders. A poll cycle picks PENDING reminders
// whose time has come, renders them per channel and hands them to the
// configured notifier. Failures are recorded on the reminder and are not
// retried in process.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fieldops/internal/models"
	"fieldops/internal/store"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var ErrCycleInFlight = errors.New("reminder cycle already running")

var (
	remindersDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldops_reminders_dispatched_total",
		Help: "Reminder delivery attempts by channel and outcome",
	}, []string{"channel", "outcome"})
	cyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldops_reminder_cycles_skipped_total",
		Help: "Poll cycles skipped because the previous one was still running",
	})
)

var tracer = otel.Tracer("fieldops/worker")

// Store is the part of the reminder store the worker needs.
type Store interface {
	GetReminder(ctx context.Context, reminderID string) (models.Reminder, error)
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	MarkReminderSent(ctx context.Context, reminderID, from string) (models.Reminder, error)
	MarkReminderFailed(ctx context.Context, reminderID, from, lastError string) (models.Reminder, error)
	MarkReminderRetry(ctx context.Context, reminderID, from, lastError string, next time.Time) (models.Reminder, error)
	ResolveContact(ctx context.Context, reminder models.Reminder) (models.Contact, error)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// RetryEnabled reschedules a failed reminder for a later cycle instead of
	// marking it FAILED, until MaxAttempts is reached.
	RetryEnabled bool
	MaxAttempts  int
	Backoff      time.Duration
	BackoffMax   time.Duration
	Now          func() time.Time
}

type Worker struct {
	store     Store
	notifiers Notifiers
	logger    *zap.Logger

	pollInterval time.Duration
	batchSize    int
	retryEnabled bool
	maxAttempts  int
	backoff      time.Duration
	backoffMax   time.Duration
	now          func() time.Time

	running int32
	// reminder ids with a delivery underway, shared by cycles and SendNow
	claimed sync.Map

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(st Store, notifiers Notifiers, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 25
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	initial := cfg.Backoff
	if initial <= 0 {
		initial = time.Minute
	}
	maxBackoff := cfg.BackoffMax
	if maxBackoff <= 0 {
		maxBackoff = time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Worker{
		store:        st,
		notifiers:    notifiers,
		logger:       logger,
		pollInterval: interval,
		batchSize:    batch,
		retryEnabled: cfg.RetryEnabled,
		maxAttempts:  maxAttempts,
		backoff:      initial,
		backoffMax:   maxBackoff,
		now:          now,
	}
}

// Start runs a cycle right away and then every PollInterval until Stop is
// called or ctx ends. Calling Start on a running worker does nothing.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, ErrCycleInFlight) && ctx.Err() == nil {
				w.logger.Error("reminder cycle error", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels the loop and waits for the current cycle to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce processes one batch of due reminders sequentially and returns how
// many were attempted. An overlapping call returns ErrCycleInFlight.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		cyclesSkipped.Inc()
		return 0, ErrCycleInFlight
	}
	defer atomic.StoreInt32(&w.running, 0)

	ctx, span := tracer.Start(ctx, "reminders.cycle")
	defer span.End()

	due, err := w.store.ListDueReminders(ctx, w.now(), w.batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due reminders")
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	processed := 0
	for _, reminder := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := w.dispatchDue(ctx, reminder.ReminderID)
		if err != nil {
			w.logger.Error("reminder dispatch", zap.String("reminder_id", reminder.ReminderID), zap.Error(err))
			continue
		}
		if ok {
			processed++
		}
	}

	span.SetAttributes(attribute.Int("reminders.processed", processed))
	if processed > 0 {
		w.logger.Info("reminder cycle", zap.Int("due", len(due)), zap.Int("processed", processed))
	}
	return processed, nil
}

func (w *Worker) dispatchDue(ctx context.Context, reminderID string) (bool, error) {
	release, ok := w.claim(reminderID)
	if !ok {
		return false, nil
	}
	defer release()

	current, err := w.store.GetReminder(ctx, reminderID)
	if err != nil {
		return false, fmt.Errorf("reload reminder: %w", err)
	}
	// cancelled or sent since the batch was listed
	if !store.ValidReminderTransition(store.ReminderActionDispatch, current.Status) {
		return false, nil
	}
	if _, err := w.dispatch(ctx, current); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			w.logger.Info("reminder changed during delivery, outcome dropped", zap.String("reminder_id", reminderID))
			return false, nil
		}
		return false, fmt.Errorf("record outcome: %w", err)
	}
	return true, nil
}

// claim marks a reminder as being delivered. The returned func releases it.
func (w *Worker) claim(reminderID string) (func(), bool) {
	if _, busy := w.claimed.LoadOrStore(reminderID, struct{}{}); busy {
		return nil, false
	}
	return func() { w.claimed.Delete(reminderID) }, true
}

// SendNow attempts delivery of one reminder immediately, from any state but
// SENT, and returns it with the recorded outcome. A reminder already being
// delivered by a poll cycle is rejected with ErrInvalidState.
func (w *Worker) SendNow(ctx context.Context, reminderID string) (models.Reminder, error) {
	release, ok := w.claim(reminderID)
	if !ok {
		return models.Reminder{}, fmt.Errorf("%w: delivery already in progress", store.ErrInvalidState)
	}
	defer release()

	reminder, err := w.store.GetReminder(ctx, reminderID)
	if err != nil {
		return models.Reminder{}, err
	}
	if !store.ValidReminderTransition(store.ReminderActionSendNow, reminder.Status) {
		return models.Reminder{}, store.ErrInvalidState
	}
	return w.dispatch(ctx, reminder)
}

func (w *Worker) dispatch(ctx context.Context, reminder models.Reminder) (models.Reminder, error) {
	ctx, span := tracer.Start(ctx, "reminders.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("reminder.id", reminder.ReminderID),
		attribute.String("reminder.channel", reminder.Channel),
	)

	deliveryErr := w.deliver(ctx, reminder)
	if deliveryErr == nil {
		remindersDispatched.WithLabelValues(reminder.Channel, "sent").Inc()
		return w.store.MarkReminderSent(ctx, reminder.ReminderID, reminder.Status)
	}

	span.RecordError(deliveryErr)
	span.SetStatus(codes.Error, "delivery failed")
	w.logger.Warn("reminder delivery failed",
		zap.String("reminder_id", reminder.ReminderID),
		zap.String("channel", reminder.Channel),
		zap.Int("attempt", reminder.Attempts+1),
		zap.Error(deliveryErr),
	)

	attempt := reminder.Attempts + 1
	if w.retryEnabled && attempt < w.maxAttempts {
		remindersDispatched.WithLabelValues(reminder.Channel, "retry").Inc()
		return w.store.MarkReminderRetry(ctx, reminder.ReminderID, reminder.Status, deliveryErr.Error(), w.now().Add(w.retryDelay(attempt)))
	}
	remindersDispatched.WithLabelValues(reminder.Channel, "failed").Inc()
	return w.store.MarkReminderFailed(ctx, reminder.ReminderID, reminder.Status, deliveryErr.Error())
}

// retryDelay is the exponential backoff interval after attempt failures,
// without jitter.
func (w *Worker) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.backoff
	b.MaxInterval = w.backoffMax
	b.RandomizationFactor = 0
	b.Reset()
	delay := b.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

var errNoRecipient = errors.New("no recipient for channel")

func (w *Worker) deliver(ctx context.Context, reminder models.Reminder) error {
	vars, err := decodePayload(reminder.Payload)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	recipient, name, err := w.recipient(ctx, reminder, vars)
	if err != nil {
		return err
	}
	if _, ok := vars["name"]; !ok && name != "" {
		vars["name"] = name
	}
	if _, ok := vars["scheduled_for"]; !ok {
		vars["scheduled_for"] = reminder.ScheduledFor.Format("Mon Jan 2 15:04 MST")
	}
	message := Render(reminder.Template, vars)

	var delivery Delivery
	switch reminder.Channel {
	case models.ChannelEmail:
		if w.notifiers.Email == nil {
			return errors.New("email notifier not configured")
		}
		delivery, err = w.notifiers.Email.SendEmail(ctx, recipient, message.Subject, message.HTML)
	case models.ChannelSMS:
		if w.notifiers.SMS == nil {
			return errors.New("sms notifier not configured")
		}
		delivery, err = w.notifiers.SMS.SendSMS(ctx, recipient, message.Text)
	case models.ChannelPush:
		if w.notifiers.Push == nil {
			return errors.New("push notifier not configured")
		}
		data := map[string]interface{}{"reminder_id": reminder.ReminderID}
		if reminder.JobID != "" {
			data["job_id"] = reminder.JobID
		}
		delivery, err = w.notifiers.Push.SendPush(ctx, recipient, message.Title, message.Text, data)
	default:
		return fmt.Errorf("unsupported channel %q", reminder.Channel)
	}
	if err != nil {
		return err
	}
	if !delivery.Sent {
		reason := delivery.Reason
		if reason == "" {
			reason = "provider did not send"
		}
		return errors.New(reason)
	}
	return nil
}

// recipient prefers an address in the payload and falls back to the stored
// contact of the reminder's user or job.
func (w *Worker) recipient(ctx context.Context, reminder models.Reminder, vars map[string]interface{}) (string, string, error) {
	if override := payloadRecipient(reminder.Channel, vars); override != "" {
		return override, "", nil
	}
	contact, err := w.store.ResolveContact(ctx, reminder)
	if err != nil {
		if errors.Is(err, store.ErrNoContact) {
			return "", "", errNoRecipient
		}
		return "", "", fmt.Errorf("resolve contact: %w", err)
	}
	var address string
	switch reminder.Channel {
	case models.ChannelEmail:
		address = contact.Email
	case models.ChannelSMS:
		address = contact.Phone
	case models.ChannelPush:
		address = contact.PushToken
	}
	if address == "" {
		return "", "", errNoRecipient
	}
	return address, contact.Name, nil
}

func payloadRecipient(channel string, vars map[string]interface{}) string {
	switch channel {
	case models.ChannelEmail:
		return str(vars, "email")
	case models.ChannelSMS:
		return str(vars, "phone")
	case models.ChannelPush:
		if token := str(vars, "push_token"); token != "" {
			return token
		}
		return str(vars, "user_id")
	}
	return ""
}

func decodePayload(raw json.RawMessage) (map[string]interface{}, error) {
	vars := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return vars, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&vars); err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return vars, nil
}

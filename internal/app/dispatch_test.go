package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subtrack/subscription-service/internal/domain"
)

type emailLogKey struct {
	subscriptionID uuid.UUID
	reminderID     uuid.UUID
	date           string
}

// dispatchRepoStub mirrors the claim semantics of the email_logs table.
type dispatchRepoStub struct {
	mu sync.Mutex

	candidates    []domain.DispatchCandidate
	listErr       error
	listCalls     int
	claimErr      error
	sendingErr    error
	notifications map[string]domain.InAppNotification
	logs          map[emailLogKey]*domain.EmailLog
	byID          map[uuid.UUID]emailLogKey
	failedCtxErrs []error
}

func newDispatchRepoStub(candidates ...domain.DispatchCandidate) *dispatchRepoStub {
	return &dispatchRepoStub{
		candidates:    candidates,
		notifications: make(map[string]domain.InAppNotification),
		logs:          make(map[emailLogKey]*domain.EmailLog),
		byID:          make(map[uuid.UUID]emailLogKey),
	}
}

func (s *dispatchRepoStub) ListActiveSubscriptionsWithReminders(ctx context.Context, today domain.Date) ([]domain.DispatchCandidate, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.candidates, nil
}

func (s *dispatchRepoStub) CreateInAppNotification(ctx context.Context, item domain.InAppNotification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[item.DedupeKey]; ok {
		return false, nil
	}
	s.notifications[item.DedupeKey] = item
	return true, nil
}

func (s *dispatchRepoStub) ClaimEmailDispatch(ctx context.Context, claim domain.EmailDispatchClaim, staleBefore time.Time) (*domain.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	key := emailLogKey{claim.SubscriptionID, claim.ReminderID, claim.DispatchDate.String()}
	existing, ok := s.logs[key]
	if ok {
		inFlight := existing.Status == domain.EmailStatusQueued || existing.Status == domain.EmailStatusSending
		if existing.Status != domain.EmailStatusFailed && !(inFlight && existing.UpdatedAt.Before(staleBefore)) {
			return nil, nil
		}
		existing.Status = domain.EmailStatusQueued
		existing.Attempts++
		existing.UpdatedAt = time.Now()
		out := *existing
		return &out, nil
	}

	reminderID := claim.ReminderID
	entry := &domain.EmailLog{
		ID:              uuid.New(),
		SubscriptionID:  claim.SubscriptionID,
		ReminderID:      &reminderID,
		UserID:          claim.UserID,
		Recipient:       claim.Recipient,
		DispatchDate:    claim.DispatchDate,
		DaysUntilExpiry: claim.DaysUntilExpiry,
		Status:          domain.EmailStatusQueued,
		Attempts:        1,
		UpdatedAt:       time.Now(),
	}
	s.logs[key] = entry
	s.byID[entry.ID] = key
	out := *entry
	return &out, nil
}

func (s *dispatchRepoStub) setStatus(id uuid.UUID, status domain.EmailStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return errors.New("unknown email log")
	}
	s.logs[key].Status = status
	s.logs[key].UpdatedAt = time.Now()
	return nil
}

func (s *dispatchRepoStub) MarkEmailSending(ctx context.Context, logID uuid.UUID) error {
	if s.sendingErr != nil {
		return s.sendingErr
	}
	return s.setStatus(logID, domain.EmailStatusSending)
}

func (s *dispatchRepoStub) MarkEmailSent(ctx context.Context, logID uuid.UUID, sentAt time.Time) error {
	return s.setStatus(logID, domain.EmailStatusSent)
}

func (s *dispatchRepoStub) MarkEmailFailed(ctx context.Context, logID uuid.UUID, failureReason string) error {
	s.mu.Lock()
	s.failedCtxErrs = append(s.failedCtxErrs, ctx.Err())
	s.mu.Unlock()
	return s.setStatus(logID, domain.EmailStatusFailed)
}

func (s *dispatchRepoStub) logFor(subscriptionID uuid.UUID) *domain.EmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.logs {
		if key.subscriptionID == subscriptionID {
			out := *entry
			return &out
		}
	}
	return nil
}

func (s *dispatchRepoStub) statuses() []domain.EmailStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EmailStatus
	for _, entry := range s.logs {
		out = append(out, entry.Status)
	}
	return out
}

type senderStub struct {
	mu      sync.Mutex
	sent    []string
	err     error
	failFor map[string]error
	block   bool
}

func (s *senderStub) SendEmail(ctx context.Context, to, subject, htmlBody string) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if err := s.failFor[to]; err != nil {
		return err
	}
	s.sent = append(s.sent, to)
	return nil
}

type lockStub struct {
	acquired bool
	err      error
	unlocked bool
}

func (l *lockStub) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "token", l.acquired, l.err
}

func (l *lockStub) Unlock(ctx context.Context, key, token string) error {
	l.unlocked = true
	return nil
}

func newTestDispatcher(repo DispatchRepository, sender EmailSender, lock DispatchLock, publisher EventPublisher) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(repo, sender, lock, publisher, logger, DispatchConfig{
		SendTimeout: 50 * time.Millisecond,
		AppBaseURL:  "https://app.example.com/",
	})
}

func dueCandidate(today domain.Date, daysBefore int, ownerEmail string) domain.DispatchCandidate {
	subID := uuid.New()
	return domain.DispatchCandidate{
		OwnerEmail: ownerEmail,
		Subscription: domain.Subscription{
			ID:                subID,
			UserID:            uuid.New(),
			ServiceName:       "example.com",
			PurchaseDate:      today.AddDays(daysBefore - 365),
			ExpiryDate:        today.AddDays(daysBefore),
			PurchaseAmountPKR: decimal.NewFromInt(1000),
			IsActive:          true,
			Reminders: []domain.Reminder{
				{ID: uuid.New(), SubscriptionID: subID, DaysBefore: daysBefore, Enabled: true},
			},
		},
	}
}

func TestRunDailySweep_SendsOncePerReminderPerDay(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	repo := newDispatchRepoStub(dueCandidate(today, 7, "owner@example.com"))
	sender := &senderStub{}
	pub := &publisherStub{}
	d := newTestDispatcher(repo, sender, nil, pub)

	first, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Due)
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 1, first.NotificationsCreated)

	second, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 1, second.AlreadySent)
	assert.Equal(t, 0, second.NotificationsCreated)

	assert.Equal(t, []string{"owner@example.com"}, sender.sent)
	assert.Len(t, repo.notifications, 1)
	assert.Equal(t, []domain.EmailStatus{domain.EmailStatusSent}, repo.statuses())
	assert.Equal(t, []string{"reminder.email.sent"}, pub.routingKeys)
}

func TestRunDailySweep_SkipsRemindersThatAreNotDue(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	candidate := dueCandidate(today, 7, "owner@example.com")
	candidate.Subscription.Reminders[0].DaysBefore = 5
	repo := newDispatchRepoStub(candidate)
	sender := &senderStub{}
	d := newTestDispatcher(repo, sender, nil, nil)

	result, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 0, result.Due)
	assert.Empty(t, sender.sent)
	assert.Empty(t, repo.notifications)
}

func TestRunDailySweep_FailedSendIsRecordedAndRetriedLater(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	repo := newDispatchRepoStub(dueCandidate(today, 1, "owner@example.com"))
	sender := &senderStub{err: errors.New("smtp: 421 service not available")}
	pub := &publisherStub{}
	d := newTestDispatcher(repo, sender, nil, pub)

	result, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []domain.EmailStatus{domain.EmailStatusFailed}, repo.statuses())
	assert.Equal(t, 1, result.NotificationsCreated, "the inbox row does not depend on email delivery")

	sender.err = nil
	retry, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Sent)
	assert.Equal(t, []domain.EmailStatus{domain.EmailStatusSent}, repo.statuses())
	assert.Equal(t, []string{"reminder.email.failed", "reminder.email.sent"}, pub.routingKeys)
}

func TestRunDailySweep_SendTimeoutMarksFailedOnLiveContext(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	repo := newDispatchRepoStub(dueCandidate(today, 0, "owner@example.com"))
	d := newTestDispatcher(repo, &senderStub{block: true}, nil, nil)

	result, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, repo.failedCtxErrs, 1)
	assert.NoError(t, repo.failedCtxErrs[0])
}

func TestRunDailySweep_FailureDoesNotStopOtherReminders(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	repo := newDispatchRepoStub(
		dueCandidate(today, 7, ""),
		dueCandidate(today, 3, "second@example.com"),
	)
	sender := &senderStub{}
	d := newTestDispatcher(repo, sender, nil, nil)

	result, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Evaluated)
	assert.Equal(t, 1, result.SkippedNoRecipient)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, []string{"second@example.com"}, sender.sent)
	assert.Len(t, repo.notifications, 2)
}

func TestRunDailySweep_SendErrorDoesNotStopOtherSubscriptions(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	first := dueCandidate(today, 7, "first@example.com")
	second := dueCandidate(today, 3, "second@example.com")
	repo := newDispatchRepoStub(first, second)
	sender := &senderStub{failFor: map[string]error{
		"first@example.com": errors.New("smtp: 550 mailbox unavailable"),
	}}
	pub := &publisherStub{}
	d := newTestDispatcher(repo, sender, nil, pub)

	result, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Evaluated)
	assert.Equal(t, 2, result.Due)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, []string{"second@example.com"}, sender.sent)
	assert.Len(t, repo.notifications, 2)

	failed := repo.logFor(first.Subscription.ID)
	require.NotNil(t, failed)
	assert.Equal(t, domain.EmailStatusFailed, failed.Status)
	sent := repo.logFor(second.Subscription.ID)
	require.NotNil(t, sent)
	assert.Equal(t, domain.EmailStatusSent, sent.Status)
	assert.ElementsMatch(t, []string{"reminder.email.failed", "reminder.email.sent"}, pub.routingKeys)
}

func TestRunDailySweep_FallsBackToSubscriptionEmail(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	candidate := dueCandidate(today, 7, "")
	contact := "billing@example.com"
	candidate.Subscription.Email = &contact
	sender := &senderStub{}
	d := newTestDispatcher(newDispatchRepoStub(candidate), sender, nil, nil)

	_, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, []string{contact}, sender.sent)
}

func TestRunDailySweep_StopsWhenCancelled(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	repo := newDispatchRepoStub(dueCandidate(today, 7, "owner@example.com"))
	sender := &senderStub{}
	d := newTestDispatcher(repo, sender, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := d.RunDailySweep(ctx, today)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Empty(t, sender.sent)
}

func TestRunDailySweep_LockHeldSkipsRun(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	repo := newDispatchRepoStub(dueCandidate(today, 7, "owner@example.com"))
	d := newTestDispatcher(repo, &senderStub{}, &lockStub{acquired: false}, nil)

	result, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.True(t, result.AlreadyRunning)
	assert.Equal(t, 0, repo.listCalls)
}

func TestRunDailySweep_ReleasesLock(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	lock := &lockStub{acquired: true}
	d := newTestDispatcher(newDispatchRepoStub(), &senderStub{}, lock, nil)

	_, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.True(t, lock.unlocked)
}

func TestRunDailySweep_LockErrorDegradesToDatabaseClaim(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	sender := &senderStub{}
	lock := &lockStub{err: errors.New("redis: connection refused")}
	d := newTestDispatcher(newDispatchRepoStub(dueCandidate(today, 7, "owner@example.com")), sender, lock, nil)

	result, err := d.RunDailySweep(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.False(t, lock.unlocked)
}

func TestRunDailySweep_ListErrorIsReturned(t *testing.T) {
	repo := newDispatchRepoStub()
	repo.listErr = errors.New("db down")
	d := newTestDispatcher(repo, &senderStub{}, nil, nil)

	_, err := d.RunDailySweep(context.Background(), domain.NewDate(2025, time.June, 1))
	assert.Error(t, err)
}

func TestDeliver_ClaimErrorIsTransient(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	candidate := dueCandidate(today, 7, "owner@example.com")
	repo := newDispatchRepoStub(candidate)
	repo.claimErr = errors.New("deadlock detected")
	d := newTestDispatcher(repo, &senderStub{}, nil, nil)

	outcome, err := d.deliver(context.Background(), candidate, candidate.Subscription.Reminders[0], today, 7)
	assert.Equal(t, outcomeFailed, outcome)
	assert.ErrorIs(t, err, ErrDispatchTransient)
}

func TestDeliver_MarkSendingErrorReleasesClaim(t *testing.T) {
	today := domain.NewDate(2025, time.June, 1)
	candidate := dueCandidate(today, 7, "owner@example.com")
	reminder := candidate.Subscription.Reminders[0]
	repo := newDispatchRepoStub(candidate)
	repo.sendingErr = errors.New("conn closed")
	sender := &senderStub{}
	d := newTestDispatcher(repo, sender, nil, nil)

	outcome, err := d.deliver(context.Background(), candidate, reminder, today, 7)
	assert.Equal(t, outcomeFailed, outcome)
	assert.ErrorIs(t, err, ErrDispatchTransient)
	assert.Empty(t, sender.sent)

	entry := repo.logFor(candidate.Subscription.ID)
	require.NotNil(t, entry)
	assert.Equal(t, domain.EmailStatusFailed, entry.Status)

	repo.sendingErr = nil
	outcome, err = d.deliver(context.Background(), candidate, reminder, today, 7)
	require.NoError(t, err)
	assert.Equal(t, outcomeSent, outcome)
	assert.Equal(t, []string{"owner@example.com"}, sender.sent)

	entry = repo.logFor(candidate.Subscription.ID)
	require.NotNil(t, entry)
	assert.Equal(t, domain.EmailStatusSent, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
}

func TestNotificationDedupeKey(t *testing.T) {
	subID := uuid.MustParse("3f1c9a8e-2b4d-4c6e-9f10-1a2b3c4d5e6f")
	reminderID := uuid.MustParse("8d7e6f5a-4b3c-4d2e-9f1a-0b9c8d7e6f5a")

	key := notificationDedupeKey(subID, reminderID, domain.NewDate(2025, time.June, 1))
	assert.Equal(t, "expiry_reminder:3f1c9a8e-2b4d-4c6e-9f10-1a2b3c4d5e6f:8d7e6f5a-4b3c-4d2e-9f1a-0b9c8d7e6f5a:2025-06-01", key)
}

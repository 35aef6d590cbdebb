package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/inquiry-dispatch/internal/domain"
	"github.com/kursadbilgin/inquiry-dispatch/internal/observability"
	"github.com/kursadbilgin/inquiry-dispatch/internal/provider"
	"github.com/kursadbilgin/inquiry-dispatch/internal/queue"
)

type fakeNotificationRepo struct {
	createBatchFn       func(ctx context.Context, jobs []*domain.NotificationJob) error
	getByIDFn           func(ctx context.Context, id string) (*domain.NotificationJob, error)
	listByInquiryFn     func(ctx context.Context, inquiryID string) ([]domain.NotificationJob, error)
	lockForSendingFn    func(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error)
	markSentFn          func(ctx context.Context, id string, lockedAt time.Time, attemptCount int, providerMsgID *string) error
	markFailedFn        func(ctx context.Context, id string, lockedAt time.Time, attemptCount int, lastError string) error
	scheduleRetryFn     func(ctx context.Context, id string, lockedAt time.Time, attemptCount int, next time.Time, lastError string) error
	markDispatchedFn    func(ctx context.Context, id string, at time.Time) error
	getDueForDispatchFn func(ctx context.Context, now time.Time, redispatchBefore time.Time, limit int) ([]domain.NotificationJob, error)
	recoverStaleFn      func(ctx context.Context, lockedBefore time.Time, now time.Time) (int64, error)
}

func (f *fakeNotificationRepo) CreateBatch(ctx context.Context, jobs []*domain.NotificationJob) error {
	if f.createBatchFn != nil {
		return f.createBatchFn(ctx, jobs)
	}
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) ListByInquiry(ctx context.Context, inquiryID string) ([]domain.NotificationJob, error) {
	if f.listByInquiryFn != nil {
		return f.listByInquiryFn(ctx, inquiryID)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) LockForSending(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error) {
	if f.lockForSendingFn != nil {
		return f.lockForSendingFn(ctx, id, now)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) MarkSent(ctx context.Context, id string, lockedAt time.Time, attemptCount int, providerMsgID *string) error {
	if f.markSentFn != nil {
		return f.markSentFn(ctx, id, lockedAt, attemptCount, providerMsgID)
	}
	return nil
}

func (f *fakeNotificationRepo) MarkFailed(ctx context.Context, id string, lockedAt time.Time, attemptCount int, lastError string) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, lockedAt, attemptCount, lastError)
	}
	return nil
}

func (f *fakeNotificationRepo) ScheduleRetry(ctx context.Context, id string, lockedAt time.Time, attemptCount int, next time.Time, lastError string) error {
	if f.scheduleRetryFn != nil {
		return f.scheduleRetryFn(ctx, id, lockedAt, attemptCount, next, lastError)
	}
	return nil
}

func (f *fakeNotificationRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	if f.markDispatchedFn != nil {
		return f.markDispatchedFn(ctx, id, at)
	}
	return nil
}

func (f *fakeNotificationRepo) GetDueForDispatch(ctx context.Context, now time.Time, redispatchBefore time.Time, limit int) ([]domain.NotificationJob, error) {
	if f.getDueForDispatchFn != nil {
		return f.getDueForDispatchFn(ctx, now, redispatchBefore, limit)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) RecoverStale(ctx context.Context, lockedBefore time.Time, now time.Time) (int64, error) {
	if f.recoverStaleFn != nil {
		return f.recoverStaleFn(ctx, lockedBefore, now)
	}
	return 0, nil
}

// memoryNotificationRepo mirrors the conditional transitions of the gorm
// repository so multi-step job lifecycles can be driven in tests. Like a
// query run through gorm's WithContext, writes fail once ctx is done.
type memoryNotificationRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.NotificationJob
}

func newMemoryNotificationRepo(jobs ...domain.NotificationJob) *memoryNotificationRepo {
	repo := &memoryNotificationRepo{jobs: make(map[string]*domain.NotificationJob, len(jobs))}
	for i := range jobs {
		job := jobs[i]
		repo.jobs[job.ID] = &job
	}
	return repo
}

func (m *memoryNotificationRepo) get(id string) domain.NotificationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memoryNotificationRepo) CreateBatch(ctx context.Context, jobs []*domain.NotificationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range jobs {
		for _, existing := range m.jobs {
			if existing.InquiryID == job.InquiryID && existing.Channel == job.Channel {
				return domain.ErrConflict
			}
		}
	}
	for _, job := range jobs {
		stored := *job
		m.jobs[job.ID] = &stored
	}
	return nil
}

func (m *memoryNotificationRepo) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memoryNotificationRepo) ListByInquiry(ctx context.Context, inquiryID string) ([]domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []domain.NotificationJob
	for _, job := range m.jobs {
		if job.InquiryID == inquiryID {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (m *memoryNotificationRepo) LockForSending(ctx context.Context, id string, now time.Time) (*domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status != domain.StatusQueued || job.NextAttemptAt.After(now) {
		return nil, nil
	}
	job.Status = domain.StatusSending
	lockedAt := now
	job.LockedAt = &lockedAt
	copied := *job
	return &copied, nil
}

func (m *memoryNotificationRepo) transition(ctx context.Context, id string, lockedAt time.Time, apply func(job *domain.NotificationJob)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != domain.StatusSending || job.LockedAt == nil || !job.LockedAt.Equal(lockedAt) {
		return domain.ErrConflict
	}
	apply(job)
	job.LockedAt = nil
	return nil
}

func (m *memoryNotificationRepo) MarkSent(ctx context.Context, id string, lockedAt time.Time, attemptCount int, providerMsgID *string) error {
	return m.transition(ctx, id, lockedAt, func(job *domain.NotificationJob) {
		job.Status = domain.StatusSent
		job.AttemptCount = attemptCount
		job.ProviderMessageID = providerMsgID
		job.LastError = nil
	})
}

func (m *memoryNotificationRepo) MarkFailed(ctx context.Context, id string, lockedAt time.Time, attemptCount int, lastError string) error {
	return m.transition(ctx, id, lockedAt, func(job *domain.NotificationJob) {
		job.Status = domain.StatusFailed
		job.AttemptCount = attemptCount
		job.LastError = &lastError
	})
}

func (m *memoryNotificationRepo) ScheduleRetry(ctx context.Context, id string, lockedAt time.Time, attemptCount int, next time.Time, lastError string) error {
	return m.transition(ctx, id, lockedAt, func(job *domain.NotificationJob) {
		job.Status = domain.StatusQueued
		job.AttemptCount = attemptCount
		job.NextAttemptAt = next
		job.LastError = &lastError
		job.DispatchedAt = nil
	})
}

func (m *memoryNotificationRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status != domain.StatusQueued {
		return domain.ErrConflict
	}
	dispatchedAt := at
	job.DispatchedAt = &dispatchedAt
	return nil
}

func (m *memoryNotificationRepo) GetDueForDispatch(ctx context.Context, now time.Time, redispatchBefore time.Time, limit int) ([]domain.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.NotificationJob
	for _, job := range m.jobs {
		if job.Status != domain.StatusQueued || job.NextAttemptAt.After(now) {
			continue
		}
		if job.DispatchedAt != nil && job.DispatchedAt.After(redispatchBefore) {
			continue
		}
		due = append(due, *job)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (m *memoryNotificationRepo) RecoverStale(ctx context.Context, lockedBefore time.Time, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recovered int64
	for _, job := range m.jobs {
		if job.Status != domain.StatusSending || job.LockedAt == nil || job.LockedAt.After(lockedBefore) {
			continue
		}
		job.Status = domain.StatusQueued
		job.NextAttemptAt = now
		job.DispatchedAt = nil
		job.LockedAt = nil
		recovered++
	}
	return recovered, nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	created  []domain.NotificationAttempt
	createFn func(ctx context.Context, a *domain.NotificationAttempt) error
	listFn   func(ctx context.Context, ids []string) (map[string][]domain.NotificationAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.NotificationAttempt) error {
	f.mu.Lock()
	f.created = append(f.created, *a)
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) ListByNotifications(ctx context.Context, ids []string) (map[string][]domain.NotificationAttempt, error) {
	if f.listFn != nil {
		return f.listFn(ctx, ids)
	}
	return map[string][]domain.NotificationAttempt{}, nil
}

type fakeInquiryRepo struct {
	createFn  func(ctx context.Context, inquiry *domain.Inquiry) error
	getByIDFn func(ctx context.Context, id string) (*domain.Inquiry, error)
}

func (f *fakeInquiryRepo) Create(ctx context.Context, inquiry *domain.Inquiry) error {
	if f.createFn != nil {
		return f.createFn(ctx, inquiry)
	}
	return nil
}

func (f *fakeInquiryRepo) GetByID(ctx context.Context, id string) (*domain.Inquiry, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	publishFn func(ctx context.Context, queueName string, msg queue.NotificationMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.NotificationMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published = append(f.published, queueName+":"+msg.NotificationID)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeProvider struct {
	channel domain.Channel
	mu      sync.Mutex
	calls   int
	sendFn  func(ctx context.Context, inquiry domain.Inquiry) (*provider.ProviderResponse, error)
}

func (f *fakeProvider) Channel() domain.Channel {
	return f.channel
}

func (f *fakeProvider) Send(ctx context.Context, inquiry domain.Inquiry) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, inquiry)
	}
	return &provider.ProviderResponse{StatusCode: 200, MessageID: "msg-1"}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRateLimiter struct {
	mu      sync.Mutex
	waitFn  func(ctx context.Context, channel domain.Channel) error
	paused  map[domain.Channel]time.Duration
	waitHit int
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel domain.Channel) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	f.mu.Lock()
	f.waitHit++
	f.mu.Unlock()
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

func (f *fakeRateLimiter) Pause(ctx context.Context, channel domain.Channel, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused == nil {
		f.paused = make(map[domain.Channel]time.Duration)
	}
	f.paused[channel] = d
	return nil
}

func testInquiry(id string) *domain.Inquiry {
	return &domain.Inquiry{
		ID:             id,
		Name:           "Ivan",
		Company:        "Acme",
		ProjectDetails: "Need a CRM",
		PhoneNumber:    "+79991234567",
		Email:          "ivan@acme.io",
		AgreedToTerms:  true,
	}
}

// assertMetricLine scrapes the registry and looks for an exact exposition line.
func assertMetricLine(t *testing.T, metrics *observability.Metrics, line string) {
	t.Helper()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, got := range strings.Split(rec.Body.String(), "\n") {
		if got == line {
			return
		}
	}
	t.Fatalf("metric line %q not found in scrape", line)
}

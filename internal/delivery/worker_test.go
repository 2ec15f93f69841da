package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"notification-engine/internal/catalog"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/delivery/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Implementations
// ==========================

type mockStore struct {
	NotificationByIDFunc         func(ctx context.Context, id string) (*catalog.Notification, error)
	FireByIDFunc                 func(ctx context.Context, id string) (*catalog.Fire, error)
	UpdateNotificationStatusFunc func(ctx context.Context, id string, status catalog.NotificationStatus) error
	LoadSettingsFunc             func(ctx context.Context) (*catalog.Settings, error)

	statusUpdates []catalog.NotificationStatus
}

func (m *mockStore) NotificationByID(ctx context.Context, id string) (*catalog.Notification, error) {
	return m.NotificationByIDFunc(ctx, id)
}

func (m *mockStore) FireByID(ctx context.Context, id string) (*catalog.Fire, error) {
	return m.FireByIDFunc(ctx, id)
}

func (m *mockStore) UpdateNotificationStatus(ctx context.Context, id string, status catalog.NotificationStatus) error {
	m.statusUpdates = append(m.statusUpdates, status)
	if m.UpdateNotificationStatusFunc != nil {
		return m.UpdateNotificationStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *mockStore) LoadSettings(ctx context.Context) (*catalog.Settings, error) {
	if m.LoadSettingsFunc != nil {
		return m.LoadSettingsFunc(ctx)
	}
	return &catalog.Settings{
		Name:          catalog.SettingsName,
		EmailTemplate: catalog.DefaultEmailTemplate,
	}, nil
}

type mockQueue struct {
	RetryAfterFunc func(ctx context.Context, job queue.Job, delay time.Duration) error

	retries []queue.Job
	delays  []time.Duration
}

func (m *mockQueue) RetryAfter(ctx context.Context, job queue.Job, delay time.Duration) error {
	m.retries = append(m.retries, job)
	m.delays = append(m.delays, delay)
	if m.RetryAfterFunc != nil {
		return m.RetryAfterFunc(ctx, job, delay)
	}
	return nil
}

func (m *mockQueue) Consume(ctx context.Context) <-chan queue.Job {
	ch := make(chan queue.Job)
	close(ch)
	return ch
}

type mockMailer struct {
	SendFunc func(ctx context.Context, to, subject, body string) error

	sent []string
}

func (m *mockMailer) Send(ctx context.Context, to, subject, body string) error {
	m.sent = append(m.sent, to)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, to, subject, body)
	}
	return nil
}

// ==========================
// Test Helper Functions
// ==========================

func testDeliveryConfig() config.DeliveryConfig {
	return config.DeliveryConfig{
		Workers:                1,
		MaxRetries:             3,
		RetryCountdown:         10 * time.Second,
		MarkFailedOnExhaustion: true,
	}
}

func pendingEmailNotification(id string) *catalog.Notification {
	recipient := "ana@example.com"
	kind := catalog.KindEmail
	return &catalog.Notification{
		ID:        id,
		FireID:    "fire-1",
		Recipient: &recipient,
		Kind:      &kind,
		Status:    catalog.StatusPending,
	}
}

func deliverableStore(n *catalog.Notification) *mockStore {
	return &mockStore{
		NotificationByIDFunc: func(_ context.Context, _ string) (*catalog.Notification, error) {
			return n, nil
		},
		FireByIDFunc: func(_ context.Context, _ string) (*catalog.Fire, error) {
			return &catalog.Fire{ID: "fire-1", Subject: "Welcome Ana", Message: "Hi Ana"}, nil
		},
	}
}

// ==========================
// Tests
// ==========================

func TestDeliverSuccess(t *testing.T) {
	n := pendingEmailNotification("n1")
	store := deliverableStore(n)
	q := &mockQueue{}
	var gotSubject, gotBody string
	m := &mockMailer{
		SendFunc: func(_ context.Context, _, subject, body string) error {
			gotSubject, gotBody = subject, body
			return nil
		},
	}

	w := NewWorker(store, q, m, testDeliveryConfig(), logger.NewNoOpLogger())
	err := w.Deliver(context.Background(), queue.Job{NotificationID: "n1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com"}, m.sent)
	assert.Equal(t, "Welcome Ana", gotSubject)
	assert.Equal(t, "Hi Ana", gotBody)
	assert.Equal(t, []catalog.NotificationStatus{catalog.StatusComplete}, store.statusUpdates)
	assert.Empty(t, q.retries)
}

func TestDeliverWrapsBodyInTemplate(t *testing.T) {
	n := pendingEmailNotification("n1")
	store := deliverableStore(n)
	store.LoadSettingsFunc = func(_ context.Context) (*catalog.Settings, error) {
		return &catalog.Settings{
			Name:          catalog.SettingsName,
			EmailTemplate: "<html><body>{{ message }}</body></html>",
		}, nil
	}
	var gotBody string
	m := &mockMailer{
		SendFunc: func(_ context.Context, _, _, body string) error {
			gotBody = body
			return nil
		},
	}

	w := NewWorker(store, &mockQueue{}, m, testDeliveryConfig(), logger.NewNoOpLogger())
	err := w.Deliver(context.Background(), queue.Job{NotificationID: "n1"})

	require.NoError(t, err)
	assert.Equal(t, "<html><body>Hi Ana</body></html>", gotBody)
}

func TestDeliverSkipsNonDeliverable(t *testing.T) {
	recipient := "ana@example.com"
	kindEmail := catalog.KindEmail

	tests := []struct {
		name         string
		notification *catalog.Notification
	}{
		{
			name: "already complete",
			notification: &catalog.Notification{
				ID: "n1", FireID: "fire-1",
				Recipient: &recipient, Kind: &kindEmail,
				Status: catalog.StatusComplete,
			},
		},
		{
			name: "terminal error state",
			notification: &catalog.Notification{
				ID: "n1", FireID: "fire-1",
				Recipient: &recipient, Kind: &kindEmail,
				Status: catalog.StatusError,
			},
		},
		{
			name: "in-app record without delivery kind",
			notification: &catalog.Notification{
				ID: "n1", FireID: "fire-1",
				UserIDs: []string{"u1"},
				Status:  catalog.StatusComplete,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := deliverableStore(tt.notification)
			q := &mockQueue{}
			m := &mockMailer{}

			w := NewWorker(store, q, m, testDeliveryConfig(), logger.NewNoOpLogger())
			err := w.Deliver(context.Background(), queue.Job{NotificationID: "n1"})

			require.NoError(t, err)
			assert.Empty(t, m.sent, "no transport call for non-deliverable notifications")
			assert.Empty(t, store.statusUpdates)
			assert.Empty(t, q.retries)
		})
	}
}

func TestDeliverFailureSchedulesRetry(t *testing.T) {
	n := pendingEmailNotification("n1")
	store := deliverableStore(n)
	q := &mockQueue{}
	m := &mockMailer{
		SendFunc: func(_ context.Context, _, _, _ string) error {
			return fmt.Errorf("connection refused")
		},
	}

	w := NewWorker(store, q, m, testDeliveryConfig(), logger.NewNoOpLogger())
	err := w.Deliver(context.Background(), queue.Job{NotificationID: "n1", Attempt: 0})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDeliverySendFailed))
	require.Len(t, q.retries, 1)
	assert.Equal(t, queue.Job{NotificationID: "n1", Attempt: 1}, q.retries[0])
	assert.Equal(t, 10*time.Second, q.delays[0])
	assert.Empty(t, store.statusUpdates, "status stays pending while retries remain")
}

func TestDeliverRetriesUpToMaxRetries(t *testing.T) {
	n := pendingEmailNotification("n1")
	store := deliverableStore(n)
	q := &mockQueue{}
	m := &mockMailer{
		SendFunc: func(_ context.Context, _, _, _ string) error {
			return fmt.Errorf("connection refused")
		},
	}

	w := NewWorker(store, q, m, testDeliveryConfig(), logger.NewNoOpLogger())
	// The job carrying Attempt 2 still gets the third and final retry.
	err := w.Deliver(context.Background(), queue.Job{NotificationID: "n1", Attempt: 2})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDeliverySendFailed))
	require.Len(t, q.retries, 1)
	assert.Equal(t, queue.Job{NotificationID: "n1", Attempt: 3}, q.retries[0])
	assert.Empty(t, store.statusUpdates)
}

func TestDeliverExhaustionMarksError(t *testing.T) {
	n := pendingEmailNotification("n1")
	store := deliverableStore(n)
	q := &mockQueue{}
	m := &mockMailer{
		SendFunc: func(_ context.Context, _, _, _ string) error {
			return fmt.Errorf("connection refused")
		},
	}

	w := NewWorker(store, q, m, testDeliveryConfig(), logger.NewNoOpLogger())
	// MaxRetries 3 allows the initial attempt plus three retries, so the job
	// carrying Attempt 3 is the last one executed.
	err := w.Deliver(context.Background(), queue.Job{NotificationID: "n1", Attempt: 3})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRetryExhausted))
	assert.Empty(t, q.retries)
	assert.Equal(t, []catalog.NotificationStatus{catalog.StatusError}, store.statusUpdates)
}

func TestDeliverExhaustionWithoutMarking(t *testing.T) {
	n := pendingEmailNotification("n1")
	store := deliverableStore(n)
	m := &mockMailer{
		SendFunc: func(_ context.Context, _, _, _ string) error {
			return fmt.Errorf("connection refused")
		},
	}
	cfg := testDeliveryConfig()
	cfg.MarkFailedOnExhaustion = false

	w := NewWorker(store, &mockQueue{}, m, cfg, logger.NewNoOpLogger())
	err := w.Deliver(context.Background(), queue.Job{NotificationID: "n1", Attempt: 3})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRetryExhausted))
	assert.Empty(t, store.statusUpdates, "notification stays pending when marking is disabled")
}

func TestDeliverRetryScheduleFailure(t *testing.T) {
	n := pendingEmailNotification("n1")
	store := deliverableStore(n)
	q := &mockQueue{
		RetryAfterFunc: func(_ context.Context, _ queue.Job, _ time.Duration) error {
			return fmt.Errorf("redis down")
		},
	}
	m := &mockMailer{
		SendFunc: func(_ context.Context, _, _, _ string) error {
			return fmt.Errorf("connection refused")
		},
	}

	w := NewWorker(store, q, m, testDeliveryConfig(), logger.NewNoOpLogger())
	err := w.Deliver(context.Background(), queue.Job{NotificationID: "n1"})

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueueOperationFailed))
}

package engine

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"notification-engine/internal/catalog"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/descriptor"
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	EventBySlug(ctx context.Context, slug string) (*catalog.Event, error)
	ParametersByEvent(ctx context.Context, eventID string) ([]catalog.Parameter, error)
	ConfigsByEvent(ctx context.Context, eventID string) ([]catalog.NotificationConfig, error)
	RecipientsByConfig(ctx context.Context, configID string) ([]catalog.RecipientSpec, error)
	FilesByConfig(ctx context.Context, configID string) ([]catalog.FileSpec, error)
	CreateFanout(ctx context.Context, fire *catalog.Fire, notifications []*catalog.Notification) error
	GroupMembersBulk(ctx context.Context, groupIDs []string) ([]string, error)
}

// Queue hands pending email notifications to the asynchronous delivery side.
type Queue interface {
	Enqueue(ctx context.Context, notificationID string) error
}

// Archiver receives persisted fires for operational search. Indexing is best
// effort and never fails a firing.
type Archiver interface {
	IndexFire(ctx context.Context, fire *catalog.Fire) error
}

// ConfigResult is the per-NotificationConfig outcome of one event firing.
type ConfigResult struct {
	ConfigID      string
	ConfigName    string
	FireID        string
	Notifications int
	Enqueued      int
	Err           error
}

// FireResult reports what a firing produced. One config's failure does not
// roll back another already-committed config.
type FireResult struct {
	EventSlug string
	Configs   []ConfigResult
}

// Failed returns the per-config outcomes that carry an error.
func (r *FireResult) Failed() []ConfigResult {
	var failed []ConfigResult
	for _, c := range r.Configs {
		if c.Err != nil {
			failed = append(failed, c)
		}
	}
	return failed
}

// Dispatcher coordinates expansion, rendering, resolution and fan-out for a
// firing event. It runs synchronously in the caller's call; the only
// asynchronous boundary is the delivery queue.
type Dispatcher struct {
	store    Store
	registry *descriptor.Registry
	resolver *Resolver
	queue    Queue
	archiver Archiver
	logger   logger.Logger
}

func NewDispatcher(store Store, registry *descriptor.Registry, queue Queue, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		resolver: NewResolver(store),
		queue:    queue,
		logger:   log,
	}
}

// WithArchiver attaches an optional fire archiver.
func (d *Dispatcher) WithArchiver(a Archiver) *Dispatcher {
	d.archiver = a
	return d
}

// FireEvent fires the event identified by slug with caller-supplied parameter
// values keyed by declared parameter name. Every declared parameter must be
// supplied; a missing value fails the whole call before anything persists.
// Success means all Fire/Notification rows are durable and delivery jobs are
// enqueued; it does not wait for mail transport.
func (d *Dispatcher) FireEvent(ctx context.Context, slug string, params map[string]interface{}) (*FireResult, error) {
	event, err := d.store.EventBySlug(ctx, slug)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewConfigurationMismatchError(
				fmt.Sprintf("no event with slug %q", slug))
		}
		return nil, errors.NewPersistenceFailedError(err)
	}

	declared, err := d.store.ParametersByEvent(ctx, event.ID)
	if err != nil {
		return nil, errors.NewPersistenceFailedError(err)
	}

	data := make(map[string]interface{}, len(declared))
	for _, param := range declared {
		value, ok := params[param.Name]
		if !ok {
			return nil, errors.NewConfigurationMismatchError(
				fmt.Sprintf("event %s needs a value for parameter %q", event.Slug, param.Name))
		}
		serialized, err := d.registry.Serialize(param.Descriptor, value)
		if err != nil {
			return nil, err
		}
		data[param.Name] = serialized
	}

	flat := ExpandParams(data, "")

	configs, err := d.store.ConfigsByEvent(ctx, event.ID)
	if err != nil {
		return nil, errors.NewPersistenceFailedError(err)
	}

	result := &FireResult{EventSlug: event.Slug}
	for _, config := range configs {
		cr := d.fireConfig(ctx, &config, flat)
		result.Configs = append(result.Configs, cr)
		if cr.Err != nil {
			metrics.EventsFired.WithLabelValues(event.Slug, "error").Inc()
			d.logger.Error("notification config fan-out failed", map[string]interface{}{
				"event":  event.Slug,
				"config": config.Name,
				"error":  cr.Err,
			})
		} else {
			metrics.EventsFired.WithLabelValues(event.Slug, "ok").Inc()
		}
	}
	return result, nil
}

// fireConfig runs one NotificationConfig through rendering, resolution,
// persistence and fan-out. The Fire and its Notification rows commit in one
// transaction; enqueueing happens only after commit.
func (d *Dispatcher) fireConfig(ctx context.Context, config *catalog.NotificationConfig, flat FlatParams) ConfigResult {
	cr := ConfigResult{ConfigID: config.ID, ConfigName: config.Name}

	specs, err := d.store.RecipientsByConfig(ctx, config.ID)
	if err != nil {
		cr.Err = errors.NewPersistenceFailedError(err)
		return cr
	}
	fileSpecs, err := d.store.FilesByConfig(ctx, config.ID)
	if err != nil {
		cr.Err = errors.NewPersistenceFailedError(err)
		return cr
	}

	recipients, err := d.resolver.Resolve(ctx, specs, flat)
	if err != nil {
		cr.Err = errors.NewPersistenceFailedError(err)
		return cr
	}

	fire := &catalog.Fire{
		ConfigID: config.ID,
		Subject:  Render(config.Subject, flat),
		Message:  Render(config.Message, flat),
		Files:    ResolveFiles(fileSpecs, flat),
	}

	var notifications []*catalog.Notification
	var pendingEmails []*catalog.Notification

	for _, email := range recipients.Emails {
		email := email
		kind := catalog.KindEmail
		n := &catalog.Notification{
			Recipient: &email,
			Kind:      &kind,
			Status:    catalog.StatusPending,
		}
		notifications = append(notifications, n)
		pendingEmails = append(pendingEmails, n)
	}

	if config.Collective {
		// Every resolved user owns the same record; visible in-app, no send.
		notifications = append(notifications, &catalog.Notification{
			UserIDs: recipients.Users,
			Status:  catalog.StatusComplete,
		})
	} else {
		for _, userID := range recipients.Users {
			notifications = append(notifications, &catalog.Notification{
				UserIDs: []string{userID},
				Status:  catalog.StatusComplete,
			})
		}
	}

	if err := d.store.CreateFanout(ctx, fire, notifications); err != nil {
		cr.Err = errors.NewPersistenceFailedError(err)
		return cr
	}

	cr.FireID = fire.ID
	cr.Notifications = len(notifications)
	metrics.NotificationsCreated.WithLabelValues("email").Add(float64(len(pendingEmails)))
	if config.Collective {
		metrics.NotificationsCreated.WithLabelValues("collective").Inc()
	} else {
		metrics.NotificationsCreated.WithLabelValues("user").Add(float64(len(recipients.Users)))
	}

	for _, n := range pendingEmails {
		if err := d.queue.Enqueue(ctx, n.ID); err != nil {
			cr.Err = errors.NewQueueOperationFailedError("enqueue", err)
			return cr
		}
		cr.Enqueued++
	}

	if d.archiver != nil {
		if err := d.archiver.IndexFire(ctx, fire); err != nil {
			d.logger.Warn("fire archive indexing failed", map[string]interface{}{
				"fireId": fire.ID,
				"error":  err,
			})
		}
	}

	return cr
}

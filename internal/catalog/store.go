package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store is the Postgres-backed persistence layer. Default reads filter rows
// flagged with the logical-delete marker (is_erased).
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ==========================
// Configuration reads
// ==========================

func (s *Store) EventBySlug(ctx context.Context, slug string) (*Event, error) {
	var ev Event
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, category_id, created_at, updated_at
		FROM events
		WHERE slug = $1 AND is_erased = FALSE`, slug).Scan(
		&ev.ID, &ev.Slug, &ev.Name, &ev.Description, &ev.CategoryID,
		&ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) ParametersByEvent(ctx context.Context, eventID string) ([]Parameter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, name, human_name, descriptor, created_at, updated_at
		FROM parameters
		WHERE event_id = $1 AND is_erased = FALSE
		ORDER BY created_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []Parameter
	for rows.Next() {
		var p Parameter
		if err := rows.Scan(&p.ID, &p.EventID, &p.Name, &p.HumanName,
			&p.Descriptor, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, rows.Err()
}

func (s *Store) ConfigsByEvent(ctx context.Context, eventID string) ([]NotificationConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, name, description, type, collective, subject, message,
		       created_at, updated_at
		FROM notification_configs
		WHERE event_id = $1 AND is_erased = FALSE
		ORDER BY created_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []NotificationConfig
	for rows.Next() {
		var c NotificationConfig
		if err := rows.Scan(&c.ID, &c.EventID, &c.Name, &c.Description, &c.Type,
			&c.Collective, &c.Subject, &c.Message, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (s *Store) RecipientsByConfig(ctx context.Context, configID string) ([]RecipientSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_id, kind, recipient
		FROM recipient_specs
		WHERE config_id = $1 AND is_erased = FALSE
		ORDER BY created_at`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []RecipientSpec
	for rows.Next() {
		var r RecipientSpec
		if err := rows.Scan(&r.ID, &r.ConfigID, &r.Kind, &r.Recipient); err != nil {
			return nil, err
		}
		specs = append(specs, r)
	}
	return specs, rows.Err()
}

func (s *Store) FilesByConfig(ctx context.Context, configID string) ([]FileSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_id, file
		FROM file_specs
		WHERE config_id = $1 AND is_erased = FALSE
		ORDER BY created_at`, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specs []FileSpec
	for rows.Next() {
		var f FileSpec
		if err := rows.Scan(&f.ID, &f.ConfigID, &f.File); err != nil {
			return nil, err
		}
		specs = append(specs, f)
	}
	return specs, rows.Err()
}

// ==========================
// Configuration writes (admin / declarative sync)
// ==========================

func (s *Store) GetOrCreateCategory(ctx context.Context, slug string) (*Category, error) {
	now := time.Now().UTC()
	var c Category
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (id, slug, name, created_at, updated_at)
		VALUES ($1, $2, $2, $3, $3)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, slug, name, created_at, updated_at`,
		uuid.New().String(), slug, now).Scan(
		&c.ID, &c.Slug, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = $2, updated_at = $3 WHERE id = $1`,
		id, name, time.Now().UTC())
	return err
}

func (s *Store) GetOrCreateEvent(ctx context.Context, categoryID, slug string) (*Event, error) {
	now := time.Now().UTC()
	var ev Event
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO events (id, slug, name, description, category_id, created_at, updated_at)
		VALUES ($1, $2, $2, '', $3, $4, $4)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id, slug, name, description, category_id, created_at, updated_at`,
		uuid.New().String(), slug, categoryID, now).Scan(
		&ev.ID, &ev.Slug, &ev.Name, &ev.Description, &ev.CategoryID,
		&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Store) UpdateEvent(ctx context.Context, id, name, description string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET name = $2, description = $3, updated_at = $4 WHERE id = $1`,
		id, name, description, time.Now().UTC())
	return err
}

func (s *Store) GetOrCreateParameter(ctx context.Context, eventID, name string) (*Parameter, error) {
	now := time.Now().UTC()
	var p Parameter
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO parameters (id, event_id, name, human_name, descriptor, created_at, updated_at)
		VALUES ($1, $2, $3, $3, '', $4, $4)
		ON CONFLICT (event_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, event_id, name, human_name, descriptor, created_at, updated_at`,
		uuid.New().String(), eventID, name, now).Scan(
		&p.ID, &p.EventID, &p.Name, &p.HumanName, &p.Descriptor,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateParameter(ctx context.Context, id, humanName, descriptor string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE parameters SET human_name = $2, descriptor = $3, updated_at = $4 WHERE id = $1`,
		id, humanName, descriptor, time.Now().UTC())
	return err
}

func (s *Store) CreateNotificationConfig(ctx context.Context, c *NotificationConfig) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Type == "" {
		c.Type = "email"
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_configs
			(id, event_id, name, description, type, collective, subject, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		c.ID, c.EventID, c.Name, c.Description, c.Type, c.Collective,
		c.Subject, c.Message, now)
	return err
}

func (s *Store) CreateRecipientSpec(ctx context.Context, r *RecipientSpec) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipient_specs (id, config_id, kind, recipient, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		r.ID, r.ConfigID, r.Kind, r.Recipient, time.Now().UTC())
	return err
}

func (s *Store) CreateFileSpec(ctx context.Context, f *FileSpec) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_specs (id, config_id, file, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		f.ID, f.ConfigID, f.File, time.Now().UTC())
	return err
}

// EraseNotificationConfig performs the logical delete; its dependents stop
// resolving through default reads while history stays intact.
func (s *Store) EraseNotificationConfig(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_configs SET is_erased = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	return err
}

func (s *Store) EraseEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET is_erased = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	return err
}

// ==========================
// Fact writes (fire time)
// ==========================

// CreateFanout persists one Fire and its Notification records in a single
// transaction, so a crash cannot leave an orphan Fire behind.
func (s *Store) CreateFanout(ctx context.Context, fire *Fire, notifications []*Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if fire.ID == "" {
		fire.ID = uuid.New().String()
	}
	fire.CreatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fires (id, config_id, subject, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		fire.ID, fire.ConfigID, fire.Subject, fire.Message, fire.CreatedAt); err != nil {
		return fmt.Errorf("insert fire: %w", err)
	}

	for _, path := range fire.Files {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fire_files (id, fire_id, path) VALUES ($1, $2, $3)`,
			uuid.New().String(), fire.ID, path); err != nil {
			return fmt.Errorf("insert fire file: %w", err)
		}
	}

	now := time.Now().UTC()
	for _, n := range notifications {
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		n.FireID = fire.ID
		n.CreatedAt = now
		n.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications
				(id, fire_id, recipient, kind, status, is_read, is_important, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			n.ID, n.FireID, n.Recipient, n.Kind, n.Status,
			n.IsRead, n.IsImportant, now); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}

		for _, userID := range n.UserIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO notification_users (notification_id, user_id) VALUES ($1, $2)`,
				n.ID, userID); err != nil {
				return fmt.Errorf("insert notification user: %w", err)
			}
		}
	}

	return tx.Commit()
}

// ==========================
// Fact reads and transitions (delivery, inbox)
// ==========================

func (s *Store) NotificationByID(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	err := s.db.QueryRowContext(ctx, `
		SELECT id, fire_id, recipient, kind, status, is_read, is_important, created_at, updated_at
		FROM notifications
		WHERE id = $1`, id).Scan(
		&n.ID, &n.FireID, &n.Recipient, &n.Kind, &n.Status,
		&n.IsRead, &n.IsImportant, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM notification_users WHERE notification_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		n.UserIDs = append(n.UserIDs, userID)
	}
	return &n, rows.Err()
}

func (s *Store) FireByID(ctx context.Context, id string) (*Fire, error) {
	var f Fire
	err := s.db.QueryRowContext(ctx, `
		SELECT id, config_id, subject, message, created_at
		FROM fires
		WHERE id = $1`, id).Scan(&f.ID, &f.ConfigID, &f.Subject, &f.Message, &f.CreatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT path FROM fire_files WHERE fire_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		f.Files = append(f.Files, path)
	}
	return &f, rows.Err()
}

// StalePendingEmailNotifications lists email notifications that have sat
// pending longer than age, oldest first. Rows whose enqueue was interrupted
// after the fan-out committed land here.
func (s *Store) StalePendingEmailNotifications(ctx context.Context, age time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM notifications
		WHERE kind = $1 AND status = $2 AND created_at < $3
		ORDER BY created_at`,
		KindEmail, StatusPending, time.Now().UTC().Add(-age))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, id string, status NotificationStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	return err
}

func (s *Store) MarkRead(ctx context.Context, id string, read bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = $2, updated_at = $3 WHERE id = $1`,
		id, read, time.Now().UTC())
	return err
}

func (s *Store) MarkImportant(ctx context.Context, id string, important bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_important = $2, updated_at = $3 WHERE id = $1`,
		id, important, time.Now().UTC())
	return err
}

// NotificationsForUser lists the inbox entries targeting a user, newest first.
func (s *Store) NotificationsForUser(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.fire_id, n.recipient, n.kind, n.status, n.is_read, n.is_important,
		       n.created_at, n.updated_at
		FROM notifications n
		JOIN notification_users nu ON nu.notification_id = n.id
		WHERE nu.user_id = $1
		ORDER BY n.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.FireID, &n.Recipient, &n.Kind, &n.Status,
			&n.IsRead, &n.IsImportant, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ==========================
// User directory
// ==========================

// GroupMembersBulk returns the user IDs belonging to any of the groups in
// one round trip.
func (s *Store) GroupMembersBulk(ctx context.Context, groupIDs []string) ([]string, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM user_groups WHERE group_id = ANY($1)`, pq.Array(groupIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// ==========================
// Global settings
// ==========================

// LoadSettings returns the single named settings row, initializing it on
// first access. There is no delete path.
func (s *Store) LoadSettings(ctx context.Context) (*Settings, error) {
	var st Settings
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO settings (name, email_template, from_email)
		VALUES ($1, $2, '')
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING name, email_template, from_email`,
		SettingsName, DefaultEmailTemplate).Scan(
		&st.Name, &st.EmailTemplate, &st.FromEmail)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) SaveSettings(ctx context.Context, st *Settings) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE settings SET email_template = $2, from_email = $3 WHERE name = $1`,
		SettingsName, st.EmailTemplate, st.FromEmail)
	return err
}

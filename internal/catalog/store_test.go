package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestEventBySlug(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, slug, name, description, category_id, created_at, updated_at").
		WithArgs("user_registered").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "slug", "name", "description", "category_id", "created_at", "updated_at"}).
			AddRow("ev1", "user_registered", "User registered", "", "cat1", now, now))

	ev, err := store.EventBySlug(context.Background(), "user_registered")

	require.NoError(t, err)
	assert.Equal(t, "ev1", ev.ID)
	assert.Equal(t, "user_registered", ev.Slug)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventBySlugNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, slug, name, description, category_id, created_at, updated_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.EventBySlug(context.Background(), "missing")

	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecipientsByConfig(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, config_id, kind, recipient").
		WithArgs("cfg1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "config_id", "kind", "recipient"}).
			AddRow("r1", "cfg1", "email", "user.email").
			AddRow("r2", "cfg1", "group", "team.id"))

	specs, err := store.RecipientsByConfig(context.Background(), "cfg1")

	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, KindEmail, specs[0].Kind)
	assert.Equal(t, "team.id", specs[1].Recipient)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFanout(t *testing.T) {
	store, mock := newMockStore(t)

	recipient := "ana@example.com"
	kind := KindEmail
	fire := &Fire{ConfigID: "cfg1", Subject: "s", Message: "m", Files: []string{"/tmp/a.pdf"}}
	notifications := []*Notification{
		{Recipient: &recipient, Kind: &kind, Status: StatusPending},
		{UserIDs: []string{"u1", "u2"}, Status: StatusComplete},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fires").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO fire_files").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notification_users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notification_users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.CreateFanout(context.Background(), fire, notifications)

	require.NoError(t, err)
	assert.NotEmpty(t, fire.ID)
	for _, n := range notifications {
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, fire.ID, n.FireID)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFanoutRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	fire := &Fire{ConfigID: "cfg1"}
	notifications := []*Notification{{Status: StatusComplete}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fires").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notifications").
		WillReturnError(fmt.Errorf("constraint violation"))
	mock.ExpectRollback()

	err := store.CreateFanout(context.Background(), fire, notifications)

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationByIDLoadsUsers(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, fire_id, recipient, kind, status").
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "fire_id", "recipient", "kind", "status", "is_read", "is_important", "created_at", "updated_at"}).
			AddRow("n1", "fire-1", nil, nil, "complete", false, false, now, now))
	mock.ExpectQuery("SELECT user_id FROM notification_users").
		WithArgs("n1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	n, err := store.NotificationByID(context.Background(), "n1")

	require.NoError(t, err)
	assert.Nil(t, n.Recipient)
	assert.Equal(t, StatusComplete, n.Status)
	assert.Equal(t, []string{"u1", "u2"}, n.UserIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNotificationStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE notifications SET status").
		WithArgs("n1", StatusComplete, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateNotificationStatus(context.Background(), "n1", StatusComplete)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStalePendingEmailNotifications(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id FROM notifications").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("n1").AddRow("n2"))

	ids, err := store.StalePendingEmailNotifications(context.Background(), time.Minute)

	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupMembersBulk(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT user_id FROM user_groups WHERE group_id = ANY").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2").AddRow("u3"))

	members, err := store.GroupMembersBulk(context.Background(), []string{"g1", "g2"})

	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, members)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupMembersBulkEmptyInput(t *testing.T) {
	store, _ := newMockStore(t)

	members, err := store.GroupMembersBulk(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, members)
}

func TestNotificationsForUser(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("JOIN notification_users nu ON").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "fire_id", "recipient", "kind", "status", "is_read", "is_important", "created_at", "updated_at"}).
			AddRow("n2", "fire-2", nil, nil, "complete", false, true, now, now).
			AddRow("n1", "fire-1", nil, nil, "complete", true, false, now.Add(-time.Hour), now))

	out, err := store.NotificationsForUser(context.Background(), "u1")

	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "n2", out[0].ID)
	assert.True(t, out[0].IsImportant)
	assert.True(t, out[1].IsRead)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadAndImportant(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE notifications SET is_read").
		WithArgs("n1", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE notifications SET is_important").
		WithArgs("n1", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkRead(context.Background(), "n1", true))
	require.NoError(t, store.MarkImportant(context.Background(), "n1", true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSettingsInitializesRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO settings").
		WithArgs(SettingsName, DefaultEmailTemplate).
		WillReturnRows(sqlmock.NewRows([]string{"name", "email_template", "from_email"}).
			AddRow(SettingsName, DefaultEmailTemplate, ""))

	st, err := store.LoadSettings(context.Background())

	require.NoError(t, err)
	assert.Equal(t, DefaultEmailTemplate, st.EmailTemplate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEraseNotificationConfig(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE notification_configs SET is_erased = TRUE").
		WithArgs("cfg1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.EraseNotificationConfig(context.Background(), "cfg1")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

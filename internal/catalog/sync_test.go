package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"notification-engine/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSyncStore keeps the reconciled catalog in memory and records the update
// calls the reconciler makes.
type fakeSyncStore struct {
	categories map[string]*Category
	events     map[string]*Event
	parameters map[string]*Parameter

	updates []string
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{
		categories: make(map[string]*Category),
		events:     make(map[string]*Event),
		parameters: make(map[string]*Parameter),
	}
}

func (f *fakeSyncStore) GetOrCreateCategory(_ context.Context, slug string) (*Category, error) {
	if c, ok := f.categories[slug]; ok {
		return c, nil
	}
	c := &Category{ID: "cat-" + slug, Slug: slug, Name: slug}
	f.categories[slug] = c
	return c, nil
}

func (f *fakeSyncStore) UpdateCategory(_ context.Context, id, name string) error {
	for _, c := range f.categories {
		if c.ID == id {
			c.Name = name
		}
	}
	f.updates = append(f.updates, "category:"+id)
	return nil
}

func (f *fakeSyncStore) GetOrCreateEvent(_ context.Context, categoryID, slug string) (*Event, error) {
	if e, ok := f.events[slug]; ok {
		return e, nil
	}
	e := &Event{ID: "ev-" + slug, Slug: slug, Name: slug, CategoryID: categoryID}
	f.events[slug] = e
	return e, nil
}

func (f *fakeSyncStore) UpdateEvent(_ context.Context, id, name, description string) error {
	for _, e := range f.events {
		if e.ID == id {
			e.Name = name
			e.Description = description
		}
	}
	f.updates = append(f.updates, "event:"+id)
	return nil
}

func (f *fakeSyncStore) GetOrCreateParameter(_ context.Context, eventID, name string) (*Parameter, error) {
	key := eventID + "/" + name
	if p, ok := f.parameters[key]; ok {
		return p, nil
	}
	p := &Parameter{ID: "p-" + key, EventID: eventID, Name: name, HumanName: name}
	f.parameters[key] = p
	return p, nil
}

func (f *fakeSyncStore) UpdateParameter(_ context.Context, id, humanName, descriptor string) error {
	for _, p := range f.parameters {
		if p.ID == id {
			p.HumanName = humanName
			p.Descriptor = descriptor
		}
	}
	f.updates = append(f.updates, "parameter:"+id)
	return nil
}

func testDocument() *Document {
	return &Document{
		Categories: map[string]CategoryDoc{
			"accounts": {
				Name: "Accounts",
				Events: map[string]EventDoc{
					"user_registered": {
						Name:        "User registered",
						Description: "A new user completed sign-up.",
						Parameters: map[string]ParameterDoc{
							"user": {HumanName: "User", Descriptor: "scalar"},
						},
					},
				},
			},
		},
	}
}

func TestSyncCreatesCatalog(t *testing.T) {
	store := newFakeSyncStore()

	err := Sync(context.Background(), store, testDocument())

	require.NoError(t, err)
	assert.Equal(t, "Accounts", store.categories["accounts"].Name)
	assert.Equal(t, "User registered", store.events["user_registered"].Name)

	param := store.parameters["ev-user_registered/user"]
	require.NotNil(t, param)
	assert.Equal(t, "User", param.HumanName)
	assert.Equal(t, "scalar", param.Descriptor)
}

func TestSyncIsIdempotent(t *testing.T) {
	store := newFakeSyncStore()
	doc := testDocument()

	require.NoError(t, Sync(context.Background(), store, doc))
	firstUpdates := len(store.updates)

	require.NoError(t, Sync(context.Background(), store, doc))

	assert.Equal(t, firstUpdates, len(store.updates),
		"a second sync of an unchanged document must not issue updates")
}

func TestSyncUpdatesChangedFields(t *testing.T) {
	store := newFakeSyncStore()
	doc := testDocument()
	require.NoError(t, Sync(context.Background(), store, doc))
	store.updates = nil

	changed := testDocument()
	cat := changed.Categories["accounts"]
	cat.Name = "Accounts & Identity"
	changed.Categories["accounts"] = cat

	require.NoError(t, Sync(context.Background(), store, changed))

	assert.Equal(t, []string{"category:cat-accounts"}, store.updates)
	assert.Equal(t, "Accounts & Identity", store.categories["accounts"].Name)
}

func TestSyncDefaultsHumanNameToParameterName(t *testing.T) {
	store := newFakeSyncStore()
	doc := &Document{
		Categories: map[string]CategoryDoc{
			"billing": {
				Name: "Billing",
				Events: map[string]EventDoc{
					"invoice_issued": {
						Name: "Invoice issued",
						Parameters: map[string]ParameterDoc{
							"invoice": {Descriptor: "scalar"},
						},
					},
				},
			},
		},
	}

	require.NoError(t, Sync(context.Background(), store, doc))

	param := store.parameters["ev-invoice_issued/invoice"]
	require.NotNil(t, param)
	assert.Equal(t, "invoice", param.HumanName)
}

func TestLoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `categories:
  accounts:
    name: Accounts
    events:
      user_registered:
        name: User registered
        parameters:
          user:
            human_name: User
            descriptor: scalar
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := LoadDocument(path)

	require.NoError(t, err)
	require.Contains(t, doc.Categories, "accounts")
	event := doc.Categories["accounts"].Events["user_registered"]
	assert.Equal(t, "User registered", event.Name)
	assert.Equal(t, "scalar", event.Parameters["user"].Descriptor)
}

func TestLoadDocumentRejectsInvalidShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	// Category without a name, parameter without a descriptor.
	content := `categories:
  accounts:
    events:
      user_registered:
        name: User registered
        parameters:
          user:
            human_name: User
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadDocument(path)

	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigurationMismatch))
}

func TestLoadDocumentMissingFile(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

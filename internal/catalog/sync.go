package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"

	"notification-engine/internal/common/errors"
)

// Document is the declarative notification catalog: categories, their events
// and the parameters each event declares. It is reconciled into the store
// idempotently; firing never creates configuration as a side effect.
type Document struct {
	Categories map[string]CategoryDoc `mapstructure:"categories" json:"categories"`
}

type CategoryDoc struct {
	Name   string              `mapstructure:"name" json:"name"`
	Events map[string]EventDoc `mapstructure:"events" json:"events"`
}

type EventDoc struct {
	Name        string                  `mapstructure:"name" json:"name"`
	Description string                  `mapstructure:"description" json:"description"`
	Parameters  map[string]ParameterDoc `mapstructure:"parameters" json:"parameters"`
}

type ParameterDoc struct {
	HumanName  string `mapstructure:"human_name" json:"human_name"`
	Descriptor string `mapstructure:"descriptor" json:"descriptor"`
}

// documentSchema validates the shape of the declarative document before any
// row is touched.
const documentSchema = `{
	"type": "object",
	"required": ["categories"],
	"properties": {
		"categories": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"events": {
						"type": "object",
						"additionalProperties": {
							"type": "object",
							"required": ["name"],
							"properties": {
								"name": {"type": "string", "minLength": 1},
								"description": {"type": "string"},
								"parameters": {
									"type": "object",
									"additionalProperties": {
										"type": "object",
										"required": ["descriptor"],
										"properties": {
											"human_name": {"type": "string"},
											"descriptor": {"type": "string", "minLength": 1}
										}
									}
								}
							}
						}
					}
				}
			}
		}
	}
}`

// SyncStore is the slice of the store the reconciler needs.
type SyncStore interface {
	GetOrCreateCategory(ctx context.Context, slug string) (*Category, error)
	UpdateCategory(ctx context.Context, id, name string) error
	GetOrCreateEvent(ctx context.Context, categoryID, slug string) (*Event, error)
	UpdateEvent(ctx context.Context, id, name, description string) error
	GetOrCreateParameter(ctx context.Context, eventID, name string) (*Parameter, error)
	UpdateParameter(ctx context.Context, id, humanName, descriptor string) error
}

// LoadDocument reads and validates the declarative catalog from a yaml file.
func LoadDocument(path string) (*Document, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog document: %w", err)
	}

	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("encode catalog document: %w", err)
	}
	if err := validateDocument(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog document: %w", err)
	}
	return &doc, nil
}

func validateDocument(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validate catalog document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.NewConfigurationMismatchError(
			"catalog document invalid: " + strings.Join(msgs, "; "))
	}
	return nil
}

// Sync reconciles the document into the store: create-if-missing,
// update-if-changed. Safe to run repeatedly.
func Sync(ctx context.Context, store SyncStore, doc *Document) error {
	for categorySlug, categoryDoc := range doc.Categories {
		category, err := store.GetOrCreateCategory(ctx, categorySlug)
		if err != nil {
			return fmt.Errorf("category %s: %w", categorySlug, err)
		}
		if category.Name != categoryDoc.Name {
			if err := store.UpdateCategory(ctx, category.ID, categoryDoc.Name); err != nil {
				return fmt.Errorf("category %s: %w", categorySlug, err)
			}
		}

		for eventSlug, eventDoc := range categoryDoc.Events {
			event, err := store.GetOrCreateEvent(ctx, category.ID, eventSlug)
			if err != nil {
				return fmt.Errorf("event %s: %w", eventSlug, err)
			}
			if event.Name != eventDoc.Name || event.Description != eventDoc.Description {
				if err := store.UpdateEvent(ctx, event.ID, eventDoc.Name, eventDoc.Description); err != nil {
					return fmt.Errorf("event %s: %w", eventSlug, err)
				}
			}

			for paramName, paramDoc := range eventDoc.Parameters {
				param, err := store.GetOrCreateParameter(ctx, event.ID, paramName)
				if err != nil {
					return fmt.Errorf("parameter %s.%s: %w", eventSlug, paramName, err)
				}
				humanName := paramDoc.HumanName
				if humanName == "" {
					humanName = paramName
				}
				if param.HumanName != humanName || param.Descriptor != paramDoc.Descriptor {
					if err := store.UpdateParameter(ctx, param.ID, humanName, paramDoc.Descriptor); err != nil {
						return fmt.Errorf("parameter %s.%s: %w", eventSlug, paramName, err)
					}
				}
			}
		}
	}
	return nil
}

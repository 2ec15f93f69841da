// Package archive indexes fired notifications into Elasticsearch for search
// and audit. Archiving is best-effort: the dispatcher treats index failures
// as warnings, never as fire failures.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"notification-engine/internal/catalog"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// fireDocument is the indexed shape of a Fire.
type fireDocument struct {
	ID        string    `json:"id"`
	ConfigID  string    `json:"config_id"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Files     []string  `json:"files,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Indexer writes fire documents into a fixed Elasticsearch index.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{client: client, index: index, logger: log}
}

// IndexFire indexes one fire, keyed by its ID so re-indexing is idempotent.
func (i *Indexer) IndexFire(ctx context.Context, fire *catalog.Fire) error {
	doc := fireDocument{
		ID:        fire.ID,
		ConfigID:  fire.ConfigID,
		Subject:   fire.Subject,
		Message:   fire.Message,
		Files:     fire.Files,
		CreatedAt: fire.CreatedAt,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.NewArchiveIndexFailedError(fire.ID, err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: fire.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return errors.NewArchiveIndexFailedError(fire.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewArchiveIndexFailedError(fire.ID, fmt.Errorf("index response: %s", res.Status()))
	}

	i.logger.Debug("fire archived", map[string]interface{}{
		"fire_id": fire.ID,
		"index":   i.index,
	})
	return nil
}

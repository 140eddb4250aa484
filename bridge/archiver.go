package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// archiveManifest wraps an archive payload with the metadata the upload
// endpoint requires. Each upload gets a fresh UUID so retries on the caller
// side never collide.
type archiveManifest struct {
	UploadID         string          `json:"uploadId"`
	SchemaIdentifier string          `json:"schemaIdentifier"`
	CreatedOn        time.Time       `json:"createdOn"`
	Data             json.RawMessage `json:"data"`
}

// ArchiveAndUpload packages the payload under the schema identifier and
// uploads it. Implements the engine's archiver port.
func (c *Client) ArchiveAndUpload(ctx context.Context, schemaIdentifier string, payload []byte, createdOn time.Time) error {
	manifest, err := json.Marshal(archiveManifest{
		UploadID:         uuid.NewString(),
		SchemaIdentifier: schemaIdentifier,
		CreatedOn:        createdOn,
		Data:             payload,
	})
	if err != nil {
		return fmt.Errorf("encoding archive manifest: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/uploads", bytes.NewReader(manifest))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("uploading %s archive: %w", schemaIdentifier, err)
	}
	return nil
}

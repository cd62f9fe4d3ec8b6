package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errSubjectNotFound = errors.New("schema subject not found")

// SchemaRegistryClient provides minimal interactions with Confluent Schema Registry.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

// NewSchemaRegistryClient constructs a client with sane defaults.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxElapsed: 30 * time.Second,
	}
}

// EnsureSchema ensures a schema subject exists and returns the schema ID.
// Transport failures and 5xx responses are retried with exponential backoff.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed

	return backoff.RetryWithData(func() (int, error) {
		id, err := c.fetchLatest(ctx, subject)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, errSubjectNotFound) {
			return 0, err
		}
		return c.register(ctx, subject, schema)
	}, backoff.WithContext(policy, ctx))
}

func (c *SchemaRegistryClient) fetchLatest(ctx context.Context, subject string) (int, error) {
	endpoint := fmt.Sprintf("%s/subjects/%s/versions/latest", c.baseURL, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, errSubjectNotFound
	}
	if err := statusError(resp, "schema registry error"); err != nil {
		return 0, err
	}
	return decodeID(resp.Body)
}

func (c *SchemaRegistryClient) register(ctx context.Context, subject string, schema string) (int, error) {
	body, err := json.Marshal(map[string]any{
		"schemaType": "JSON",
		"schema":     schema,
	})
	if err != nil {
		return 0, backoff.Permanent(err)
	}

	endpoint := fmt.Sprintf("%s/subjects/%s/versions", c.baseURL, url.PathEscape(subject))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := statusError(resp, "schema registry register error"); err != nil {
		return 0, err
	}
	return decodeID(resp.Body)
}

// statusError maps non-2xx responses; only 5xx is retried.
func statusError(resp *http.Response, prefix string) error {
	if resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(resp.Body)
	err := fmt.Errorf("%s: status %d: %s", prefix, resp.StatusCode, data)
	if resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}

func decodeID(body io.Reader) (int, error) {
	var payload struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return 0, backoff.Permanent(err)
	}
	return payload.ID, nil
}

// Package federation is the narrow HTTP client boundary this core uses to
// reach back into authors' repositories: fetching a record directly for the
// gap validator (spec §7 Recovery), fetching a blob to reconstruct a
// collaborative document's starting snapshot (spec §4.D lifecycle step 1),
// and publishing a converged snapshot back as a new edit record (spec §4.D
// "Persistence"). Everything about the federation protocol's signing and
// repository layout beyond these calls is an explicit non-goal (spec §1);
// this client speaks only the generic record/blob read-write surface any
// such protocol exposes, the same way mountsync.HTTPClient in the teacher
// repo treats its upstream as a plain JSON API with retries.
package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPError is returned for any non-2xx response the client cannot retry past.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("federation: http %d: %s", e.StatusCode, e.Message)
}

// Client is a minimal XRPC-shaped HTTP client: getRecord/putRecord/getBlob/
// uploadBlob against one author's repository host, with capped jittered
// retry on transient failures (mirroring mountsync.HTTPClient.doJSON).
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type Options struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		authToken:  strings.TrimSpace(opts.AuthToken),
		httpClient: hc,
		maxRetries: 3,
		baseDelay:  150 * time.Millisecond,
		maxDelay:   3 * time.Second,
	}
}

// FetchRecord implements ingest.RepositoryFetcher: a direct read of one
// record from its authoring repository, bypassing the firehose entirely.
func (c *Client) FetchRecord(ctx context.Context, did, collection, rkey string) (cid, rev string, recordJSON []byte, err error) {
	q := url.Values{}
	q.Set("did", did)
	q.Set("collection", collection)
	q.Set("rkey", rkey)
	var out struct {
		CID    string          `json:"cid"`
		Rev    string          `json:"rev"`
		Record json.RawMessage `json:"record"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/xrpc/com.weaver.repo.getRecord?"+q.Encode(), nil, &out); err != nil {
		return "", "", nil, err
	}
	return out.CID, out.Rev, out.Record, nil
}

// PutRecord writes a record into did's own repository and returns its new cid.
func (c *Client) PutRecord(ctx context.Context, did, collection, rkey string, record any) (string, error) {
	body := map[string]any{
		"did":        did,
		"collection": collection,
		"rkey":       rkey,
		"record":     record,
	}
	var out struct {
		CID string `json:"cid"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/xrpc/com.weaver.repo.putRecord", body, &out); err != nil {
		return "", err
	}
	return out.CID, nil
}

// UploadBlob stores data content-addressed in did's repository and returns its cid.
func (c *Client) UploadBlob(ctx context.Context, did string, data []byte, mimeType string) (string, error) {
	q := url.Values{}
	q.Set("did", did)
	var out struct {
		CID string `json:"cid"`
	}
	if err := c.doRaw(ctx, http.MethodPost, "/xrpc/com.weaver.repo.uploadBlob?"+q.Encode(), mimeType, data, &out); err != nil {
		return "", err
	}
	return out.CID, nil
}

// FetchBlob retrieves the raw bytes of a content-addressed blob from did's repository.
func (c *Client) FetchBlob(ctx context.Context, did, cid string) ([]byte, error) {
	q := url.Values{}
	q.Set("did", did)
	q.Set("cid", cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/xrpc/com.weaver.repo.getBlob?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req, "")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("federation: fetch blob: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return body, nil
}

func (c *Client) decorate(req *http.Request, contentType string) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	return c.doRaw(ctx, method, path, "application/json", raw, out)
}

func (c *Client) doRaw(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		c.decorate(req, contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := c.wait(ctx, attempt+1); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("federation: request failed: %w", err)
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := c.wait(ctx, attempt+1); waitErr != nil {
				return waitErr
			}
			continue
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(payload)}
	}
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2+1)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Package ekacare is a client for the Eka Care medical records API. It
// authenticates with client credentials, submits documents for asynchronous
// processing and retrieves results by polling.
package ekacare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.eka.care"
	// DefaultDocType is the document type used when none is given ("lr" = lab report).
	DefaultDocType = "lr"
	// DefaultPollInterval is the wait between result polls.
	DefaultPollInterval = 10 * time.Second
	// DefaultTimeout is the overall budget for ProcessAndWait.
	DefaultTimeout = 5 * time.Minute
)

const (
	authEndpoint    = "/connect-auth/v1/account/login"
	processEndpoint = "/mr/api/v2/docs"
	resultEndpoint  = "/mr/api/v1/docs/%s/result"
)

// StatusFailed is the terminal failure status reported by the service.
const StatusFailed = "failed"

// Client talks to the Eka Care API. It is immutable after construction: the
// bearer token obtained at login is held for the client's lifetime and never
// refreshed, so a Client is safe for concurrent use without locking.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
}

// Option customizes a Client before authentication.
type Option func(*Client)

// WithBaseURL overrides the default API endpoint. A trailing slash is trimmed.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

type authRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

// SubmissionResult is the response to a document submission. DocumentID is
// opaque and correlates the submission with later result polls.
type SubmissionResult struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// ResultData holds the processing outputs. Both payloads are kept as raw JSON;
// no schema validation is performed on the FHIR bundle.
type ResultData struct {
	FHIR   json.RawMessage `json:"fhir,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// PollResult is the verbatim result of one poll.
type PollResult struct {
	Status string      `json:"status"`
	Data   *ResultData `json:"data,omitempty"`
}

// Completed reports whether processing finished: both the fhir and output
// payloads must be present. A JSON null counts as absent.
func (r *PollResult) Completed() bool {
	return r.Data != nil && jsonPresent(r.Data.FHIR) && jsonPresent(r.Data.Output)
}

// Failed reports whether the service marked the document as failed.
func (r *PollResult) Failed() bool {
	return r.Status == StatusFailed
}

func jsonPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// NewClient authenticates with the given credentials and returns a ready
// client. Construction fails with *AuthError when the login call fails or the
// response carries no access token.
func NewClient(ctx context.Context, clientID, clientSecret string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	token, err := c.authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	c.bearerToken = token

	return c, nil
}

func (c *Client) authenticate(ctx context.Context, clientID, clientSecret string) (string, error) {
	payload, err := json.Marshal(authRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+authEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &AuthError{Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return "", &AuthError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if auth.AccessToken == "" {
		return "", &AuthError{Err: errors.New("access token not found in response")}
	}

	return auth.AccessToken, nil
}

// ProcessDocument uploads the file at filePath for processing. docType is the
// document type query value; empty means DefaultDocType. The task is validated
// and the file checked for existence before any network I/O happens.
func (c *Client) ProcessDocument(ctx context.Context, filePath, docType string, task Task) (*SubmissionResult, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, &FileNotFoundError{Path: filePath, Err: err}
	}
	if docType == "" {
		docType = DefaultDocType
	}

	query := url.Values{}
	query.Set("dt", docType)
	for _, v := range task.queryValues() {
		query.Add("task", v)
	}

	body, contentType, err := buildFileForm(filePath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+processEndpoint+"?"+query.Encode(), body)
	if err != nil {
		return nil, &TransportError{Op: "submit", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	req.Header.Set("Content-Type", contentType)

	var result SubmissionResult
	if err := c.do(req, "submit", &result); err != nil {
		return nil, err
	}

	slog.Debug("document submitted",
		"document_id", result.DocumentID,
		"status", result.Status,
		"task", task.String(),
	)

	return &result, nil
}

// GetDocumentResult fetches the current processing result for a document. The
// response is returned verbatim; classifying it as pending, completed or
// failed is the caller's concern.
func (c *Client) GetDocumentResult(ctx context.Context, documentID string) (*PollResult, error) {
	reqURL := c.baseURL + fmt.Sprintf(resultEndpoint, url.PathEscape(documentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "result", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	var result PollResult
	if err := c.do(req, "result", &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// ProcessAndWait submits the file and blocks until processing reaches a
// terminal state. Zero pollInterval and timeout select the defaults. A submit
// response without a document_id fails immediately rather than deferring the
// failure to the first poll.
func (c *Client) ProcessAndWait(ctx context.Context, filePath string, task Task, pollInterval, timeout time.Duration) (*PollResult, error) {
	submission, err := c.ProcessDocument(ctx, filePath, "", task)
	if err != nil {
		return nil, err
	}
	if submission.DocumentID == "" {
		return nil, &InvalidResponseError{Op: "submit", Err: errors.New("document_id missing from response")}
	}

	return c.WaitForResult(ctx, submission.DocumentID, pollInterval, timeout)
}

// WaitForResult polls the document until it completes, fails or the timeout
// budget is spent. The elapsed-time check runs at the top of each iteration,
// so the actual overrun past the budget can reach one poll interval plus one
// request round trip.
func (c *Client) WaitForResult(ctx context.Context, documentID string, pollInterval, timeout time.Duration) (*PollResult, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		if time.Since(start) > timeout {
			return nil, &TimeoutError{Timeout: timeout}
		}

		result, err := c.GetDocumentResult(ctx, documentID)
		if err != nil {
			return nil, err
		}

		switch {
		case result.Completed():
			slog.Debug("document processing completed",
				"document_id", documentID,
				"attempts", attempt,
			)
			return result, nil
		case result.Failed():
			return nil, fmt.Errorf("document %s: %w", documentID, ErrProcessingFailed)
		}

		slog.Debug("document still processing",
			"document_id", documentID,
			"status", result.Status,
			"attempt", attempt,
		)

		if err := sleepContext(ctx, pollInterval); err != nil {
			return nil, &CanceledError{Err: err}
		}
	}
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// do sends the request and decodes a JSON body into out. Transport and HTTP
// status failures are wrapped as *TransportError for submit and result alike;
// caller cancellation is surfaced as *CanceledError.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return &CanceledError{Err: ctxErr}
		}
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &InvalidResponseError{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	return nil
}

// buildFileForm reads the file into a multipart body under form field "file",
// with the part content type guessed from the file extension.
func buildFileForm(filePath string) (*bytes.Buffer, string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, "", &FileNotFoundError{Path: filePath, Err: err}
	}
	defer f.Close()

	partType := mime.TypeByExtension(filepath.Ext(filePath))
	if partType == "" {
		partType = "application/octet-stream"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filepath.Base(filePath))))
	header.Set("Content-Type", partType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// sleepContext waits for d or until the context is done, whichever is first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

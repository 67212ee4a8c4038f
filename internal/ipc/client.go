package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"minutes/internal/api"
)

const (
	userHeader     = "X-User-ID"
	defaultTimeout = 30 * time.Second
)

// Options configure a Client.
type Options struct {
	// Address is a daemon base URL or a host:port api_bind value.
	Address string
	UserID  string
	Token   string
	// Timeout bounds plain requests. Uploads and websocket streams are
	// bounded by the caller's context only.
	Timeout time.Duration
}

// Client provides HTTP access to the daemon.
type Client struct {
	base    *url.URL
	userID  string
	token   string
	http    *http.Client
	timeout time.Duration
}

// Dial prepares a client for the daemon at opts.Address. No request is sent
// until a method is called.
func Dial(opts Options) (*Client, error) {
	base, err := BaseURL(opts.Address)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:    base,
		userID:  strings.TrimSpace(opts.UserID),
		token:   strings.TrimSpace(opts.Token),
		http:    &http.Client{},
		timeout: timeout,
	}, nil
}

// BaseURL turns an api_bind value such as ":7487" or "127.0.0.1:7487" into a
// base URL. Full http(s) URLs pass through.
func BaseURL(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("daemon address is required")
	}
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = "127.0.0.1" + address
		}
		if host, port, ok := strings.Cut(address, ":"); ok && (host == "0.0.0.0" || host == "") {
			address = "127.0.0.1:" + port
		}
		address = "http://" + address
	}
	parsed, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported daemon address scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return parsed, nil
}

// Address reports the daemon base URL.
func (c *Client) Address() string {
	return c.base.String()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Health retrieves database diagnostics. A degraded daemon answers 503 with
// the same body, which is returned alongside an error.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.getJSON(ctx, "/health", &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable && resp.Status != "" {
		return &resp, err
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.getJSON(ctx, "/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Templates lists the template catalog.
func (c *Client) Templates(ctx context.Context) ([]api.TemplateView, error) {
	var resp api.TemplateListResponse
	if err := c.getJSON(ctx, "/v1/templates", &resp); err != nil {
		return nil, err
	}
	return resp.Templates, nil
}

// ListJobs returns the caller's jobs, newest first. A non-empty status
// filters the list.
func (c *Client) ListJobs(ctx context.Context, status string) ([]api.JobView, error) {
	path := "/v1/jobs"
	if status = strings.TrimSpace(status); status != "" {
		path += "?" + url.Values{"status": {status}}.Encode()
	}
	var resp api.JobListResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob returns one job.
func (c *Client) GetJob(ctx context.Context, id string) (*api.JobView, error) {
	var resp api.JobResponse
	if err := c.getJSON(ctx, jobPath(id, ""), &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// CancelJob requests cancellation.
func (c *Client) CancelJob(ctx context.Context, id string) (*api.JobView, error) {
	var resp api.JobResponse
	if err := c.doJSON(ctx, http.MethodPost, jobPath(id, "/cancel"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// RetryJob requeues a failed job from its original upload.
func (c *Client) RetryJob(ctx context.Context, id string) (*api.JobView, error) {
	var resp api.JobResponse
	if err := c.doJSON(ctx, http.MethodPost, jobPath(id, "/retry"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// RemoveJob deletes a settled job and its files.
func (c *Client) RemoveJob(ctx context.Context, id string) (*api.JobView, error) {
	var resp api.JobResponse
	if err := c.doJSON(ctx, http.MethodDelete, jobPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// SubmitOptions tune an upload.
type SubmitOptions struct {
	Template string
	Publish  bool
	// Filename overrides the name recorded for the upload.
	Filename string
}

// Submit uploads the recording at path and returns the queued job.
func (c *Client) Submit(ctx context.Context, path string, opts SubmitOptions) (*api.JobView, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer file.Close()
	name := strings.TrimSpace(opts.Filename)
	if name == "" {
		name = filepath.Base(path)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUpload(form, file, name, opts))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/jobs", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	var resp api.JobResponse
	if err := c.send(req, &resp); err != nil {
		pr.Close()
		return nil, err
	}
	return &resp.Job, nil
}

func writeUpload(form *multipart.Writer, file io.Reader, name string, opts SubmitOptions) error {
	if opts.Template != "" {
		if err := form.WriteField("template", opts.Template); err != nil {
			return err
		}
	}
	if opts.Publish {
		if err := form.WriteField("publish", "true"); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return form.Close()
}

// Transcript returns the rendered transcript text.
func (c *Client) Transcript(ctx context.Context, id string) ([]byte, error) {
	return c.getRaw(ctx, jobPath(id, "/transcript"))
}

// Minutes returns the generated minutes markdown.
func (c *Client) Minutes(ctx context.Context, id string) ([]byte, error) {
	return c.getRaw(ctx, jobPath(id, "/minutes"))
}

// ExportDocx streams the DOCX rendition of the minutes into w.
func (c *Client) ExportDocx(ctx context.Context, id string, w io.Writer) (int64, error) {
	return c.download(ctx, jobPath(id, "/export.docx"), w)
}

// ExportTranscriptDocx streams the DOCX rendition of the transcript into w.
func (c *Client) ExportTranscriptDocx(ctx context.Context, id string, w io.Writer) (int64, error) {
	return c.download(ctx, jobPath(id, "/transcript.docx"), w)
}

func (c *Client) download(ctx context.Context, path string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, wrapTransport(err, c.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// Publish publishes a completed job. A failed attempt returns the stored
// record together with the error.
func (c *Client) Publish(ctx context.Context, jobID string) (*api.PublicationView, error) {
	var resp api.PublicationResponse
	err := c.doJSON(ctx, http.MethodPost, jobPath(jobID, "/publications"), nil, &resp)
	return publicationResult(resp, err)
}

// RetryPublication retries a failed publication record.
func (c *Client) RetryPublication(ctx context.Context, id int64) (*api.PublicationView, error) {
	var resp api.PublicationResponse
	path := "/v1/publications/" + strconv.FormatInt(id, 10) + "/retry"
	err := c.doJSON(ctx, http.MethodPost, path, nil, &resp)
	return publicationResult(resp, err)
}

// ListPublications returns every publication record for a job.
func (c *Client) ListPublications(ctx context.Context, jobID string) ([]api.PublicationView, error) {
	var resp api.PublicationListResponse
	if err := c.getJSON(ctx, jobPath(jobID, "/publications"), &resp); err != nil {
		return nil, err
	}
	return resp.Publications, nil
}

func publicationResult(resp api.PublicationResponse, err error) (*api.PublicationView, error) {
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Publication != nil {
			return apiErr.Publication, err
		}
		return nil, err
	}
	return &resp.Publication, nil
}

// Watch streams job updates to fn until the daemon closes the socket after
// the job settles. A normal closure returns nil.
func (c *Client) Watch(ctx context.Context, jobID string, fn func(api.JobView)) error {
	target := *c.base
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.Path += jobPath(jobID, "/ws")

	conn, resp, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{
		HTTPClient: c.http,
		HTTPHeader: c.headers(),
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: err.Error()}
		}
		return wrapTransport(err, c.base)
	}
	defer conn.CloseNow()

	for {
		var view api.JobView
		if err := wsjson.Read(ctx, conn, &view); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if fn != nil {
			fn(view)
		}
	}
}

func jobPath(id, suffix string) string {
	return "/v1/jobs/" + url.PathEscape(strings.TrimSpace(id)) + suffix
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.userID != "" {
		h.Set(userHeader, c.userID)
	}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := c.base.String() + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for key, values := range c.headers() {
		req.Header[key] = values
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransport(err, c.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		// A degraded health check still carries its report.
		if hr, ok := out.(*api.HealthResponse); ok && resp.StatusCode == http.StatusServiceUnavailable {
			if err := json.NewDecoder(resp.Body).Decode(hr); err != nil {
				return fmt.Errorf("decode daemon response: %w", err)
			}
			return &APIError{StatusCode: resp.StatusCode, Kind: "storage", Message: "database " + hr.Status}
		}
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransport(err, c.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func wrapTransport(err error, base *url.URL) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("connect to daemon at %s: %w; verify minutesd is running", base.Host, err)
}

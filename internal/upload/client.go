package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/signbridge/signbridge/pkg/recognition"
	"github.com/signbridge/signbridge/pkg/urlvalidation"
)

// Remote job statuses reported by the batch API.
const (
	remoteQueued     = "queued"
	remoteProcessing = "processing"
	remoteCompleted  = "completed"
	remoteFailed     = "failed"
)

// RemoteJob is the batch API's view of a job. The upload endpoint returns
// either just job_id or a full job.
type RemoteJob struct {
	ID       string                         `json:"id"`
	JobID    string                         `json:"job_id"`
	Status   string                         `json:"status"`
	Progress float64                        `json:"progress"`
	Result   *recognition.TranslationResult `json:"result"`
	Error    string                         `json:"error"`
}

// RemoteID returns whichever identifier the server populated.
func (r RemoteJob) RemoteID() string {
	if r.JobID != "" {
		return r.JobID
	}
	return r.ID
}

// Terminal reports whether the remote job has finished.
func (r RemoteJob) Terminal() bool {
	return r.Status == remoteCompleted || r.Status == remoteFailed
}

// Percent returns the reported progress, which is already on a 0..100
// scale, as a whole number clamped to that range.
func (r RemoteJob) Percent() int {
	switch {
	case math.IsNaN(r.Progress) || r.Progress <= 0:
		return 0
	case r.Progress >= 100:
		return 100
	default:
		return int(r.Progress)
	}
}

// ProgressFunc receives the number of file bytes sent so far.
type ProgressFunc func(sent, total int64)

// Client talks to the batch recognition API.
type Client interface {
	Upload(ctx context.Context, file File, contentType string, progress ProgressFunc) (RemoteJob, error)
	Job(ctx context.Context, remoteID string) (RemoteJob, error)
}

// HTTPClient implements Client over the batch REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the API rooted at baseURL. Uploads
// can be long, so the default client has no overall timeout; requests are
// bounded by their context.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 5 * time.Minute,
			},
		}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Upload streams file as multipart field "video".
func (c *HTTPClient) Upload(ctx context.Context, file File, contentType string, progress ProgressFunc) (RemoteJob, error) {
	endpoint, err := urlvalidation.AppendPathSegment(c.baseURL, "upload")
	if err != nil {
		return RemoteJob{}, err
	}

	rc, err := file.Open()
	if err != nil {
		return RemoteJob{}, fmt.Errorf("open %s: %w", file.Name, err)
	}
	defer rc.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, file.Name))
		header.Set("Content-Type", contentType)

		part, err := mw.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, &countingReader{r: rc, total: file.Size, progress: progress})
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return RemoteJob{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var job RemoteJob
	if err := c.do(req, &job); err != nil {
		pr.CloseWithError(err)
		return RemoteJob{}, err
	}
	if job.RemoteID() == "" && job.Result == nil {
		return RemoteJob{}, fmt.Errorf("upload response carries neither job id nor result")
	}
	return job, nil
}

// Job fetches the current state of a remote job.
func (c *HTTPClient) Job(ctx context.Context, remoteID string) (RemoteJob, error) {
	jobs, err := urlvalidation.AppendPathSegment(c.baseURL, "jobs")
	if err != nil {
		return RemoteJob{}, err
	}
	endpoint, err := urlvalidation.AppendPathSegment(jobs, remoteID)
	if err != nil {
		return RemoteJob{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RemoteJob{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var job RemoteJob
	if err := c.do(req, &job); err != nil {
		return RemoteJob{}, err
	}
	return job, nil
}

func (c *HTTPClient) do(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type countingReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.progress != nil {
			c.progress(c.sent, c.total)
		}
	}
	return n, err
}

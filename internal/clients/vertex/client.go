package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/utils"
)

// EnqueueRequest is the render job submitted to the remote runner. Paths are
// object keys in the generation buckets; the runner reads them directly.
type EnqueueRequest struct {
	GenerationID   uuid.UUID `json:"generation_id"`
	UserID         uuid.UUID `json:"user_id"`
	PersonaPath    string    `json:"persona_path"`
	GarmentPath    string    `json:"garment_path"`
	RetainForHours int       `json:"retain_for_hours"`
}

type EnqueueResult struct {
	JobID      string `json:"job_id"`
	ETASeconds int    `json:"eta_seconds"`
}

type JobDetail struct {
	JobID      string `json:"job_id"`
	State      string `json:"state"` // queued|processing|succeeded|failed
	ResultPath string `json:"result_path,omitempty"`
	Error      string `json:"error,omitempty"`
	ETASeconds int    `json:"eta_seconds,omitempty"`
}

// StatusError carries the runner's HTTP status so callers can classify
// terminal vs retriable failures.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vertex job runner: status=%d body=%s", e.StatusCode, e.Body)
}

type Client interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error)
	GetJob(ctx context.Context, jobID string) (*JobDetail, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("VERTEX_RUNNER_BASE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing VERTEX_RUNNER_BASE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	apiKey := strings.TrimSpace(os.Getenv("VERTEX_RUNNER_API_KEY"))

	timeoutSeconds := utils.GetEnvAsInt("VERTEX_RUNNER_TIMEOUT_SECONDS", 30, log)

	return &client{
		log:        log.With("client", "VertexClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}, nil
}

func (c *client) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal enqueue request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tryon/jobs", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build enqueue request: %w", err)
	}
	c.decorate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("enqueue request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out EnqueueResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode enqueue response: %w", err)
	}
	if strings.TrimSpace(out.JobID) == "" {
		return nil, fmt.Errorf("enqueue response missing job_id")
	}
	return &out, nil
}

func (c *client) GetJob(ctx context.Context, jobID string) (*JobDetail, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("missing job id")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tryon/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("build job request: %w", err)
	}
	c.decorate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("job request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out JobDetail
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode job response: %w", err)
	}
	return &out, nil
}

func (c *client) decorate(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

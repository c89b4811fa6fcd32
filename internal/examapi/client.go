package examapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prosetya/examgate/internal/model"
)

// Client talks to the remote evaluation platform. The platform owns exam
// content, attempt identity and grading; the gateway only consumes the
// contract summarized here.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a platform client. token is the gateway's service
// credential, sent as a bearer token on every call.
func NewClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "examapi").Logger(),
	}
}

// envelope mirrors the platform's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// StartSession starts or resumes an attempt. The platform is idempotent:
// calling again for an in-progress attempt returns the same attempt id, the
// original start instant and the original duration (not reset).
func (c *Client) StartSession(ctx context.Context, examID uuid.UUID, candidateID int) (*model.Attempt, error) {
	body := map[string]interface{}{"candidate_id": candidateID}
	var attempt model.Attempt
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/exams/%s/attempts", examID), body, &attempt); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return &attempt, nil
}

// FetchQuestions returns the ordered question list with title and
// instructions for the exam.
func (c *Client) FetchQuestions(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	var paper model.ExamPaper
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/exams/%s/paper", examID), nil, &paper); err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	return &paper, nil
}

// submitResponse is the acknowledgment for a submitted attempt.
type submitResponse struct {
	ResultID uuid.UUID `json:"result_id"`
}

// SubmitAnswers submits the complete answer set. A duplicate-submission
// conflict is returned as ErrAlreadySubmitted; the caller treats it as
// success. The call is made exactly once per invocation — no transport-level
// retry, to avoid duplicate-write risk.
func (c *Client) SubmitAnswers(ctx context.Context, payload *model.SubmissionPayload) (uuid.UUID, error) {
	var resp submitResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/attempts/%s/submission", payload.AttemptID), payload, &resp)
	if err != nil {
		return uuid.Nil, fmt.Errorf("submit answers: %w", err)
	}
	return resp.ResultID, nil
}

// FetchResult returns the evaluated score breakdown, or ErrNotReady while
// the platform is still evaluating. Callers retry with backoff.
func (c *Client) FetchResult(ctx context.Context, resultID uuid.UUID) (*model.EvaluatedResult, error) {
	var result model.EvaluatedResult
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/results/%s", resultID), nil, &result); err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "MALFORMED_RESPONSE", Message: err.Error()}
	}

	if env.Error != nil {
		switch env.Error.Code {
		case codeAlreadySubmitted:
			return ErrAlreadySubmitted
		case codeResultNotReady:
			return ErrNotReady
		}
		return &APIError{StatusCode: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Code: "UNEXPECTED_STATUS", Message: http.StatusText(resp.StatusCode)}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

package roles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPClient invokes the three roles over a JSON-over-HTTP contract exposed
// by an external agent service. It is a reference collaborator; any
// implementation of the role interfaces can be swapped in.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient builds a role client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s input: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", path, ErrAuthentication)
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", path, ErrForbidden)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// PlannerClient adapts HTTPClient to the Planner contract.
type PlannerClient struct{ *HTTPClient }

func (c PlannerClient) Invoke(ctx context.Context, in PlanInput) (*PlanOutput, error) {
	var out PlanOutput
	if err := c.post(ctx, "/role/plan", in, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("planner responded",
		zap.String("run_id", in.RunID),
		zap.Int("step", in.StepIndex),
		zap.Bool("done", out.Done),
	)
	return &out, nil
}

// ActorClient adapts HTTPClient to the Actor contract.
type ActorClient struct{ *HTTPClient }

func (c ActorClient) Invoke(ctx context.Context, in ActInput) (*ActOutput, error) {
	var out ActOutput
	if err := c.post(ctx, "/role/act", in, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("actor responded",
		zap.String("run_id", in.RunID),
		zap.Int("step", in.StepIndex),
		zap.Bool("done", out.Done),
		zap.Int("results", len(out.Results)),
	)
	return &out, nil
}

// ValidatorClient adapts HTTPClient to the Validator contract.
type ValidatorClient struct{ *HTTPClient }

func (c ValidatorClient) Invoke(ctx context.Context, in ValidateInput) (*ValidateOutput, error) {
	var out ValidateOutput
	if err := c.post(ctx, "/role/validate", in, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("validator responded",
		zap.String("run_id", in.RunID),
		zap.Bool("is_valid", out.IsValid),
	)
	return &out, nil
}

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

// Endpoints are the upstream analysis service URLs. An empty URL makes the
// corresponding call fail as unconfigured, which the pipeline's stage
// policy then classifies as fatal or best-effort.
type Endpoints struct {
	Scraper     string
	Transformer string
	Retriever   string
	Generator   string
	Scorer      string
	Notifier    string
}

// Client implements every collaborator over JSON-POST HTTP calls.
type Client struct {
	http      *http.Client
	endpoints Endpoints
}

func NewClient(endpoints Endpoints) *Client {
	return &Client{
		http:      &http.Client{Timeout: 60 * time.Second},
		endpoints: endpoints,
	}
}

func (c *Client) post(ctx context.Context, url string, req, resp any) error {
	if url == "" {
		return errors.New("endpoint not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "call upstream")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return errors.Errorf("upstream returned %d", res.StatusCode)
	}
	if resp == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(res.Body).Decode(resp), "decode response")
}

func (c *Client) Scrape(ctx context.Context, url string) (*ScrapeResult, error) {
	var out ScrapeResult
	err := c.post(ctx, c.endpoints.Scraper, map[string]string{"url": url}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TransformQuery(ctx context.Context, text string) (*TransformResult, error) {
	var out TransformResult
	err := c.post(ctx, c.endpoints.Transformer, map[string]string{"text": text}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RetrieveContext(ctx context.Context, question string) ([]string, error) {
	var out struct {
		Evidence []string `json:"evidence"`
	}
	err := c.post(ctx, c.endpoints.Retriever, map[string]string{"question": question}, &out)
	if err != nil {
		return nil, err
	}
	return out.Evidence, nil
}

func (c *Client) GenerateAnswer(ctx context.Context, query *TransformResult, evidence []string) (*Answer, error) {
	var out Answer
	req := struct {
		Query    *TransformResult `json:"query"`
		Evidence []string         `json:"evidence"`
	}{query, evidence}
	if err := c.post(ctx, c.endpoints.Generator, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ScoreQuality(ctx context.Context, description string, query *TransformResult) (int, error) {
	var out struct {
		SufficiencyPercentage int `json:"sufficiency_percentage"`
	}
	req := struct {
		Description string           `json:"description"`
		Query       *TransformResult `json:"query"`
	}{description, query}
	if err := c.post(ctx, c.endpoints.Scorer, req, &out); err != nil {
		return 0, err
	}
	return out.SufficiencyPercentage, nil
}

func (c *Client) Notify(ctx context.Context, ownerID string, result *domain.Result) error {
	req := struct {
		OwnerID string         `json:"owner_id"`
		Result  *domain.Result `json:"result"`
	}{ownerID, result}
	return c.post(ctx, c.endpoints.Notifier, req, nil)
}

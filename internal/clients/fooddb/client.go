package fooddb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mealforge/mealforge-backend/internal/pkg/httpx"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
	"github.com/mealforge/mealforge-backend/internal/types"
)

// Food is one matched database entry with macros per standard serving.
type Food struct {
	ID           string
	Name         string
	ServingGrams float64
	Macros       types.Macros
}

// Client is the nutrition database contract the compiler depends on: search
// one food by name, get back candidate matches. An empty result means the
// food is unverified, not an error.
type Client interface {
	Search(ctx context.Context, query string) ([]Food, error)
}

// NewDisabled returns a client whose every search misses. Deployments
// without a food-database account still produce plans; every meal just stays
// ai_estimated.
func NewDisabled() Client { return disabledClient{} }

type disabledClient struct{}

func (disabledClient) Search(context.Context, string) ([]Food, error) { return nil, nil }

type Config struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Timeout    time.Duration
	MaxRetries int
}

type client struct {
	log        *logger.Logger
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
	maxRetries int
}

func NewClient(baseLog *logger.Logger, cfg Config) (Client, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing API key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing base URL")
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &client{
		log:        baseLog.With("service", "FoodDBClient"),
		apiKey:     apiKey,
		baseURL:    baseURL,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}, nil
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("fooddb http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type searchResponse struct {
	Foods []struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		ServingGrams float64 `json:"serving_grams"`
		Kcal         float64 `json:"kcal"`
		ProteinG     float64 `json:"protein_g"`
		CarbsG       float64 `json:"carbs_g"`
		FatG         float64 `json:"fat_g"`
	} `json:"foods"`
}

func (c *client) Search(ctx context.Context, query string) ([]Food, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	reqURL, err := url.Parse(c.baseURL + "/v1/foods/search")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	params := reqURL.Query()
	params.Add("query", query)
	params.Add("max_results", strconv.Itoa(c.maxResults))
	reqURL.RawQuery = params.Encode()

	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, reqURL.String())
		if err == nil {
			var parsed searchResponse
			if uErr := json.Unmarshal(raw, &parsed); uErr != nil {
				return nil, fmt.Errorf("failed to unmarshal search response: %w", uErr)
			}
			out := make([]Food, 0, len(parsed.Foods))
			for _, f := range parsed.Foods {
				out = append(out, Food{
					ID:           f.ID,
					Name:         f.Name,
					ServingGrams: f.ServingGrams,
					Macros: types.Macros{
						Kcal:     f.Kcal,
						ProteinG: f.ProteinG,
						CarbsG:   f.CarbsG,
						FatG:     f.FatG,
					},
				})
			}
			return out, nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return nil, err
		}
		sleepFor := httpx.Jitter(httpx.RetryAfterDuration(resp, backoff, 5*time.Second))
		c.log.Warn("Food database request retrying",
			"query", query,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
}

func (c *client) doOnce(ctx context.Context, fullURL string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode != http.StatusOK {
		return resp, raw, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

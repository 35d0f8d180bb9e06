package models

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/model"
)

const (
	defaultPageviewsURL = "https://wikimedia.org/api/rest_v1"
	maxPopularLimit     = 1000
)

// PopularArticles materializes the most viewed articles of a project over
// the previous calendar month.
type PopularArticles struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
}

var _ model.Model = (*PopularArticles)(nil)

// NewPopularArticles creates the model against a Wikimedia REST base URL.
func NewPopularArticles(endpoint string, client *http.Client) *PopularArticles {
	if endpoint == "" {
		endpoint = defaultPageviewsURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PopularArticles{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
		now:      time.Now,
	}
}

// Name identifies the model inside the registry.
func (p *PopularArticles) Name() string {
	return "popular_articles"
}

// Validate checks that limit is a whole number within range.
func (p *PopularArticles) Validate(_ context.Context, project string, params domain.Params) domain.ValidationResult {
	var res domain.ValidationResult

	if !strings.Contains(project, ".") {
		res.Errors = append(res.Errors, fmt.Sprintf("project %q is not a wiki identifier", project))
	}

	limit, err := model.IntParam(params, "limit")
	switch {
	case err != nil:
		res.Errors = append(res.Errors, err.Error())
	case limit < 1 || limit > maxPopularLimit:
		res.Invalid = append(res.Invalid, fmt.Sprint(limit))
		res.Errors = append(res.Errors, fmt.Sprintf("limit must be between 1 and %d", maxPopularLimit))
	default:
		res.Valid = append(res.Valid, fmt.Sprint(limit))
	}
	return res
}

// Materialize fetches the monthly top list and keeps the first limit articles.
func (p *PopularArticles) Materialize(ctx context.Context, req model.Request) ([]string, error) {
	limit, err := model.IntParam(req.Params, "limit")
	if err != nil {
		return nil, err
	}

	month := p.now().UTC().AddDate(0, -1, 0)
	endpoint := fmt.Sprintf("%s/metrics/pageviews/top/%s/all-access/%04d/%02d/all-days",
		p.endpoint, url.PathEscape(req.Project), month.Year(), int(month.Month()))

	var payload struct {
		Items []struct {
			Articles []struct {
				Article string `json:"article"`
				Views   int64  `json:"views"`
				Rank    int    `json:"rank"`
			} `json:"articles"`
		} `json:"items"`
	}
	if err := p.get(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	var titles []string
	for _, item := range payload.Items {
		for _, a := range item.Articles {
			if len(titles) >= limit {
				return titles, nil
			}
			if skipPopular(a.Article) {
				continue
			}
			titles = append(titles, a.Article)
		}
	}
	return titles, nil
}

// PublicParams returns the params unchanged.
func (p *PopularArticles) PublicParams(params domain.Params) domain.Params {
	out := make(domain.Params, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func (p *PopularArticles) get(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "SelectionBuilder/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return model.Unavailable(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if err := model.CheckStatus("pageviews", resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func skipPopular(title string) bool {
	if title == "" || title == "-" || title == "Main_Page" {
		return true
	}
	return strings.HasPrefix(title, "Special:")
}

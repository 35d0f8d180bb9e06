package models

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/model"
)

var defaultPetScanHosts = []string{"petscan.wmflabs.org", "petscan.wmcloud.org"}

// PetScan materializes the article list returned by a PetScan query URL.
type PetScan struct {
	client *http.Client
	hosts  map[string]struct{}
}

var _ model.Model = (*PetScan)(nil)

// NewPetScan wires an HTTP client; hosts defaults to the public PetScan instances.
func NewPetScan(client *http.Client, hosts []string) *PetScan {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if len(hosts) == 0 {
		hosts = defaultPetScanHosts
	}
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return &PetScan{client: client, hosts: set}
}

// Name identifies the model inside the registry.
func (p *PetScan) Name() string {
	return "petscan"
}

// Validate accepts a single URL pointing at a known PetScan host.
func (p *PetScan) Validate(_ context.Context, _ string, params domain.Params) domain.ValidationResult {
	raw, ok := model.StringParam(params, "url")
	if !ok {
		return domain.ValidationResult{Errors: []string{"url is required"}}
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return domain.ValidationResult{Invalid: []string{raw}, Errors: []string{"url is not a valid URL"}}
	}
	if _, ok := p.hosts[strings.ToLower(parsed.Hostname())]; !ok {
		return domain.ValidationResult{Invalid: []string{raw}, Errors: []string{"url must point to a PetScan instance"}}
	}
	if parsed.RawQuery == "" {
		return domain.ValidationResult{Invalid: []string{raw}, Errors: []string{"url must contain a PetScan query"}}
	}
	return domain.ValidationResult{Valid: []string{raw}}
}

// Materialize runs the query and extracts article titles from the HTML result.
func (p *PetScan) Materialize(ctx context.Context, req model.Request) ([]string, error) {
	raw, ok := model.StringParam(req.Params, "url")
	if !ok {
		return nil, fmt.Errorf("petscan: url is required")
	}

	resultURL, err := buildResultURL(raw)
	if err != nil {
		return nil, err
	}

	doc, err := p.fetchDocument(ctx, resultURL)
	if err != nil {
		return nil, err
	}
	return extractTitles(doc), nil
}

// PublicParams returns the params unchanged.
func (p *PetScan) PublicParams(params domain.Params) domain.Params {
	out := make(domain.Params, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func (p *PetScan) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "SelectionBuilder/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, model.Unavailable(fmt.Errorf("request petscan: %w", err))
	}
	defer resp.Body.Close()

	if err := model.CheckStatus("petscan", resp); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func extractTitles(doc *goquery.Document) []string {
	var titles []string
	seen := map[string]struct{}{}

	doc.Find("table tbody tr").Each(func(_ int, row *goquery.Selection) {
		title := parseRow(row)
		if title == "" {
			return
		}
		if _, ok := seen[title]; ok {
			return
		}
		seen[title] = struct{}{}
		titles = append(titles, title)
	})
	return titles
}

func parseRow(row *goquery.Selection) string {
	href, ok := row.Find("a[href*=\"/wiki/\"]").First().Attr("href")
	if !ok {
		return ""
	}
	idx := strings.Index(href, "/wiki/")
	title := href[idx+len("/wiki/"):]
	if unescaped, err := url.PathUnescape(title); err == nil {
		title = unescaped
	}
	return strings.ReplaceAll(strings.TrimSpace(title), " ", "_")
}

func buildResultURL(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid petscan url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("format", "html")
	query.Set("doit", "1")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

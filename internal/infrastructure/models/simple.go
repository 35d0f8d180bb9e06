package models

import (
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"SelectionBuilder/internal/domain"
	"SelectionBuilder/internal/model"
)

const (
	maxTitleBytes   = 255
	forbiddenTitles = "#<>[]{}|"
)

// Simple materializes an explicit, user-supplied list of article titles.
type Simple struct{}

var _ model.Model = (*Simple)(nil)

// NewSimple builds the list model.
func NewSimple() *Simple {
	return &Simple{}
}

// Name identifies the model inside the registry.
func (s *Simple) Name() string {
	return "simple"
}

// Validate normalizes every entry of params["list"] and rejects the ones
// that cannot be article titles.
func (s *Simple) Validate(_ context.Context, _ string, params domain.Params) domain.ValidationResult {
	var res domain.ValidationResult

	list := model.StringListParam(params, "list")
	if len(list) == 0 {
		res.Errors = append(res.Errors, "Empty List")
		return res
	}

	seen := map[string]struct{}{}
	for _, raw := range list {
		title, ok := s.normalize(raw)
		if !ok {
			res.Invalid = append(res.Invalid, raw)
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		res.Valid = append(res.Valid, title)
	}

	if len(res.Invalid) > 0 {
		res.Errors = append(res.Errors, "The list contained the following invalid characters or titles")
	}
	return res
}

// Materialize returns the normalized, de-duplicated titles.
func (s *Simple) Materialize(ctx context.Context, req model.Request) ([]string, error) {
	res := s.Validate(ctx, req.Project, req.Params)
	return res.Valid, nil
}

// PublicParams joins the list for editing as a block of lines.
func (s *Simple) PublicParams(params domain.Params) domain.Params {
	return domain.Params{"list": strings.Join(model.StringListParam(params, "list"), "\n")}
}

func (s *Simple) normalize(raw string) (string, bool) {
	title := strings.TrimSpace(raw)
	if strings.HasPrefix(title, "http://") || strings.HasPrefix(title, "https://") {
		parsed, err := url.Parse(title)
		if err != nil {
			return "", false
		}
		idx := strings.Index(parsed.Path, "/wiki/")
		if idx < 0 {
			return "", false
		}
		title = parsed.Path[idx+len("/wiki/"):]
	}

	title = norm.NFC.String(title)
	title = strings.Join(strings.Fields(strings.ReplaceAll(title, "_", " ")), "_")
	if title == "" || len(title) > maxTitleBytes || strings.ContainsAny(title, forbiddenTitles) {
		return "", false
	}
	if !utf8.ValidString(title) {
		return "", false
	}

	first, size := utf8.DecodeRuneInString(title)
	return cases.Upper(language.Und).String(string(first)) + title[size:], true
}

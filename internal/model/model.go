package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"SelectionBuilder/internal/domain"
)

// ErrUnavailable marks materialization failures caused by an upstream
// outage rather than by the builder's parameters. They are worth retrying.
var ErrUnavailable = errors.New("upstream unavailable")

// Unavailable wraps err with ErrUnavailable.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// CheckStatus turns a non-OK upstream response into an error. Server
// errors and throttling are reported as unavailable.
func CheckStatus(service string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	err := fmt.Errorf("%s returned %s", service, resp.Status)
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return Unavailable(err)
	}
	return err
}

// Request carries everything a model needs to compute a selection.
type Request struct {
	BuilderID string
	Project   string
	Params    domain.Params
}

// Model validates builder parameters and materializes article lists.
type Model interface {
	Name() string
	Validate(ctx context.Context, project string, params domain.Params) domain.ValidationResult
	Materialize(ctx context.Context, req Request) ([]string, error)
	// PublicParams shapes stored params for display to the owner.
	PublicParams(params domain.Params) domain.Params
}

// Registry keeps a mapping from model identifiers to their implementations.
type Registry struct {
	models map[string]Model
}

// NewRegistry builds a registry holding the given models.
func NewRegistry(models ...Model) *Registry {
	r := &Registry{models: map[string]Model{}}
	for _, m := range models {
		r.Register(m)
	}
	return r
}

// Register adds or replaces a model implementation.
func (r *Registry) Register(m Model) {
	if r.models == nil {
		r.models = map[string]Model{}
	}
	r.models[m.Name()] = m
}

// Resolve returns a model by identifier or an error wrapping domain.ErrUnknownModel.
func (r *Registry) Resolve(name string) (Model, error) {
	if m, ok := r.models[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("model %q: %w", name, domain.ErrUnknownModel)
}

// Names lists registered identifiers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

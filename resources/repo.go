package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-backoffice/apiclient"
	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
)

// Requester is the part of apiclient.Client the repositories use.
type Requester interface {
	RequestJSON(ctx context.Context, path string, opts apiclient.RequestOptions, out any) error
}

// ConfirmFunc asks the user to approve a destructive action.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Repo is CRUD access to one backend collection.
type Repo[T any] struct {
	client     Requester
	name       string
	path       string
	createPath string
}

type RepoOption func(*repoConfig)

type repoConfig struct {
	createPath string
}

// WithCreatePath sends Create to a different endpoint than the collection.
func WithCreatePath(path string) RepoOption {
	return func(c *repoConfig) {
		c.createPath = path
	}
}

// NewRepo serves the collection at path, e.g. "/sites/". name is used in
// confirmation prompts.
func NewRepo[T any](client Requester, name, path string, options ...RepoOption) *Repo[T] {
	cfg := repoConfig{createPath: path}
	for _, opt := range options {
		opt(&cfg)
	}
	return &Repo[T]{
		client:     client,
		name:       name,
		path:       path,
		createPath: cfg.createPath,
	}
}

func (r *Repo[T]) Name() string {
	return r.name
}

func (r *Repo[T]) Path() string {
	return r.path
}

func (r *Repo[T]) List(ctx context.Context, q ListQuery) (Page[T], error) {
	return r.listAt(ctx, r.path, q)
}

func (r *Repo[T]) Get(ctx context.Context, id string) (T, error) {
	var item T
	if err := r.client.RequestJSON(ctx, r.itemPath(id), apiclient.RequestOptions{}, &item); err != nil {
		return item, fmt.Errorf("[Repo.Get] %s %s: %w", r.name, id, err)
	}
	return item, nil
}

func (r *Repo[T]) Create(ctx context.Context, payload any) (T, error) {
	return r.send(ctx, http.MethodPost, r.createPath, payload)
}

func (r *Repo[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	return r.send(ctx, http.MethodPut, r.itemPath(id), payload)
}

func (r *Repo[T]) Delete(ctx context.Context, id string) error {
	if err := r.client.RequestJSON(ctx, r.itemPath(id), apiclient.RequestOptions{Method: http.MethodDelete}, nil); err != nil {
		return fmt.Errorf("[Repo.Delete] %s %s: %w", r.name, id, err)
	}
	return nil
}

// DeleteConfirmed deletes only after confirm approves. A declined prompt
// returns ErrNotConfirmed and sends nothing.
func (r *Repo[T]) DeleteConfirmed(ctx context.Context, id string, confirm ConfirmFunc) error {
	ok, err := confirm(ctx, fmt.Sprintf("Delete %s %s?", r.name, id))
	if err != nil {
		return fmt.Errorf("[Repo.DeleteConfirmed] %w", err)
	}
	if !ok {
		return apperrors.ErrNotConfirmed
	}
	return r.Delete(ctx, id)
}

func (r *Repo[T]) listAt(ctx context.Context, path string, q ListQuery) (Page[T], error) {
	var page Page[T]
	if err := r.client.RequestJSON(ctx, path, apiclient.RequestOptions{Query: q.Values()}, &page); err != nil {
		return Page[T]{}, fmt.Errorf("[Repo.List] %s: %w", r.name, err)
	}
	return page, nil
}

func (r *Repo[T]) send(ctx context.Context, method, path string, payload any) (T, error) {
	var item T

	body, err := json.Marshal(payload)
	if err != nil {
		return item, fmt.Errorf("[Repo.send] encode %s: %w", r.name, err)
	}
	if err := r.client.RequestJSON(ctx, path, apiclient.RequestOptions{Method: method, Body: body}, &item); err != nil {
		return item, fmt.Errorf("[Repo.send] %s %s: %w", method, r.name, err)
	}
	return item, nil
}

func (r *Repo[T]) itemPath(id string) string {
	return strings.TrimRight(r.path, "/") + "/" + url.PathEscape(id)
}

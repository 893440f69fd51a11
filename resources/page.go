package resources

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
)

// ListQuery becomes the query string of a list request. Zero values are omitted.
type ListQuery struct {
	Page     int
	PageSize int
	Search   string
	Filters  map[string]string
}

func (q ListQuery) Values() url.Values {
	values := url.Values{}
	if q.Page > 0 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		values.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.Search != "" {
		values.Set("search", q.Search)
	}
	for key, value := range q.Filters {
		if value != "" {
			values.Set(key, value)
		}
	}
	return values
}

type Meta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Pages    int `json:"pages"`
}

// Page is one page of a list. The backend answers either with a bare array
// or with {"items": [...], "meta": {...}}; Meta is nil for bare arrays.
type Page[T any] struct {
	Items []T   `json:"items"`
	Meta  *Meta `json:"meta,omitempty"`
}

func (p *Page[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = Page[T]{}
		return nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*p = Page[T]{Items: items}
		return nil
	}

	var envelope struct {
		Items []T   `json:"items"`
		Meta  *Meta `json:"meta"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return err
	}
	*p = Page[T]{Items: envelope.Items, Meta: envelope.Meta}
	return nil
}

package mirror

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/kursadbilgin/practice-sync/internal/domain"
)

const defaultHTTPTimeout = 30 * time.Second

type upsertRequest struct {
	Mirror  string   `json:"mirror"`
	Records []Record `json:"records"`
}

type upsertResponse struct {
	AcceptedCount      int  `json:"acceptedCount"`
	FirstRejectedIndex *int `json:"firstRejectedIndex"`
}

// HTTPMirror ships batches to a mirror service exposing a bulk upsert endpoint.
type HTTPMirror struct {
	client   *resty.Client
	endpoint string
	name     string
}

func NewHTTPMirror(endpoint, name string, client *resty.Client) (*HTTPMirror, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("mirror endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid mirror endpoint: %w", err)
	}
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultHTTPTimeout)
	}
	client.SetRetryCount(0)
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	return &HTTPMirror{client: client, endpoint: trimmed, name: name}, nil
}

func (m *HTTPMirror) UpsertBatch(ctx context.Context, entries []domain.ActionLogEntry) (Result, error) {
	if len(entries) == 0 {
		return Result{}, nil
	}

	records, err := NewRecords(entries)
	if err != nil {
		return Result{}, err
	}

	var body upsertResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(upsertRequest{Mirror: m.name, Records: records}).
		SetResult(&body).
		Post(m.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("mirror request failed: %w", err)
	}

	status := resp.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return Result{}, fmt.Errorf("mirror returned status %d: %s", status, strings.TrimSpace(resp.String()))
	}

	res := Result{AcceptedCount: body.AcceptedCount, FirstRejectedIndex: body.FirstRejectedIndex}
	if res.FirstRejectedIndex != nil {
		return res, fmt.Errorf("%w: record %d rejected", domain.ErrMirrorRejected, *res.FirstRejectedIndex)
	}
	return res, nil
}

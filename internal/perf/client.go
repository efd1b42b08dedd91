package perf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/poll"
	jsoniter "github.com/json-iterator/go"
)

var ErrNoCredits = errors.New("no api credits left")

const (
	contentType = "application/vnd.api+json"
	maxTestWait = 15 * time.Minute
)

type Location struct {
	ID   int
	Name string
}

var Locations = []Location{
	{ID: 1, Name: "Vancouver, CA"},
	{ID: 2, Name: "London, GB"},
	{ID: 4, Name: "San Antonio, US"},
	{ID: 7, Name: "Hong Kong, CN"},
}

// BasicAuth protects the tested pages, not the API.
type BasicAuth struct {
	Username string
	Password string
}

type Metrics struct {
	TimeToFirstByte      float64 `json:"time_to_first_byte"`
	FirstContentfulPaint float64 `json:"first_contentful_paint"`
	DomContentLoadedTime float64 `json:"dom_content_loaded_time"`
	OnloadTime           float64 `json:"onload_time"`
	FullyLoadedTime      float64 `json:"fully_loaded_time"`
	PageRequests         int     `json:"page_requests"`
	PageBytes            int64   `json:"page_bytes"`
}

type document struct {
	Data struct {
		ID         string              `json:"id,omitempty"`
		Type       string              `json:"type"`
		Attributes jsoniter.RawMessage `json:"attributes,omitempty"`
	} `json:"data"`
}

// Client talks to the GTmetrix API v2.
type Client struct {
	baseURL      string
	apiKey       string
	browser      int
	pollInterval time.Duration
	http         *http.Client
	log          *slog.Logger
}

func NewClient(cfg *config.PerfConfig, log *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/") + "/",
		apiKey:       cfg.ApiKey,
		browser:      cfg.Browser,
		pollInterval: cfg.PollInterval,
		http:         &http.Client{Timeout: time.Minute},
		log:          log,
	}
}

func (c *Client) do(ctx context.Context, method, command string, body any) (*document, error) {
	var reader io.Reader
	if body != nil {
		data, err := jsoniter.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+command, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(c.apiKey, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s %s: %s: %s", method, command, resp.Status, strings.TrimSpace(string(data)))
	}
	var doc document
	if err = jsoniter.Unmarshal(data, &doc); err != nil {
		c.log.Error(fmt.Sprintf("json decode error for '%s'.", command), slog.String("body", string(data)))
		return nil, err
	}

	return &doc, nil
}

// Credits returns the API credits left, or -1 when they cannot be read.
func (c *Client) Credits(ctx context.Context) float64 {
	doc, err := c.do(ctx, http.MethodGet, "status", nil)
	if err != nil {
		c.log.Error("failed to read api credits.", slog.String("err", err.Error()))
		return -1
	}
	var attrs struct {
		ApiCredits jsoniter.Number `json:"api_credits"`
	}
	if err = jsoniter.Unmarshal(doc.Data.Attributes, &attrs); err != nil {
		return -1
	}
	credits, err := attrs.ApiCredits.Float64()
	if err != nil {
		return -1
	}

	return credits
}

// StartTest queues a test of url from the location and returns the test id.
func (c *Client) StartTest(ctx context.Context, url string, location int, auth *BasicAuth) (string, error) {
	attrs := map[string]string{
		"url":      url,
		"report":   "none",
		"location": strconv.Itoa(location),
		"browser":  strconv.Itoa(c.browser),
	}
	if auth != nil {
		attrs["httpauth_username"] = auth.Username
		attrs["httpauth_password"] = auth.Password
	}
	body := map[string]any{"data": map[string]any{"type": "test", "attributes": attrs}}

	doc, err := c.do(ctx, http.MethodPost, "tests", body)
	if err != nil {
		return "", fmt.Errorf("failed to start test for %s: %w", url, err)
	}
	if doc.Data.ID == "" {
		return "", fmt.Errorf("no test id returned for %s", url)
	}

	return doc.Data.ID, nil
}

// WaitTest polls the test until it turned into a report.
func (c *Client) WaitTest(ctx context.Context, id string) error {
	return poll.Until(ctx, poll.Options{Timeout: maxTestWait, Interval: c.pollInterval, IgnoreErrors: true},
		func(ctx context.Context) (bool, error) {
			doc, err := c.do(ctx, http.MethodGet, "tests/"+id, nil)
			if err != nil {
				return false, err
			}
			return doc.Data.Type == "report", nil
		})
}

func (c *Client) Metrics(ctx context.Context, id string) (*Metrics, error) {
	doc, err := c.do(ctx, http.MethodGet, "tests/"+id, nil)
	if err != nil {
		return nil, err
	}
	var m Metrics
	if err = jsoniter.Unmarshal(doc.Data.Attributes, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metrics of %s: %w", id, err)
	}

	return &m, nil
}

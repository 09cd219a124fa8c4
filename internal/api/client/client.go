// Package client is a typed HTTP client for the perfeye API, used by
// the CLI.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/perfeye/internal/models"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("PERFEYE_API_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type listResponse struct {
	Items json.RawMessage `json:"items"`
	Total int             `json:"total"`
}

func (c *Client) ListRules(enabled *bool) ([]models.EvaluationRule, error) {
	endpoint := "/api/v1/rules"
	if enabled != nil {
		query := url.Values{}
		query.Set("enabled", fmt.Sprintf("%v", *enabled))
		endpoint += "?" + query.Encode()
	}
	var rules []models.EvaluationRule
	if err := c.getList(endpoint, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (c *Client) GetRule(ruleID string) (*models.EvaluationRule, error) {
	var rule models.EvaluationRule
	if err := c.get("/api/v1/rules/"+ruleID, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (c *Client) CreateRule(rule *models.EvaluationRule) error {
	return c.do(http.MethodPost, "/api/v1/rules", rule, rule)
}

func (c *Client) DeleteRule(ruleID string) error {
	return c.do(http.MethodDelete, "/api/v1/rules/"+ruleID, nil, nil)
}

func (c *Client) SetRuleEnabled(ruleID string, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return c.do(http.MethodPut, fmt.Sprintf("/api/v1/rules/%s/%s", ruleID, action), nil, nil)
}

func (c *Client) ListAlerts(status, ruleID, targetID string) ([]models.AlertState, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if ruleID != "" {
		query.Set("rule", ruleID)
	}
	if targetID != "" {
		query.Set("target", targetID)
	}
	var alerts []models.AlertState
	if err := c.getList("/api/v1/alerts?"+query.Encode(), &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) IngestSample(sample *models.MetricSample) error {
	return c.do(http.MethodPost, "/api/v1/samples", sample, nil)
}

func (c *Client) ListSamples(metric, target string, start, end *time.Time) ([]models.MetricSample, error) {
	query := url.Values{}
	query.Set("metric", metric)
	query.Set("target", target)
	if start != nil {
		query.Set("start", start.Format(time.RFC3339))
	}
	if end != nil {
		query.Set("end", end.Format(time.RFC3339))
	}
	var samples []models.MetricSample
	if err := c.getList("/api/v1/samples?"+query.Encode(), &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func (c *Client) get(endpoint string, out interface{}) error {
	return c.do(http.MethodGet, endpoint, nil, out)
}

func (c *Client) getList(endpoint string, items interface{}) error {
	var resp listResponse
	if err := c.get(endpoint, &resp); err != nil {
		return err
	}
	if resp.Items == nil {
		return nil
	}
	return json.Unmarshal(resp.Items, items)
}

func (c *Client) do(method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

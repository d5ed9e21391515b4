package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the model service over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a model service client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type modelInfo struct {
	ModelVersion string `json:"model_version"`
}

type predictRequest struct {
	Window []float64 `json:"window"`
}

type predictResponse struct {
	Value float64 `json:"value"`
}

// Exists reports whether a trained model is available for the
// station/parameter
func (c *Client) Exists(ctx context.Context, stationID, parameter string) (bool, error) {
	version, err := c.ModelVersion(ctx, stationID, parameter)
	if err != nil {
		return false, err
	}
	return version != "", nil
}

// ModelVersion returns the current model version, or "" when the service
// has no model for the station/parameter
func (c *Client) ModelVersion(ctx context.Context, stationID, parameter string) (string, error) {
	url := fmt.Sprintf("%s/v1/models/%s/%s", c.baseURL, stationID, parameter)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request model info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	var info modelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode model info: %w", err)
	}

	return info.ModelVersion, nil
}

// Fit asks the model service to train a model for the station/parameter
func (c *Client) Fit(ctx context.Context, stationID, parameter string) (*FitResult, error) {
	url := fmt.Sprintf("%s/v1/models/%s/%s/fit", c.baseURL, stationID, parameter)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request model fit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var result FitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode fit result: %w", err)
	}

	return &result, nil
}

// Predict estimates the next value from the context window
func (c *Client) Predict(ctx context.Context, modelVersion string, window []float64) (float64, error) {
	url := fmt.Sprintf("%s/v1/models/%s/predict", c.baseURL, modelVersion)

	body, err := json.Marshal(predictRequest{Window: window})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request prediction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var prediction predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return 0, fmt.Errorf("decode prediction: %w", err)
	}

	return prediction.Value, nil
}

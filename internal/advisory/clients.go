package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrUpstream wraps any failure of an external collaborator so the request
// boundary can map it without leaking upstream detail.
var ErrUpstream = errors.New("upstream service unavailable")

// SoilParameters is the prediction service's input shape.
type SoilParameters struct {
	N           float64 `json:"N"`
	P           float64 `json:"P"`
	K           float64 `json:"K"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
}

// CropRecommendation is the prediction service's output: a predicted category
// with a probability distribution over all categories.
type CropRecommendation struct {
	PredictedCrop    string             `json:"predicted_crop"`
	Confidence       float64            `json:"confidence"`
	InputParameters  map[string]float64 `json:"input_parameters,omitempty"`
	AllProbabilities map[string]float64 `json:"all_probabilities,omitempty"`
}

// PredictionClient is a thin proxy to the externally hosted ML prediction
// service. The core's only contract with it: calls are gated upstream and
// recorded into the quota tracker on success.
type PredictionClient struct {
	baseURL string
	http    *http.Client
}

func NewPredictionClient(baseURL string, timeout time.Duration) *PredictionClient {
	return &PredictionClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *PredictionClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *PredictionClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *PredictionClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid JSON response", ErrUpstream)
	}
	return nil
}

// Recommend returns the predicted crop for one set of soil parameters.
func (c *PredictionClient) Recommend(ctx context.Context, p SoilParameters) (*CropRecommendation, error) {
	var rec CropRecommendation
	if err := c.postJSON(ctx, "/predict", p, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecommendBatch predicts crops for up to 100 parameter sets in one call.
func (c *PredictionClient) RecommendBatch(ctx context.Context, ps []SoilParameters) ([]CropRecommendation, error) {
	var recs []CropRecommendation
	if err := c.postJSON(ctx, "/predict/batch", ps, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Crops lists every crop the model can predict.
func (c *PredictionClient) Crops(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.getJSON(ctx, "/crops", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ModelInfo returns the prediction service's model metadata.
func (c *PredictionClient) ModelInfo(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.getJSON(ctx, "/model/info", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WeatherClient fetches current conditions from the weather data provider.
// Pass-through data: the response shape belongs to the provider.
type WeatherClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewWeatherClient(baseURL, apiKey string, timeout time.Duration) *WeatherClient {
	return &WeatherClient{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

func (c *WeatherClient) Current(ctx context.Context, location string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("q", location)
	q.Set("units", "metric")
	if c.apiKey != "" {
		q.Set("appid", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	var out json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON response", ErrUpstream)
	}
	return out, nil
}

// ChatClient talks to the chat/completion provider.
type ChatClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewChatClient(baseURL, apiKey string, timeout time.Duration) *ChatClient {
	return &ChatClient{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

// Send forwards one user message and returns the assistant's reply.
func (c *ChatClient) Send(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	var out struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: invalid JSON response", ErrUpstream)
	}
	return out.Reply, nil
}

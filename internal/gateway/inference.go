package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// InferenceConfig configures a Hugging Face text-generation inference endpoint.
type InferenceConfig struct {
	Endpoint    string
	Model       string
	APIToken    string
	MaxTokens   int
	Temperature float64
}

type InferenceBackend struct {
	cfg        InferenceConfig
	httpClient *http.Client
}

func NewInferenceBackend(cfg InferenceConfig) *InferenceBackend {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api-inference.huggingface.co"
	}
	return &InferenceBackend{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type inferenceRequest struct {
	Inputs     string                 `json:"inputs"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Options    map[string]interface{} `json:"options,omitempty"`
}

type inferenceOutput struct {
	GeneratedText string `json:"generated_text"`
	SummaryText   string `json:"summary_text"`
}

func (o inferenceOutput) text() string {
	if o.GeneratedText != "" {
		return o.GeneratedText
	}
	return o.SummaryText
}

func (b *InferenceBackend) Call(ctx context.Context, c Capability, p Payload) (string, error) {
	system, user, err := buildPrompt(c, p)
	if err != nil {
		return "", err
	}

	params := map[string]interface{}{"return_full_text": false}
	if b.cfg.MaxTokens > 0 {
		params["max_new_tokens"] = b.cfg.MaxTokens
	}
	if b.cfg.Temperature > 0 {
		params["temperature"] = b.cfg.Temperature
	}
	body, _ := json.Marshal(inferenceRequest{
		Inputs:     system + "\n\n" + user,
		Parameters: params,
		Options:    map[string]interface{}{"wait_for_model": true},
	})

	url := strings.TrimRight(b.cfg.Endpoint, "/") + "/models/" + b.cfg.Model
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIToken)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	// The API answers with either a list of outputs or a single object.
	var list []inferenceOutput
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", invalidResponse("empty inference output list")
		}
		return list[0].text(), nil
	}
	var single inferenceOutput
	if err := json.Unmarshal(raw, &single); err != nil {
		return "", invalidResponse("decode inference response: %v", err)
	}
	return single.text(), nil
}

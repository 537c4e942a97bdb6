package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HuggingFaceClient calls the Hugging Face text-generation inference API.
type HuggingFaceClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type hfParameters struct {
	Temperature    float64 `json:"temperature"`
	MaxNewTokens   int     `json:"max_new_tokens"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

func NewHuggingFace(baseURL, apiKey, model string, client *http.Client) *HuggingFaceClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HuggingFaceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
	}
}

func (c *HuggingFaceClient) Name() string {
	return "huggingface"
}

func (c *HuggingFaceClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(hfRequest{
		Inputs: prompt,
		Parameters: hfParameters{
			Temperature:  defaultTemperature,
			MaxNewTokens: defaultMaxTokens,
		},
	})
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/models/" + (&url.URL{Path: c.model}).EscapedPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("huggingface API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out []hfGeneration
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("huggingface API error: decoding response: %w", err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("huggingface API error: no generations returned")
	}
	return out[0].GeneratedText, nil
}

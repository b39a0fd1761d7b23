package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	openAISpeechEndpoint = "https://api.openai.com/v1/audio/speech"
	openAIDefaultModel   = "tts-1"
	openAIDefaultVoice   = "alloy"
	openAISampleRate     = 24000 // PCM response format is fixed at 24kHz
)

// OpenAIProvider synthesizes speech with OpenAI's TTS API, requesting raw
// PCM so no container parsing is needed.
type OpenAIProvider struct {
	apiKey     string
	model      string // "tts-1" or "tts-1-hd"
	endpoint   string
	httpClient *http.Client
}

type openAISpeechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// NewOpenAIProvider creates a provider. An empty apiKey falls back to
// OPENAI_API_KEY.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	endpoint := openAISpeechEndpoint
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		endpoint = strings.TrimSuffix(baseURL, "/") + "/audio/speech"
	}

	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      openAIDefaultModel,
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

// SetModel overrides the synthesis model ("tts-1" or "tts-1-hd").
func (p *OpenAIProvider) SetModel(model string) {
	p.model = model
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("synth: API key is not configured")
	}

	voice := req.Voice
	if voice == "" {
		voice = openAIDefaultVoice
	}

	payload, err := json.Marshal(openAISpeechRequest{
		Model:          p.model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return nil, fmt.Errorf("synth: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("synth: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synth: speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("synth: speech API status %d: %s", resp.StatusCode, msg)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("synth: read audio: %w", err)
	}

	return &Audio{PCM: pcm, SampleRate: openAISampleRate}, nil
}

var _ Provider = (*OpenAIProvider)(nil)

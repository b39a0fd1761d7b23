package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
)

const (
	whisperEndpoint     = "https://api.openai.com/v1/audio/transcriptions"
	whisperDefaultModel = "whisper-1"
)

// WhisperRecognizer transcribes utterances with OpenAI's transcription API.
type WhisperRecognizer struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// NewWhisperRecognizer creates a recognizer. An empty apiKey falls back to
// OPENAI_API_KEY.
func NewWhisperRecognizer(apiKey string) *WhisperRecognizer {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	endpoint := whisperEndpoint
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		endpoint = strings.TrimSuffix(baseURL, "/") + "/audio/transcriptions"
	}

	return &WhisperRecognizer{
		apiKey:     apiKey,
		model:      whisperDefaultModel,
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
}

// SetModel overrides the transcription model.
func (r *WhisperRecognizer) SetModel(model string) {
	r.model = model
}

func (r *WhisperRecognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	if r.apiKey == "" {
		return "", fmt.Errorf("asr: API key is not configured")
	}
	if len(pcm) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("asr: create form file: %w", err)
	}
	if _, err := part.Write(pcmToWAV(pcm, sampleRate)); err != nil {
		return "", fmt.Errorf("asr: write audio: %w", err)
	}

	writer.WriteField("model", r.model)
	if language != "" {
		writer.WriteField("language", language)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("asr: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("asr: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("asr: transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("asr: transcription API status %d: %s", resp.StatusCode, msg)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("asr: decode response: %w", err)
	}

	return parsed.Text, nil
}

var _ Recognizer = (*WhisperRecognizer)(nil)

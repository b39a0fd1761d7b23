package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const classifierPrompt = `You classify a single utterance from a phone call.
Reply with JSON only: {"language": "<iso 639-1 code>", "intent": "<affirmative|negative|ambiguous>", "confidence": <0.0-1.0>}.
"intent" is the speaker's answer to a yes/no question; use "ambiguous" when unsure.`

// OpenAIConfig holds configuration for the OpenAI-backed classifier.
type OpenAIConfig struct {
	APIKey string
	Model  string // e.g. "gpt-4o-mini"
}

// OpenAIClassifier sends transcripts to the Chat Completion API. On any API
// or parse failure it falls back to the rule classifier so a flaky upstream
// never turns a usable answer into an escalation.
type OpenAIClassifier struct {
	config   OpenAIConfig
	client   *openai.Client
	fallback *RuleClassifier
}

// NewOpenAIClassifier creates the classifier.
func NewOpenAIClassifier(config OpenAIConfig) (*OpenAIClassifier, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAIClassifier{
		config:   config,
		client:   &client,
		fallback: NewRuleClassifier(),
	}, nil
}

type classifierReply struct {
	Language   string  `json:"language"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Analysis, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.config.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifierPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		log.Printf("[IntentClassifier] API error, falling back to rules: %v", err)
		return c.fallback.Classify(ctx, text)
	}

	if len(completion.Choices) == 0 {
		return c.fallback.Classify(ctx, text)
	}

	var reply classifierReply
	content := completion.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		log.Printf("[IntentClassifier] Unparseable reply %q, falling back to rules", content)
		return c.fallback.Classify(ctx, text)
	}

	analysis := Analysis{
		Language:   strings.ToLower(strings.TrimSpace(reply.Language)),
		Confidence: reply.Confidence,
	}
	switch strings.ToLower(reply.Intent) {
	case "affirmative", "yes":
		analysis.Intent = IntentAffirmative
	case "negative", "no":
		analysis.Intent = IntentNegative
	default:
		analysis.Intent = IntentAmbiguous
	}
	return analysis, nil
}

var _ Classifier = (*OpenAIClassifier)(nil)

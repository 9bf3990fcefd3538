package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/siherrmann/resolver/core/retry"
)

// DefaultModel is used when AnthropicOptions.Model is empty.
const DefaultModel = "claude-sonnet-4-5"

// AnthropicOptions configures AnthropicVerifier.
type AnthropicOptions struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Retry     retry.Config
	Logger    *slog.Logger
	// ClientOptions are appended to the API key option, e.g. a base url for tests.
	ClientOptions []option.RequestOption
}

// AnthropicVerifier asks a Claude model to compare the mention with the candidate.
type AnthropicVerifier struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retrier   *retry.Retrier
	log       *slog.Logger
}

var _ Verifier = (*AnthropicVerifier)(nil)

// NewAnthropicVerifier creates a model-backed verifier.
func NewAnthropicVerifier(opts AnthropicOptions) (*AnthropicVerifier, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is empty")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 512
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	retrier, err := retry.New(opts.Retry, logger)
	if err != nil {
		return nil, err
	}

	clientOptions := append([]option.RequestOption{option.WithAPIKey(opts.APIKey)}, opts.ClientOptions...)
	return &AnthropicVerifier{
		client:    anthropic.NewClient(clientOptions...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		retrier:   retrier,
		log:       logger,
	}, nil
}

type modelJudgment struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Verify sends one prompt and parses the JSON judgment of the reply.
func (v *AnthropicVerifier) Verify(ctx context.Context, req Request) (Judgment, error) {
	if req.Candidate == nil {
		return Judgment{}, fmt.Errorf("candidate is nil")
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return Judgment{}, err
	}

	var responseText string
	err = v.retrier.Do(ctx, "verify candidate", func(attemptCtx context.Context) error {
		resp, apiErr := v.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(v.model),
			MaxTokens: v.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}

		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		responseText = sb.String()
		return nil
	})
	if err != nil {
		return Judgment{}, fmt.Errorf("anthropic verification failed: %w", err)
	}

	parsed, err := parseJSON[modelJudgment](responseText)
	if err != nil {
		return Judgment{}, fmt.Errorf("failed to parse verification: %w", err)
	}
	verdict, err := ParseVerdict(parsed.Decision)
	if err != nil {
		return Judgment{}, fmt.Errorf("failed to parse verification: %w", err)
	}

	v.log.Debug("Candidate verified", "name", req.Name, "entity_id", req.Candidate.ID, "decision", verdict, "confidence", parsed.Confidence)

	return Judgment{
		Verdict:    verdict,
		Confidence: clamp(parsed.Confidence),
		Reason:     parsed.Reason,
	}, nil
}

func buildPrompt(req Request) (string, error) {
	attributes := "{}"
	if len(req.Candidate.Attributes) > 0 {
		b, err := json.Marshal(req.Candidate.Attributes)
		if err != nil {
			return "", fmt.Errorf("failed to marshal attributes: %w", err)
		}
		attributes = string(b)
	}

	return fmt.Sprintf(`You decide whether a name mentioned in a text refers to a known %s.

Mention: %q
Context of the mention:
%s

Known %s: %q
Description: %s
Attributes: %s

Answer with a single JSON object and nothing else:
{"decision": "accept" | "reject" | "uncertain", "confidence": <number between 0 and 1>, "reason": "<one sentence>"}`,
		req.Candidate.Type, req.Name, req.ContextText,
		req.Candidate.Type, req.Candidate.DisplayName, req.Candidate.Description, attributes), nil
}

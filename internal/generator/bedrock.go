package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"giftwise-api/internal/models"
)

const (
	DefaultBedrockModel  = "anthropic.claude-3-haiku-20240307-v1:0"
	bedrockAPIVersion    = "bedrock-2023-05-31"
	bedrockMaxTokens     = 1024
	defaultBedrockRegion = "us-east-1"
)

// bedrockAPI is the subset of the Bedrock runtime client used here.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockGenerator asks an Anthropic model hosted on AWS Bedrock.
type BedrockGenerator struct {
	client  bedrockAPI
	modelID string
}

type bedrockContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockMessage struct {
	Role    string           `json:"role"`
	Content []bedrockContent `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content    []bedrockContent `json:"content"`
	StopReason string           `json:"stop_reason"`
}

// NewBedrockGenerator loads the default AWS credential chain for region.
func NewBedrockGenerator(ctx context.Context, region, modelID string) (*BedrockGenerator, error) {
	if region == "" {
		region = defaultBedrockRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newBedrockGenerator(bedrockruntime.NewFromConfig(cfg), modelID), nil
}

func newBedrockGenerator(client bedrockAPI, modelID string) *BedrockGenerator {
	if modelID == "" {
		modelID = DefaultBedrockModel
	}
	return &BedrockGenerator{client: client, modelID: modelID}
}

func (g *BedrockGenerator) Generate(ctx context.Context, req models.SuggestionRequest) ([]models.Suggestion, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAPIVersion,
		MaxTokens:        bedrockMaxTokens,
		System:           SystemPrompt(),
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockContent{{Type: "text", Text: UserPrompt(req)}},
		}},
		Temperature: DefaultTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke failed: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse bedrock response: %w", err)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	return ParseSuggestions(text.String())
}

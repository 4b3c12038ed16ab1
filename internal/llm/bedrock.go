package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// ModelError wraps any upstream failure from the language model: rate limits,
// network errors, malformed responses. Calls are never retried here; retry
// policy, if any, belongs to the caller.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string { return "model error: " + e.Err.Error() }
func (e *ModelError) Unwrap() error { return e.Err }

// BedrockClient generates a single response per conversation turn through the
// Bedrock Converse API.
type BedrockClient struct {
	svc         *bedrockruntime.Client
	modelID     string
	temperature float32
}

// NewBedrockClient builds a client for the given model.
func NewBedrockClient(cfg aws.Config, modelID string) *BedrockClient {
	return &BedrockClient{
		svc:         bedrockruntime.NewFromConfig(cfg),
		modelID:     modelID,
		temperature: 0.7,
	}
}

// Generate performs one blocking model invocation for the given turn.
func (c *BedrockClient) Generate(ctx context.Context, systemPrompt, userText string) (string, error) {
	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: userText}},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{Temperature: aws.Float32(c.temperature)},
	}
	if systemPrompt != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: systemPrompt}}
	}

	out, err := c.svc.Converse(ctx, in)
	if err != nil {
		return "", &ModelError{Err: err}
	}
	text, err := converseText(out)
	if err != nil {
		return "", &ModelError{Err: err}
	}
	return text, nil
}

// converseText extracts the assistant text from a Converse response.
func converseText(out *bedrockruntime.ConverseOutput) (string, error) {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("unexpected output type %T", out.Output)
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(t.Value)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errors.New("empty model output")
	}
	return text, nil
}

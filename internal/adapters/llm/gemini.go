package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/vivaprep/defense-agent/internal/domain"
)

// callTimeout bounds every evaluator call so a stuck model request
// cannot hang a phase transition.
const callTimeout = 60 * time.Second

type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient creates a domain.Evaluator backed by Vertex AI
// (Gemini). Missing project or location is reported as
// domain.ErrNoCredentials so callers can take their fallback path.
func NewGeminiClient(ctx context.Context, projectID, location, modelName string) (*GeminiClient, error) {
	if projectID == "" || location == "" {
		return nil, domain.ErrNoCredentials
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		modelName: modelName,
	}, nil
}

// GenerateText implements the free-text half of domain.Evaluator.
func (g *GeminiClient) GenerateText(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	res, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		g.config(opts, nil))
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}

// GenerateStructured asks for a JSON response constrained by the given
// schema and returns the raw JSON bytes.
func (g *GeminiClient) GenerateStructured(ctx context.Context, prompt string, schema *domain.Schema, opts domain.GenerateOptions) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	res, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		g.config(opts, schema))
	if err != nil {
		return nil, fmt.Errorf("gemini generate structured: %w", err)
	}

	text := res.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty structured response")
	}
	return []byte(text), nil
}

func (g *GeminiClient) config(opts domain.GenerateOptions, schema *domain.Schema) *genai.GenerateContentConfig {
	temp := opts.Temperature
	outputTokens := opts.MaxTokens
	if outputTokens == 0 {
		outputTokens = 8192
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: outputTokens,
	}
	if opts.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGenaiSchema(schema)
	}
	return cfg
}

func toGenaiSchema(s *domain.Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}

	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "array":
		out.Type = genai.TypeArray
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
	}

	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiSchema(v)
		}
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	return out
}

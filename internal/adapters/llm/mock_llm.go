package llm

import (
	"context"

	"github.com/vivaprep/defense-agent/internal/domain"
)

// MockEvaluator is a scriptable domain.Evaluator for local mode and
// tests. Unset hooks answer with ErrNoCredentials so callers exercise
// the same fallback paths a missing credential would trigger.
type MockEvaluator struct {
	GenerateTextFunc       func(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error)
	GenerateStructuredFunc func(ctx context.Context, prompt string, schema *domain.Schema, opts domain.GenerateOptions) ([]byte, error)
}

func NewMockEvaluator() *MockEvaluator {
	return &MockEvaluator{}
}

func (m *MockEvaluator) GenerateText(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	if m.GenerateTextFunc != nil {
		return m.GenerateTextFunc(ctx, prompt, opts)
	}
	return "", domain.ErrNoCredentials
}

func (m *MockEvaluator) GenerateStructured(ctx context.Context, prompt string, schema *domain.Schema, opts domain.GenerateOptions) ([]byte, error) {
	if m.GenerateStructuredFunc != nil {
		return m.GenerateStructuredFunc(ctx, prompt, schema, opts)
	}
	return nil, domain.ErrNoCredentials
}

package feedback

import (
	"fmt"
	"strings"

	"github.com/vivaprep/defense-agent/internal/domain"
)

const evaluationInstructions = `You are an experienced academic examiner scoring a project-defense transcript.
Score these five dimensions, each 0-100 with a short comment:
1. Technical Accuracy
2. Documentation Alignment
3. Response Structure
4. Critical Thinking
5. Time Management

Also provide: an overall score (0-100), 3-5 strengths, 3-5 areas for improvement,
a final assessment paragraph, any gaps you noticed between the answers and the
project documentation, and concrete implementation suggestions.
Judge only what is in the transcript. Be fair but rigorous for the stated academic level.`

func buildPrompt(in Input) string {
	var b strings.Builder

	b.WriteString(evaluationInstructions)
	b.WriteString("\n\nProject: ")
	b.WriteString(in.Session.Title)
	fmt.Fprintf(&b, "\nAcademic level: %s", in.Session.Level)
	if len(in.Session.Techstack) > 0 {
		fmt.Fprintf(&b, "\nTechnologies: %s", strings.Join(in.Session.Techstack, ", "))
	}
	if in.Session.FocusRatio != "" {
		fmt.Fprintf(&b, "\nFocus: %s", in.Session.FocusRatio)
	}

	b.WriteString("\n\nTranscript:\n")
	for _, turn := range in.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
	}

	return b.String()
}

func evaluationSchema() *domain.Schema {
	zero, hundred := 0.0, 100.0
	scoreSchema := &domain.Schema{Type: "integer", Minimum: &zero, Maximum: &hundred}

	return &domain.Schema{
		Type: "object",
		Properties: map[string]*domain.Schema{
			"total_score": scoreSchema,
			"category_scores": {
				Type: "array",
				Items: &domain.Schema{
					Type: "object",
					Properties: map[string]*domain.Schema{
						"name":    {Type: "string", Description: "one of the five fixed dimension names"},
						"score":   scoreSchema,
						"comment": {Type: "string"},
					},
					Required: []string{"name", "score"},
				},
			},
			"strengths":        {Type: "array", Items: &domain.Schema{Type: "string"}},
			"improvements":     {Type: "array", Items: &domain.Schema{Type: "string"}},
			"final_assessment": {Type: "string"},
			"document_gaps":    {Type: "array", Items: &domain.Schema{Type: "string"}},
			"suggestions":      {Type: "array", Items: &domain.Schema{Type: "string"}},
		},
		Required: []string{"total_score", "category_scores", "final_assessment"},
	}
}

package questions

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vivaprep/defense-agent/internal/domain"
	"github.com/vivaprep/defense-agent/internal/observability"
)

const (
	// DefaultCount is how many questions an examination runs on.
	DefaultCount = 10

	// documentBudget caps how much document text goes into the prompt,
	// to respect the evaluator's context limits.
	documentBudget = 7000

	// minValidQuestions is the acceptance bar for an evaluator reply;
	// below it the whole reply is discarded in favor of the fallback.
	minValidQuestions = 5

	generationTemperature = 0.3
)

const promptTemplate = `You are preparing a %s-level academic project defense.
Project title: %s
Technologies: %s
%s
Generate exactly %d defense questions. Weighting:
- 40%% questions specific to the document content
- 30%% questions challenging the methodology
- 20%% questions about alternative approaches
- 10%% questions about ethics and scalability
%s
Write one question per line. Every line must end with a question mark. No numbering, no commentary.`

// Synthesizer turns extracted document text into a fixed list of
// defense questions, falling back to a deterministic list whenever the
// evaluator cannot deliver.
type Synthesizer struct {
	evaluator domain.Evaluator
}

func NewSynthesizer(evaluator domain.Evaluator) *Synthesizer {
	return &Synthesizer{evaluator: evaluator}
}

type Input struct {
	DocumentText string
	Title        string
	Level        domain.AcademicLevel
	Techstack    []string
	FocusRatio   string
	Count        int
}

// Synthesize never fails: any evaluator problem, including missing
// credentials, answers with the fallback list instead.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) []string {
	if in.Count <= 0 {
		in.Count = DefaultCount
	}

	log := observability.LoggerFromContext(ctx).With("title", in.Title, "level", in.Level)

	if s.evaluator == nil {
		log.Info("no evaluator configured, using fallback questions")
		return Fallback(in.Level, in.Title, in.Techstack)
	}

	prompt := buildPrompt(in)

	raw, err := s.evaluator.GenerateText(ctx, prompt, domain.GenerateOptions{
		Temperature: generationTemperature,
	})
	if err != nil {
		log.Warn("question generation failed, using fallback", "error", err)
		return Fallback(in.Level, in.Title, in.Techstack)
	}

	parsed := parseQuestions(raw)
	if len(parsed) < minValidQuestions {
		log.Warn("too few valid questions from evaluator, using fallback",
			"valid_count", len(parsed))
		return Fallback(in.Level, in.Title, in.Techstack)
	}

	if len(parsed) > in.Count {
		parsed = parsed[:in.Count]
	}
	// Top up from the fallback list so callers always get the count
	// they asked for.
	for _, q := range Fallback(in.Level, in.Title, in.Techstack) {
		if len(parsed) >= in.Count {
			break
		}
		if !contains(parsed, q) {
			parsed = append(parsed, q)
		}
	}

	log.Info("questions synthesized", "count", len(parsed))
	return parsed
}

func buildPrompt(in Input) string {
	doc := strings.TrimSpace(in.DocumentText)
	if len(doc) > documentBudget {
		// Back off to a rune boundary so the cut never produces
		// invalid UTF-8.
		cut := documentBudget
		for cut > 0 && !utf8.RuneStart(doc[cut]) {
			cut--
		}
		doc = doc[:cut]
	}

	docSection := "No project document was provided."
	if doc != "" {
		docSection = "Project document:\n---\n" + doc + "\n---"
	}

	focusSection := ""
	if in.FocusRatio != "" {
		focusSection = "Focus ratio requested by the student: " + in.FocusRatio + "\n"
	}

	return fmt.Sprintf(promptTemplate,
		in.Level, in.Title, techString(in.Techstack), docSection, questionCount(in.Count), focusSection)
}

func questionCount(n int) int {
	if n <= 0 {
		return DefaultCount
	}
	return n
}

// parseQuestions keeps only trimmed lines that end with a question
// mark, stripping list markers the model tends to add anyway.
func parseQuestions(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• \t")
		line = stripNumbering(line)
		if line == "" || !strings.HasSuffix(line, "?") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func stripNumbering(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

func techString(tech []string) string {
	if len(tech) == 0 {
		return "not specified"
	}
	return strings.Join(tech, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

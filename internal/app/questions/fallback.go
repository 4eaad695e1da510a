package questions

import (
	"fmt"

	"github.com/vivaprep/defense-agent/internal/domain"
)

// Fallback returns the fixed list of ten generic defense questions,
// parameterized only by level, title and technologies. It is pure and
// total: no external calls, no failure modes.
func Fallback(level domain.AcademicLevel, title string, tech []string) []string {
	if title == "" {
		title = "your project"
	}
	levelStr := string(level)
	if levelStr == "" {
		levelStr = string(domain.LevelUndetermined)
	}
	techStr := techString(tech)

	return []string{
		fmt.Sprintf("Can you walk us through the main objective of %s and why it matters?", title),
		fmt.Sprintf("What motivated your choice of %s for this project?", techStr),
		"How did you validate that your solution actually solves the problem you set out to address?",
		fmt.Sprintf("What were the biggest technical challenges you faced while building %s, and how did you overcome them?", title),
		"If you had to rebuild this project from scratch, what would you do differently?",
		fmt.Sprintf("How does your methodology compare to existing approaches in this area at the %s level?", levelStr),
		"What are the main limitations of your current implementation?",
		"How would your solution scale if the number of users or the data volume grew tenfold?",
		"What ethical considerations, such as privacy or fairness, did you take into account?",
		fmt.Sprintf("Where do you see the future development of %s going after this defense?", title),
	}
}

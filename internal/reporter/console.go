package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/gusmmm/theparser/internal/plan"
)

var (
	subjectStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	stageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	headStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Console renders progress lines for a terminal.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes styled progress to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Report implements Reporter.
func (c *Console) Report(level Level, subjectID, stage, message string) {
	line := fmt.Sprintf("%s %s %s",
		subjectStyle.Render(subjectID),
		stageStyle.Render(fmt.Sprintf("[%s]", stage)),
		message,
	)
	switch level {
	case LevelWarn:
		line = fmt.Sprintf("%s %s", warnStyle.Render("!"), line)
	case LevelError:
		line = fmt.Sprintf("%s %s", errorStyle.Render("x"), line)
	default:
		line = "  " + line
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// RenderPlan formats a plan preview: work lists, skip and force reasons.
func RenderPlan(p plan.Plan) string {
	var b strings.Builder
	sum := p.Summary()
	b.WriteString(headStyle.Render(fmt.Sprintf("PLAN · %s", p.Flags.Mode)))
	fmt.Fprintf(&b, "\nforce=%v skip-existing=%v\n", p.Flags.Force, p.Flags.SkipExisting)
	fmt.Fprintf(&b, "parse %d · merge %d · clean %d · skipped %d · forced %d\n",
		sum.Parse, sum.Merge, sum.Clean, sum.Skip, sum.Forced)

	parse := make([]string, 0, len(p.SubjectsToParse))
	for id, files := range p.SubjectsToParse {
		parse = append(parse, fmt.Sprintf("%s (%d files)", id, len(files)))
	}
	sort.Strings(parse)
	writeList(&b, "parse", parse)
	writeList(&b, "merge", p.SubjectsToMerge)
	writeList(&b, "clean", p.SubjectsToClean)
	writeList(&b, "skipped", p.SkipReasons)
	writeList(&b, "forced", p.ForceReasons)
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", stageStyle.Render(title))
	for _, it := range items {
		fmt.Fprintf(b, "  - %s\n", it)
	}
}

// File: internal/reporting/markdown.go
// Description: Renders the final analysis into a sectioned markdown report
// with cover metadata and a table of contents, and writes it into the report
// folder.

package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	companyName = "CERBERUS"
	reportTitle = "Security Assessment Report"
)

// Metadata identifies one generated report.
type Metadata struct {
	ID        string
	Generated time.Time
}

// NewMetadata mints a report identity: CERB-<date>-<random suffix>.
func NewMetadata(now time.Time) Metadata {
	return Metadata{
		ID:        fmt.Sprintf("CERB-%s-%s", now.Format("20060102"), uuid.NewString()[:8]),
		Generated: now,
	}
}

type subsection struct {
	title   string
	content string
}

type section struct {
	title   string
	content string
	subs    []subsection
}

type reportBody struct {
	preamble string
	sections []section
}

// parseSections splits the analysis text on "#### " main headings and
// "##### " subsection headings. Text before the first heading is kept as a
// preamble; a subsection arriving before any main section is promoted.
func parseSections(text string) reportBody {
	var body reportBody
	var content []string

	flush := func() {
		joined := strings.TrimSpace(strings.Join(content, "\n"))
		content = nil
		if joined == "" {
			return
		}
		if len(body.sections) == 0 {
			body.preamble = joined
			return
		}
		sec := &body.sections[len(body.sections)-1]
		if len(sec.subs) > 0 {
			sec.subs[len(sec.subs)-1].content = joined
			return
		}
		sec.content = joined
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "#### "):
			flush()
			body.sections = append(body.sections, section{
				title: strings.TrimSpace(strings.TrimPrefix(line, "#### ")),
			})
		case strings.HasPrefix(line, "##### "):
			flush()
			title := strings.TrimSpace(strings.TrimPrefix(line, "##### "))
			if len(body.sections) == 0 {
				body.sections = append(body.sections, section{title: title})
				continue
			}
			sec := &body.sections[len(body.sections)-1]
			sec.subs = append(sec.subs, subsection{title: title})
		default:
			content = append(content, line)
		}
	}
	flush()

	return body
}

// RenderReport assembles the full report document: cover metadata, table of
// contents, then the re-leveled section body.
func RenderReport(analysis string, meta Metadata) string {
	body := parseSections(analysis)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", companyName)
	fmt.Fprintf(&b, "## %s\n\n", reportTitle)
	fmt.Fprintf(&b, "Date: %s\n", meta.Generated.Format("January 02, 2006"))
	fmt.Fprintf(&b, "Report ID: %s\n\n", meta.ID)

	if len(body.sections) > 0 {
		b.WriteString("## Table of Contents\n\n")
		for i, sec := range body.sections {
			fmt.Fprintf(&b, "%d. %s\n", i+1, sec.title)
			for _, sub := range sec.subs {
				fmt.Fprintf(&b, "   - %s\n", sub.title)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n")

	if body.preamble != "" {
		b.WriteString(body.preamble)
		b.WriteString("\n\n")
	}
	for _, sec := range body.sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.title)
		if sec.content != "" {
			b.WriteString(sec.content)
			b.WriteString("\n\n")
		}
		for _, sub := range sec.subs {
			fmt.Fprintf(&b, "### %s\n\n", sub.title)
			if sub.content != "" {
				b.WriteString(sub.content)
				b.WriteString("\n\n")
			}
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// WriteReport renders the report and writes it into the folder, creating the
// folder if needed. Returns the path of the written file.
func WriteReport(folder, analysis string, meta Metadata) (string, error) {
	rendered := RenderReport(analysis, meta)

	filename := fmt.Sprintf("cerberus_security_report_%s.md", strings.TrimPrefix(meta.ID, "CERB-"))
	if folder != "" {
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return "", fmt.Errorf("creating report folder %q: %w", folder, err)
		}
	}
	path := filepath.Join(folder, filename)

	if err := os.WriteFile(path, []byte(rendered), 0o644); err != nil {
		return "", fmt.Errorf("writing report %q: %w", path, err)
	}
	return path, nil
}

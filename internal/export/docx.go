// Package export renders minutes and transcripts as Word documents.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	fontName  = "Times New Roman"
	fontSize  = 13
	titleSize = 16
	textColor = "000000"
)

var (
	reHeading  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	reBold     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBullet   = regexp.MustCompile(`^[-*+]\s+(.+)$`)
	reNumbered = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)
	reDivider  = regexp.MustCompile(`^\|?[\s\-|:]+\|?$`)
	reLink     = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	reSpeaker  = regexp.MustCompile(`^([^:\n]{1,80}):\s+(.+)$`)
)

// Minutes writes markdown minutes to a DOCX file at path.
func Minutes(title, markdown, path string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("export: new document: %w", err)
	}
	if title = strings.TrimSpace(title); title != "" {
		addStyledRun(doc.AddParagraph(""), title, true, titleSize)
	}

	inCode := false
	for _, line := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			doc.AddParagraph("").AddText(line).Font("Courier New").Size(fontSize - 2).Color(textColor)
			continue
		}
		if trimmed == "" || trimmed == "---" || trimmed == "***" {
			continue
		}

		switch {
		case reHeading.MatchString(trimmed):
			m := reHeading.FindStringSubmatch(trimmed)
			addStyledRun(doc.AddParagraph(""), m[2], true, headingSize(len(m[1])))
		case strings.HasPrefix(trimmed, "|"):
			if reDivider.MatchString(trimmed) {
				continue
			}
			cells := strings.Split(strings.Trim(trimmed, "|"), "|")
			for i := range cells {
				cells[i] = strings.TrimSpace(cells[i])
			}
			addRichText(doc.AddParagraph(""), strings.Join(cells, " | "))
		case reBullet.MatchString(trimmed):
			addRichText(doc.AddParagraph(""), "• "+reBullet.FindStringSubmatch(trimmed)[1])
		case reNumbered.MatchString(trimmed):
			addRichText(doc.AddParagraph(""), trimmed)
		default:
			addRichText(doc.AddParagraph(""), trimmed)
		}
	}
	return save(doc, path)
}

// Transcript writes speaker-attributed transcript text. Lines shaped like
// "Speaker: text" get the speaker in bold.
func Transcript(title, text, path string) error {
	doc, err := godocx.NewDocument()
	if err != nil {
		return fmt.Errorf("export: new document: %w", err)
	}
	if title = strings.TrimSpace(title); title != "" {
		addStyledRun(doc.AddParagraph(""), title, true, titleSize)
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		p := doc.AddParagraph("")
		if m := reSpeaker.FindStringSubmatch(trimmed); m != nil {
			p.AddText(m[1] + ": ").Font(fontName).Size(fontSize).Color(textColor).Bold(true)
			p.AddText(m[2]).Font(fontName).Size(fontSize).Color(textColor)
			continue
		}
		p.AddText(trimmed).Font(fontName).Size(fontSize).Color(textColor)
	}
	return save(doc, path)
}

// save writes next to path and renames, so a failed export never leaves a
// truncated document behind.
func save(doc *docx.RootDoc, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := doc.SaveTo(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("export: save document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("export: finalize document: %w", err)
	}
	return nil
}

func headingSize(level int) uint64 {
	switch level {
	case 1:
		return 16
	case 2:
		return 15
	case 3:
		return 14
	default:
		return fontSize
	}
}

func addStyledRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(cleanInline(text)).Font(fontName).Size(size).Color(textColor)
	if bold {
		run.Bold(true)
	}
}

func addRichText(p *docx.Paragraph, text string) {
	text = reLink.ReplaceAllString(text, "$1 ($2)")
	parts := reBold.Split(text, -1)
	matches := reBold.FindAllStringSubmatch(text, -1)
	for i, part := range parts {
		if part != "" {
			p.AddText(cleanInline(part)).Font(fontName).Size(fontSize).Color(textColor)
		}
		if i < len(matches) {
			p.AddText(cleanInline(matches[i][1])).Font(fontName).Size(fontSize).Color(textColor).Bold(true)
		}
	}
}

func cleanInline(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = strings.ReplaceAll(s, "`", "")
	return s
}

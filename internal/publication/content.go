package publication

import (
	"html"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTopic titles pages whose minutes and job carry no usable topic.
const DefaultTopic = "Протокол встречи"

const maxTopicRunes = 100

var (
	dateField    = regexp.MustCompile(`(?i)(?:дата|date):\s*(\d{1,2}[./]\d{1,2}[./]\d{2,4}|\d{4}-\d{2}-\d{2})`)
	topicField   = regexp.MustCompile(`(?i)(?:тема|topic|subject):\s*\*?\*?\s*(.+?)(?:\n|$)`)
	headerDate   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}|\d{1,2}[./]\d{1,2}[./]\d{2,4})`)
	firstHeading = regexp.MustCompile(`(?m)^#\s*(.+?)$`)
	topicJunk    = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.,()]+`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

var dateLayouts = []string{"2006-01-02", "2.1.2006", "2/1/2006", "2.1.06", "2/1/06"}

// MeetingInfo is what the minutes say about the meeting itself.
type MeetingInfo struct {
	Date  string
	Topic string
}

// ExtractMeetingInfo finds the meeting date and topic. Explicit "Дата:" and
// "Тема:" fields win; otherwise the first date in the opening 200 characters
// and the first level-one heading are used.
func ExtractMeetingInfo(minutes string) MeetingInfo {
	var info MeetingInfo
	if m := dateField.FindStringSubmatch(minutes); m != nil {
		info.Date = m[1]
	}
	if m := topicField.FindStringSubmatch(minutes); m != nil {
		info.Topic = strings.TrimSpace(m[1])
	}
	if info.Date == "" {
		if m := headerDate.FindStringSubmatch(prefixRunes(minutes, 200)); m != nil {
			info.Date = m[1]
		}
	}
	if info.Topic == "" {
		if m := firstHeading.FindStringSubmatch(minutes); m != nil {
			info.Topic = strings.TrimSpace(m[1])
		}
	}
	return info
}

// ParseMeetingDate accepts the date spellings ExtractMeetingInfo finds.
func ParseMeetingDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// PageTitle builds "YYYY-MM-DD - topic". An unparsable date falls back to
// fallbackDate; an empty topic falls back to the filename stem and then to
// DefaultTopic.
func PageTitle(info MeetingInfo, fallbackDate time.Time, filename string) string {
	date, ok := ParseMeetingDate(info.Date)
	if !ok {
		date = fallbackDate
	}
	if date.IsZero() {
		date = time.Now()
	}

	topic := cleanTopic(info.Topic)
	if topic == "" {
		stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		if stem != "." && stem != string(filepath.Separator) {
			topic = cleanTopic(stem)
		}
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return date.Format("2006-01-02") + " - " + topic
}

func cleanTopic(topic string) string {
	topic = topicJunk.ReplaceAllString(topic, "")
	topic = strings.TrimSpace(spaceRun.ReplaceAllString(topic, " "))
	return strings.TrimSpace(prefixRunes(topic, maxTopicRunes))
}

func prefixRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

var (
	headingLine  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	bulletLine   = regexp.MustCompile(`^\s*[-*+]\s+(.+)$`)
	orderedLine  = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
	ruleLine     = regexp.MustCompile(`^(?:-{3,}|\*{3,}|_{3,})$`)
	tableDivider = regexp.MustCompile(`^\|?[\s\-|:]+\|?$`)
	codeSpan     = regexp.MustCompile("`([^`]+)`")
	strongStars  = regexp.MustCompile(`\*\*(.+?)\*\*`)
	strongUnders = regexp.MustCompile(`__(.+?)__`)
	emStars      = regexp.MustCompile(`\*([^*\s][^*]*)\*`)
	emUnders     = regexp.MustCompile(`(^|\s)_([^_\s][^_]*)_($|\s)`)
	markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
)

// MarkdownToStorage converts minutes markdown into Confluence storage
// format: headings, paragraphs, bullet and numbered lists, pipe tables,
// fenced code blocks (as the code macro) and inline emphasis, code and links.
// Text is XML-escaped.
func MarkdownToStorage(markdown string) string {
	lines := strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")
	var (
		b    strings.Builder
		para []string
		list string
	)
	flushPara := func() {
		if len(para) == 0 {
			return
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(para, "<br/>"))
		b.WriteString("</p>")
		para = para[:0]
	}
	closeList := func() {
		if list != "" {
			b.WriteString("</" + list + ">")
			list = ""
		}
	}
	openList := func(kind string) {
		if list == kind {
			return
		}
		closeList()
		b.WriteString("<" + kind + ">")
		list = kind
	}

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		if strings.HasPrefix(trimmed, "```") {
			flushPara()
			closeList()
			language := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			var code []string
			for i++; i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```"); i++ {
				code = append(code, lines[i])
			}
			writeCodeMacro(&b, language, strings.Join(code, "\n"))
			continue
		}

		if trimmed == "" {
			flushPara()
			closeList()
			continue
		}

		if strings.HasPrefix(trimmed, "|") && i+1 < len(lines) && tableDivider.MatchString(strings.TrimSpace(lines[i+1])) {
			flushPara()
			closeList()
			header := trimmed
			var rows []string
			for i += 2; i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "|"); i++ {
				rows = append(rows, strings.TrimSpace(lines[i]))
			}
			i--
			writeTable(&b, header, rows)
			continue
		}

		if m := headingLine.FindStringSubmatch(trimmed); m != nil {
			flushPara()
			closeList()
			tag := "h" + strconv.Itoa(len(m[1]))
			b.WriteString("<" + tag + ">" + inline(m[2]) + "</" + tag + ">")
			continue
		}

		if ruleLine.MatchString(trimmed) {
			flushPara()
			closeList()
			b.WriteString("<hr/>")
			continue
		}

		if m := bulletLine.FindStringSubmatch(lines[i]); m != nil {
			flushPara()
			openList("ul")
			b.WriteString("<li>" + inline(strings.TrimSpace(m[1])) + "</li>")
			continue
		}
		if m := orderedLine.FindStringSubmatch(lines[i]); m != nil {
			flushPara()
			openList("ol")
			b.WriteString("<li>" + inline(strings.TrimSpace(m[1])) + "</li>")
			continue
		}

		closeList()
		para = append(para, inline(trimmed))
	}
	flushPara()
	closeList()
	return b.String()
}

func writeCodeMacro(b *strings.Builder, language, code string) {
	b.WriteString(`<ac:structured-macro ac:name="code">`)
	if language != "" {
		b.WriteString(`<ac:parameter ac:name="language">` + html.EscapeString(language) + `</ac:parameter>`)
	}
	b.WriteString("<ac:plain-text-body><![CDATA[")
	b.WriteString(strings.ReplaceAll(code, "]]>", "]]]]><![CDATA[>"))
	b.WriteString("]]></ac:plain-text-body></ac:structured-macro>")
}

func writeTable(b *strings.Builder, header string, rows []string) {
	b.WriteString("<table><tbody><tr>")
	for _, cell := range tableCells(header) {
		b.WriteString("<th><p>" + inline(cell) + "</p></th>")
	}
	b.WriteString("</tr>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, cell := range tableCells(row) {
			b.WriteString("<td><p>" + inline(cell) + "</p></td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
}

func tableCells(row string) []string {
	row = strings.TrimSuffix(strings.TrimPrefix(row, "|"), "|")
	cells := strings.Split(row, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// inline escapes text and converts inline markup. Code spans are emitted
// verbatim so emphasis markers inside them survive.
func inline(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range codeSpan.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(emphasis(text[last:loc[0]]))
		b.WriteString("<code>" + html.EscapeString(text[loc[2]:loc[3]]) + "</code>")
		last = loc[1]
	}
	b.WriteString(emphasis(text[last:]))
	return b.String()
}

func emphasis(text string) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	out = markdownLink.ReplaceAllString(out, `<a href="$2">$1</a>`)
	out = strongStars.ReplaceAllString(out, "<strong>$1</strong>")
	out = strongUnders.ReplaceAllString(out, "<strong>$1</strong>")
	out = emStars.ReplaceAllString(out, "<em>$1</em>")
	out = emUnders.ReplaceAllString(out, "$1<em>$2</em>$3")
	return out
}

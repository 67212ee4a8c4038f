package templates

import (
	"fmt"
	"strings"
	"time"
)

var weekdaysRU = [...]string{
	time.Sunday:    "воскресенье",
	time.Monday:    "понедельник",
	time.Tuesday:   "вторник",
	time.Wednesday: "среда",
	time.Thursday:  "четверг",
	time.Friday:    "пятница",
	time.Saturday:  "суббота",
}

var monthsGenitiveRU = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// DateInfo holds the recording timestamp in the forms templates use.
type DateInfo struct {
	Date     string
	Time     string
	Full     string
	Weekday  string
	Month    string
	Display  string
	Recorded time.Time
}

// NewDateInfo formats t as DD.MM.YYYY and HH:MM:SS with Russian weekday and
// genitive month names.
func NewDateInfo(t time.Time) DateInfo {
	info := DateInfo{
		Date:     t.Format("02.01.2006"),
		Time:     t.Format("15:04:05"),
		Full:     t.Format("02.01.2006 15:04:05"),
		Weekday:  weekdaysRU[t.Weekday()],
		Month:    monthsGenitiveRU[t.Month()-1],
		Recorded: t,
	}
	info.Display = fmt.Sprintf("%d %s %d, %s, %s", t.Day(), info.Month, t.Year(), info.Weekday, t.Format("15:04"))
	return info
}

// Line renders the one-line date header used by the {datetime_info}
// placeholder.
func (d DateInfo) Line() string {
	return fmt.Sprintf("Дата и время встречи: %s (%s) в %s", d.Date, d.Weekday, d.Time)
}

// Render substitutes the template placeholders. The transcript is inserted
// in full; a body without {transcript} gets it appended.
func Render(tpl Template, transcript string, recordedAt time.Time) string {
	info := NewDateInfo(recordedAt)
	body := tpl.Body
	if !strings.Contains(body, "{transcript}") {
		body = strings.TrimRight(body, "\n") + "\n\nТранскрипт:\n{transcript}\n"
	}
	// Placeholders inside the transcript itself are left alone.
	replacer := strings.NewReplacer(
		"{datetime_info}", info.Line(),
		"{datetime_display}", info.Display,
		"{date}", info.Date,
		"{time}", info.Time,
		"{weekday}", info.Weekday,
	)
	parts := strings.Split(body, "{transcript}")
	for i := range parts {
		parts[i] = replacer.Replace(parts[i])
	}
	return strings.Join(parts, transcript)
}

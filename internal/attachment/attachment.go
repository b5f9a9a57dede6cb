// Package attachment embeds file references in message text using the
// `[Arquivo](<url>)` marker understood by the backend and the chat bubbles.
package attachment

import (
	"regexp"
	"strings"
)

type Kind string

const (
	KindUnknown      Kind = "unknown"
	KindImage        Kind = "image"
	KindPDF          Kind = "pdf"
	KindDoc          Kind = "doc"
	KindSpreadsheet  Kind = "spreadsheet"
	KindPresentation Kind = "presentation"
	KindGeneric      Kind = "generic"
)

const markerPrefix = "[Arquivo]("

var markerRe = regexp.MustCompile(`\[Arquivo\]\((https?://[^\s)]+)\)`)

var kindPatterns = []struct {
	kind Kind
	re   *regexp.Regexp
}{
	{KindImage, regexp.MustCompile(`\.(jpeg|jpg|png|gif|webp|bmp)(\?.*)?$`)},
	{KindPDF, regexp.MustCompile(`\.(pdf)(\?.*)?$`)},
	{KindDoc, regexp.MustCompile(`\.(doc|docx)(\?.*)?$`)},
	{KindSpreadsheet, regexp.MustCompile(`\.(xls|xlsx)(\?.*)?$`)},
	{KindPresentation, regexp.MustCompile(`\.(ppt|pptx)(\?.*)?$`)},
}

// Compose appends the marker for fileURL to text. Empty text yields the bare marker.
func Compose(text, fileURL string) string {
	if fileURL == "" {
		return text
	}
	marker := markerPrefix + fileURL + ")"
	if strings.TrimSpace(text) == "" {
		return marker
	}
	return text + "\n\n" + marker
}

// Parse extracts the first attachment URL from content and returns the
// visible text with every marker removed.
func Parse(content string) (text, fileURL string) {
	if !strings.Contains(content, markerPrefix) {
		return content, ""
	}
	m := markerRe.FindStringSubmatch(content)
	if m == nil {
		return content, ""
	}
	return strings.TrimSpace(markerRe.ReplaceAllString(content, "")), m[1]
}

func KindOf(fileURL string) Kind {
	if fileURL == "" {
		return KindUnknown
	}
	lower := strings.ToLower(fileURL)
	for _, p := range kindPatterns {
		if p.re.MatchString(lower) {
			return p.kind
		}
	}
	return KindGeneric
}

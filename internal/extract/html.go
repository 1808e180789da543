package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML converts an HTML document into retrieval-grade plain text:
// <script> and <style> contents are dropped, every remaining tag is removed,
// whitespace runs collapse to single spaces, and the ends are trimmed.
// Layout and links are lost; that is acceptable for similarity search.
func StripHTML(raw string) string {
	z := html.NewTokenizer(strings.NewReader(raw))
	var sb strings.Builder
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed markup; either way, emit what we have.
			return collapseWhitespace(sb.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if isSkippedTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isSkippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isSkippedTag(name string) bool {
	return name == "script" || name == "style"
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

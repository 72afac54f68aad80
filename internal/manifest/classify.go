// Package manifest rewrites DASH and HLS manifests so that players fetch
// segments from edge boxes (HLS) or through the manifest proxy (DASH).
//
// Manifests are processed line by line. A classifier recognises the few line
// shapes that need rewriting; every other byte is copied through unchanged,
// including line endings.
package manifest

import "strings"

// Line is one classified manifest line. Text always carries the original
// line including its terminator.
type Line interface {
	Raw() string
}

// PassthroughLine is copied to the output unchanged.
type PassthroughLine struct{ Text string }

// TimingLine is a DASH SegmentTimeline entry; Token is its start time.
type TimingLine struct {
	Text  string
	Token string
}

// MediaAttrLine carries a DASH media="..." template.
type MediaAttrLine struct{ Text string }

// InitAttrLine carries a DASH initialization="..." template.
type InitAttrLine struct{ Text string }

// SectionMarkerLine marks the start of the DASH audio adaptation set.
type SectionMarkerLine struct{ Text string }

// SegmentLine is an HLS media segment URI; Name is the trimmed filename.
type SegmentLine struct {
	Text string
	Name string
}

func (l PassthroughLine) Raw() string   { return l.Text }
func (l TimingLine) Raw() string        { return l.Text }
func (l MediaAttrLine) Raw() string     { return l.Text }
func (l InitAttrLine) Raw() string      { return l.Text }
func (l SectionMarkerLine) Raw() string { return l.Text }
func (l SegmentLine) Raw() string       { return l.Text }

// Markers recognised in DASH manifests.
const (
	timingMarker = `<S t=`
	mediaAttr    = `media="`
	initAttr     = `initialization="`
	audioMarker  = `audio/mp4`
)

// ClassifyDASH recognises, in priority order: timeline entries, lines with a
// media template, lines with an initialization template, the audio section
// marker. A line carrying both templates is a MediaAttrLine; both templates
// are still rewritten but no initialization push is made for it.
func ClassifyDASH(text string) Line {
	switch {
	case strings.Contains(text, timingMarker):
		if token, ok := quotedAfter(text, timingMarker); ok {
			return TimingLine{Text: text, Token: token}
		}
		return PassthroughLine{Text: text}
	case strings.Contains(text, mediaAttr):
		return MediaAttrLine{Text: text}
	case strings.Contains(text, initAttr):
		return InitAttrLine{Text: text}
	case strings.Contains(text, audioMarker):
		return SectionMarkerLine{Text: text}
	default:
		return PassthroughLine{Text: text}
	}
}

// ClassifyHLS treats any non-tag line ending in suffix as a segment URI.
func ClassifyHLS(text, suffix string) Line {
	body, _ := splitEOL(text)
	name := strings.TrimSpace(body)
	if name == "" || strings.HasPrefix(name, "#") || !strings.HasSuffix(name, suffix) {
		return PassthroughLine{Text: text}
	}
	return SegmentLine{Text: text, Name: name}
}

// quotedAfter returns the first double-quoted value after marker.
func quotedAfter(text, marker string) (string, bool) {
	rest := text[strings.Index(text, marker)+len(marker):]
	start := strings.IndexByte(rest, '"')
	if start < 0 {
		return "", false
	}
	rest = rest[start+1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// prefixAttr inserts prefix at the start of every value of attr (which
// includes the opening quote).
func prefixAttr(text, attr, prefix string) string {
	var b strings.Builder
	for {
		i := strings.Index(text, attr)
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		cut := i + len(attr)
		b.WriteString(text[:cut])
		b.WriteString(prefix)
		text = text[cut:]
	}
}

// splitEOL separates a line from its terminator ("\n", "\r\n" or none).
func splitEOL(text string) (body, eol string) {
	switch {
	case strings.HasSuffix(text, "\r\n"):
		return text[:len(text)-2], "\r\n"
	case strings.HasSuffix(text, "\n"):
		return text[:len(text)-1], "\n"
	default:
		return text, ""
	}
}

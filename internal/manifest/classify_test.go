package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDASH(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Line
	}{
		{
			name: "timing",
			in:   `        <S t="1000" d="2000"/>` + "\n",
			want: TimingLine{Text: `        <S t="1000" d="2000"/>` + "\n", Token: "1000"},
		},
		{
			name: "timing_without_quotes",
			in:   "<S t=1000/>\n",
			want: PassthroughLine{Text: "<S t=1000/>\n"},
		},
		{
			name: "media",
			in:   `  media="$Time$.m4v"` + "\n",
			want: MediaAttrLine{Text: `  media="$Time$.m4v"` + "\n"},
		},
		{
			name: "initialization",
			in:   `  initialization="init.m4v"` + "\n",
			want: InitAttrLine{Text: `  initialization="init.m4v"` + "\n"},
		},
		{
			name: "both_templates",
			in:   `<SegmentTemplate media="$Time$.m4a" initialization="init.m4a"/>` + "\n",
			want: MediaAttrLine{Text: `<SegmentTemplate media="$Time$.m4a" initialization="init.m4a"/>` + "\n"},
		},
		{
			name: "audio_marker",
			in:   `<AdaptationSet mimeType="audio/mp4">` + "\n",
			want: SectionMarkerLine{Text: `<AdaptationSet mimeType="audio/mp4">` + "\n"},
		},
		{
			name: "presentation_duration_is_not_media",
			in:   `<MPD mediaPresentationDuration="PT0S">` + "\n",
			want: PassthroughLine{Text: `<MPD mediaPresentationDuration="PT0S">` + "\n"},
		},
		{
			name: "other",
			in:   "<Period>\n",
			want: PassthroughLine{Text: "<Period>\n"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDASH(tt.in))
		})
	}
}

func TestClassifyHLS(t *testing.T) {
	assert.Equal(t, SegmentLine{Text: "42.ts\n", Name: "42.ts"}, ClassifyHLS("42.ts\n", ".ts"))
	assert.Equal(t, SegmentLine{Text: "42.ts \r\n", Name: "42.ts"}, ClassifyHLS("42.ts \r\n", ".ts"))
	assert.Equal(t, SegmentLine{Text: "43.ts", Name: "43.ts"}, ClassifyHLS("43.ts", ".ts"))
	assert.Equal(t, PassthroughLine{Text: "#EXTINF:2.0,\n"}, ClassifyHLS("#EXTINF:2.0,\n", ".ts"))
	assert.Equal(t, PassthroughLine{Text: "#EXT-X-COMMENT old.ts\n"}, ClassifyHLS("#EXT-X-COMMENT old.ts\n", ".ts"))
	assert.Equal(t, PassthroughLine{Text: "\n"}, ClassifyHLS("\n", ".ts"))
}

func TestPrefixAttr(t *testing.T) {
	got := prefixAttr(`<T media="a.m4v" x="1"/>`, mediaAttr, "http://p/dash/s1/")
	assert.Equal(t, `<T media="http://p/dash/s1/a.m4v" x="1"/>`, got)

	assert.Equal(t, "<Period>", prefixAttr("<Period>", mediaAttr, "http://p/"))
}

func TestProxyPrefix(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1:8080/dash/s1/", proxyPrefix("http://10.0.0.1:8080/", "/dash/", "s1"))
	assert.Equal(t, "http://10.0.0.1:8080/s1/", proxyPrefix("http://10.0.0.1:8080", "", "s1"))
	assert.Equal(t, "http://h:1/a/b/s1/", proxyPrefix("http://h:1", "a/b", "s1"))
}

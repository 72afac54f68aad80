package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgecast/internal/registry"
	"edgecast/internal/testutil"
)

const dashManifest = `<?xml version="1.0"?>
<MPD mediaPresentationDuration="PT0S">
 <Period>
  <AdaptationSet mimeType="video/mp4">
   <SegmentTemplate timescale="1000"
    media="$Time$.m4v"
    initialization="init.m4v">
    <SegmentTimeline>
     <S t="1000" d="2000"/>
     <S t="3000" d="2000"/>
    </SegmentTimeline>
   </SegmentTemplate>
  </AdaptationSet>
  <AdaptationSet mimeType="audio/mp4">
   <SegmentTemplate timescale="1000"
    media="$Time$.m4a"
    initialization="init.m4a">
    <SegmentTimeline>
     <S t="1000" d="2000"/>
    </SegmentTimeline>
   </SegmentTemplate>
  </AdaptationSet>
 </Period>
</MPD>
`

type dashFixture struct {
	store *registry.RedisStore
	mr    *miniredis.Miniredis
	sub   *captureSubmitter
	rw    *DASHRewriter
	src   string
	out   string
	dir   string
}

func newDASHFixture(t *testing.T, content string, boxes ...registry.Box) *dashFixture {
	t.Helper()
	root := t.TempDir()
	f := &dashFixture{sub: &captureSubmitter{}}
	f.store, f.mr = newStore(t)
	for _, b := range boxes {
		require.NoError(t, registry.Register(context.Background(), f.store, b))
	}
	f.src = writeManifest(t, root, "s1", "stream.mpd", content)
	f.dir = filepath.Dir(f.src)
	writeDir := filepath.Join(root, "out")
	f.out = filepath.Join(writeDir, "s1", "stream.mpd")
	f.rw = NewDASHRewriter(DASHConfig{
		WriteDir:  writeDir,
		GetDir:    "dash",
		ProxyURL:  "http://proxy:8080",
		BoxAmount: 10,
	}, fastReader(), f.sub, testutil.DiscardLogger(), nil)
	return f
}

var boxA = registry.Box{ID: "box-a", IP: "10.0.0.5", Port: "9000"}

func TestDASHRewrite_endToEnd(t *testing.T) {
	content := "<SegmentTimeline>\n" +
		`<S t="1000"/>` + "\n" +
		`media="segment.m4v"` + "\n" +
		`initialization="init.m4v"` + "\n"
	f := newDASHFixture(t, content, boxA)

	require.NoError(t, f.rw.Rewrite(context.Background(), f.store, f.src))

	want := "<SegmentTimeline>\n" +
		`<S t="1000"/>` + "\n" +
		`media="http://proxy:8080/dash/s1/segment.m4v"` + "\n" +
		`initialization="http://proxy:8080/dash/s1/init.m4v"` + "\n"
	assert.Equal(t, want, readFile(t, f.out))
	assert.Equal(t, []string{
		"box-a|" + f.dir + "/1000.m4v",
		"box-a|" + f.dir + "/1000.m4a",
		"box-a|" + f.dir + "/init.m4v",
	}, f.sub.pushed())
}

func TestDASHRewrite_fullManifest(t *testing.T) {
	f := newDASHFixture(t, dashManifest, boxA)

	require.NoError(t, f.rw.Rewrite(context.Background(), f.store, f.src))

	out := readFile(t, f.out)
	assert.Contains(t, out, `media="http://proxy:8080/dash/s1/$Time$.m4v"`)
	assert.Contains(t, out, `initialization="http://proxy:8080/dash/s1/init.m4a"`)
	assert.Contains(t, out, `<MPD mediaPresentationDuration="PT0S">`)
	assert.Contains(t, out, `<S t="3000" d="2000"/>`)

	// Only the first timeline entry is pushed, plus one init per section.
	assert.Equal(t, []string{
		"box-a|" + f.dir + "/init.m4v",
		"box-a|" + f.dir + "/1000.m4v",
		"box-a|" + f.dir + "/1000.m4a",
		"box-a|" + f.dir + "/init.m4a",
	}, f.sub.pushed())
}

func TestDASHRewrite_passthroughIsByteIdentical(t *testing.T) {
	content := "<?xml version=\"1.0\"?>\r\n<Period  id=\"0\">\r\n\t<!-- comment -->\n<BaseURL>x</BaseURL>"
	f := newDASHFixture(t, content, boxA)

	require.NoError(t, f.rw.Rewrite(context.Background(), f.store, f.src))
	assert.Equal(t, content, readFile(t, f.out))
	assert.Empty(t, f.sub.Jobs())
}

func TestDASHRewrite_dedupAcrossReprocessing(t *testing.T) {
	f := newDASHFixture(t, `<S t="1000"/>`+"\n", boxA)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.rw.Rewrite(ctx, f.store, f.src))
	}
	assert.Equal(t, []string{
		"box-a|" + f.dir + "/1000.m4v",
		"box-a|" + f.dir + "/1000.m4a",
	}, f.sub.pushed())

	ok, err := f.store.SIsMember(ctx, registry.DedupKey(f.dir), "1000")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDASHRewrite_truncatesPreviousOutput(t *testing.T) {
	f := newDASHFixture(t, "<Period>\n", boxA)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.out), 0o755))
	require.NoError(t, os.WriteFile(f.out, []byte("a much longer previous manifest body\n"), 0o644))

	require.NoError(t, f.rw.Rewrite(context.Background(), f.store, f.src))
	assert.Equal(t, "<Period>\n", readFile(t, f.out))
}

func TestDASHRewrite_missingInput(t *testing.T) {
	f := newDASHFixture(t, "", boxA)
	err := f.rw.Rewrite(context.Background(), f.store, filepath.Join(f.dir, "gone.mpd"))
	assert.ErrorIs(t, err, ErrInputUnavailable)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(f.out), "gone.mpd"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDASHRewrite_noBoxesAborts(t *testing.T) {
	f := newDASHFixture(t, `<S t="1000"/>`+"\n")

	err := f.rw.Rewrite(context.Background(), f.store, f.src)
	assert.ErrorIs(t, err, registry.ErrNoBoxes)
	assert.Empty(t, f.sub.Jobs())

	_, statErr := os.Stat(f.out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDASHRewrite_singleLineTemplate(t *testing.T) {
	content := `<SegmentTemplate media="$Time$.m4v" initialization="init.m4v"/>` + "\n"
	f := newDASHFixture(t, content, boxA)

	require.NoError(t, f.rw.Rewrite(context.Background(), f.store, f.src))

	want := `<SegmentTemplate media="http://proxy:8080/dash/s1/$Time$.m4v" initialization="http://proxy:8080/dash/s1/init.m4v"/>` + "\n"
	assert.Equal(t, want, readFile(t, f.out))
	assert.Empty(t, f.sub.Jobs(), "a media template line is not an initialization push")
}

func TestDASHRewrite_dedupWindowLapses(t *testing.T) {
	f := newDASHFixture(t, `<S t="1000"/>`+"\n", boxA)
	ctx := context.Background()

	require.NoError(t, f.rw.Rewrite(ctx, f.store, f.src))
	f.mr.FastForward(DedupTTL)
	require.NoError(t, f.rw.Rewrite(ctx, f.store, f.src))

	assert.Len(t, f.sub.Jobs(), 4)
}

func TestDASHRewrite_refreshesLoadSetExpiry(t *testing.T) {
	f := newDASHFixture(t, "<Period>\n", boxA)

	require.NoError(t, f.rw.Rewrite(context.Background(), f.store, f.src))
	key := registry.LoadSetKey(f.dir)
	assert.Equal(t, LoadSetTTL, f.mr.TTL(key))

	f.mr.FastForward(LoadSetTTL)
	assert.False(t, f.mr.Exists(key))
}

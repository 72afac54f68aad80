package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrInputUnavailable is returned when the source manifest cannot be opened.
	ErrInputUnavailable = errors.New("manifest: input unavailable")
)

// location splits <dir>/<stream>/<name> into its parts. dir keeps the full
// parent path of the manifest, which is also where its segments live.
type location struct {
	dir    string
	stream string
	name   string
}

func locate(manifestPath string) location {
	dir := filepath.Dir(manifestPath)
	return location{
		dir:    dir,
		stream: filepath.Base(dir),
		name:   filepath.Base(manifestPath),
	}
}

// segmentPath joins a segment filename onto the manifest's directory.
func (l location) segmentPath(name string) string {
	return l.dir + "/" + name
}

func openInput(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInputUnavailable, path, err)
	}
	return f, nil
}

// output writes a rewritten manifest to <root>/<stream>/<name>. The file is
// reused across runs and truncated to what was written on Close.
type output struct {
	f *os.File
	w *bufio.Writer
	n int64
}

func createOutput(root string, loc location) (*output, error) {
	folder := filepath.Join(root, loc.stream)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", folder, err)
	}
	path := filepath.Join(folder, loc.name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return &output{f: f, w: bufio.NewWriter(f)}, nil
}

func (o *output) WriteString(s string) error {
	n, err := o.w.WriteString(s)
	o.n += int64(n)
	return err
}

// Close flushes, truncates the file to the written length and closes it.
func (o *output) Close() error {
	err := o.w.Flush()
	if err == nil {
		err = o.f.Truncate(o.n)
	}
	if cerr := o.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// forEachLine calls fn for every line of r, terminators included.
func forEachLine(r io.Reader, fn func(line string) error) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Package media models the images handed to description providers and
// produces bounded-size derivatives for oversized originals.
package media

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultThreshold is the largest image, in bytes, sent to a provider as is.
const DefaultThreshold int64 = 1 << 20

// Reference is an immutable handle on an image: its storage URI, an optional
// local path, the absolute URL a remote service can fetch, and its size.
type Reference struct {
	uri       string
	path      string
	url       string
	size      int64
	threshold int64
}

// Option tunes a Reference at construction.
type Option func(*Reference)

// WithThreshold overrides the derivative threshold. Non-positive values keep
// the default.
func WithThreshold(n int64) Option {
	return func(r *Reference) {
		if n > 0 {
			r.threshold = n
		}
	}
}

// WithURL attaches the absolute URL of a local file.
func WithURL(u string) Option {
	return func(r *Reference) { r.url = u }
}

// NewLocal references a file on disk identified by uri.
func NewLocal(uri, path string, size int64, opts ...Option) Reference {
	return build(Reference{uri: uri, path: path, size: size}, opts)
}

// NewRemote references an image only reachable by URL.
func NewRemote(url string, size int64, opts ...Option) Reference {
	return build(Reference{uri: url, url: url, size: size}, opts)
}

func build(r Reference, opts []Option) Reference {
	r.threshold = DefaultThreshold
	for _, o := range opts {
		o(&r)
	}
	return r
}

func (r Reference) URI() string      { return r.uri }
func (r Reference) URL() string      { return r.url }
func (r Reference) Size() int64      { return r.size }
func (r Reference) Threshold() int64 { return r.threshold }

// Oversized reports whether the image must be replaced by a derivative
// before transmission.
func (r Reference) Oversized() bool { return r.size > r.threshold }

// LocalPath returns the path only when it points at a readable regular file,
// mirroring a realpath lookup: remote references and vanished files yield "".
func (r Reference) LocalPath() string {
	if r.path == "" {
		return ""
	}
	fi, err := os.Stat(r.path)
	if err != nil || !fi.Mode().IsRegular() {
		return ""
	}
	return r.path
}

// Open returns the image bytes of a local reference.
func (r Reference) Open() (io.ReadCloser, error) {
	p := r.LocalPath()
	if p == "" {
		return nil, fmt.Errorf("%s: no local file", r.uri)
	}
	return os.Open(p)
}

// ReadAll loads a local reference into memory.
func (r Reference) ReadAll() ([]byte, error) {
	f, err := r.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (r Reference) String() string {
	var b strings.Builder
	b.WriteString(r.uri)
	fmt.Fprintf(&b, " (%d bytes)", r.size)
	return b.String()
}

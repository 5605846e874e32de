package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	// webp uploads are common in CMS media libraries.
	_ "golang.org/x/image/webp"
)

const (
	publicScheme = "public://"
	styleName    = "auto_alter_help"

	defaultMaxDimension = 1600
	defaultQuality      = 85
	minDimension        = 64
	minQuality          = 20
	maxDownload         = 64 << 20
)

// LibraryConfig configures a Library.
type LibraryConfig struct {
	// Root is the directory public:// URIs resolve under.
	Root string
	// BaseURL is the public URL Root is served from.
	BaseURL      string
	Threshold    int64
	MaxDimension int
	Quality      int
	HTTP         *http.Client
	Logger       zerolog.Logger
}

// Library resolves storage URIs to References and creates derivatives.
type Library struct {
	root      string
	baseURL   string
	threshold int64
	maxDim    int
	quality   int
	http      *http.Client
	logger    zerolog.Logger
}

func NewLibrary(cfg LibraryConfig) *Library {
	l := &Library{
		root:      cfg.Root,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		threshold: cfg.Threshold,
		maxDim:    cfg.MaxDimension,
		quality:   cfg.Quality,
		http:      cfg.HTTP,
		logger:    cfg.Logger,
	}
	if l.threshold <= 0 {
		l.threshold = DefaultThreshold
	}
	if l.maxDim <= 0 {
		l.maxDim = defaultMaxDimension
	}
	if l.quality <= 0 || l.quality > 100 {
		l.quality = defaultQuality
	}
	if l.http == nil {
		l.http = &http.Client{Timeout: 30 * time.Second}
	}
	return l
}

// Threshold is the size limit applied to references built by this library.
func (l *Library) Threshold() int64 { return l.threshold }

// Open resolves a public:// URI (or a path relative to Root) to a local
// Reference. The file must exist.
func (l *Library) Open(uri string) (Reference, error) {
	rel, err := l.relative(uri)
	if err != nil {
		return Reference{}, err
	}
	p := filepath.Join(l.root, filepath.FromSlash(rel))
	fi, err := os.Stat(p)
	if err != nil {
		return Reference{}, fmt.Errorf("stat %s: %w", uri, err)
	}
	return NewLocal(publicScheme+rel, p, fi.Size(), WithURL(l.URLFor(rel)), WithThreshold(l.threshold)), nil
}

// Remote builds a URL-only Reference.
func (l *Library) Remote(rawURL string, size int64) (Reference, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return Reference{}, fmt.Errorf("image url must be absolute: %q", rawURL)
	}
	return NewRemote(u.String(), size, WithThreshold(l.threshold)), nil
}

// URLFor returns the absolute URL of a path relative to Root.
func (l *Library) URLFor(rel string) string {
	if l.baseURL == "" {
		return ""
	}
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return l.baseURL + "/" + strings.Join(parts, "/")
}

func (l *Library) relative(uri string) (string, error) {
	rel := strings.TrimPrefix(uri, publicScheme)
	rel = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("invalid image uri %q", uri)
	}
	return rel, nil
}

// Normalize returns ref unchanged when it is within its threshold and a
// derivative otherwise. Normalizing the result again is a no-op.
func (l *Library) Normalize(ctx context.Context, ref Reference) (Reference, error) {
	if !ref.Oversized() {
		return ref, nil
	}
	return l.Derive(ctx, ref)
}

// Derive writes a downscaled JPEG copy of ref under styles/auto_alter_help and
// returns a reference to it. The copy is shrunk until it fits ref's threshold.
func (l *Library) Derive(ctx context.Context, ref Reference) (Reference, error) {
	src, err := l.source(ctx, ref)
	if err != nil {
		return Reference{}, err
	}
	defer src.Close()

	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return Reference{}, fmt.Errorf("decode %s: %w", ref.URI(), err)
	}

	data, dim, err := l.fit(img, ref.Threshold())
	if err != nil {
		return Reference{}, err
	}

	rel := derivativePath(ref.URI())
	dst := filepath.Join(l.root, filepath.FromSlash(rel))
	if err := writeFile(dst, data); err != nil {
		return Reference{}, err
	}

	l.logger.Debug().
		Str("source", ref.URI()).
		Str("derivative", rel).
		Int64("size", ref.Size()).
		Int("bytes", len(data)).
		Int("max_dim", dim).
		Msg("created derivative")

	return NewLocal(publicScheme+rel, dst, int64(len(data)),
		WithURL(l.URLFor(rel)), WithThreshold(ref.Threshold())), nil
}

func (l *Library) fit(img image.Image, limit int64) ([]byte, int, error) {
	dim := l.maxDim
	for {
		out := imaging.Fit(img, dim, dim, imaging.Lanczos)
		data, err := encodeJPEG(out, l.quality)
		if err != nil {
			return nil, 0, err
		}
		if int64(len(data)) <= limit {
			return data, dim, nil
		}
		if dim <= minDimension {
			// Smallest size reached: trade quality before giving up.
			for q := l.quality - 20; q >= minQuality; q -= 20 {
				if data, err = encodeJPEG(out, q); err != nil {
					return nil, 0, err
				}
				if int64(len(data)) <= limit {
					return data, dim, nil
				}
			}
			return nil, 0, fmt.Errorf("derivative of %d bytes still exceeds the %d byte threshold", len(data), limit)
		}
		b := out.Bounds()
		dim = max(max(b.Dx(), b.Dy())*3/4, minDimension)
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode derivative: %w", err)
	}
	return buf.Bytes(), nil
}

func (l *Library) source(ctx context.Context, ref Reference) (io.ReadCloser, error) {
	if ref.LocalPath() != "" {
		return ref.Open()
	}
	if ref.URL() == "" {
		return nil, fmt.Errorf("%s: neither local file nor url", ref.URI())
	}
	req, err := http.NewRequestWithContext(ctx, "GET", ref.URL(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref.URL(), err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: status %d", ref.URL(), resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxDownload), resp.Body}, nil
}

func derivativePath(uri string) string {
	rel := uri
	if i := strings.Index(rel, "://"); i >= 0 {
		rel = rel[i+3:]
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if q := strings.IndexAny(rel, "?#"); q >= 0 {
		rel = rel[:q]
	}
	ext := path.Ext(rel)
	if !strings.EqualFold(ext, ".jpg") && !strings.EqualFold(ext, ".jpeg") {
		rel += ".jpg"
	}
	return path.Join("styles", styleName, rel)
}

func writeFile(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create derivative dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".derivative-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Package imagesource resolves an image reference to its encoded bytes. A
// reference is a data URI, an http(s) URL or a local file path.
package imagesource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/example/petclassify/internal/features"
)

// DefaultMaxBytes caps how much a Loader reads from one reference.
const DefaultMaxBytes = 32 << 20

var errTooLarge = errors.New("image exceeds size limit")

// Loader fetches image bytes. Every failure is reported as a
// *features.DecodeError so callers treat a failed load like corrupt data.
type Loader struct {
	HTTP      *http.Client
	MaxBytes  int64
	UserAgent string
}

// New returns a Loader with a 30 second HTTP timeout and DefaultMaxBytes.
func New() *Loader {
	return &Loader{
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		MaxBytes:  DefaultMaxBytes,
		UserAgent: "petclassify/1.0",
	}
}

// Load returns the encoded bytes behind ref.
func (l *Loader) Load(ctx context.Context, ref string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(ref, "data:"):
		data, err = l.loadDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		data, err = l.loadURL(ctx, ref)
	default:
		data, err = l.loadFile(ref)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, features.NewDecodeError(err)
	}
	return data, nil
}

func (l *Loader) loadDataURI(ref string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URI: missing ','")
	}

	params := strings.Split(header, ";")
	mediaType := strings.TrimSpace(params[0])
	if mediaType != "" && !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("data URI is not an image (media type %s)", mediaType)
	}

	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some encoders drop padding.
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return nil, fmt.Errorf("invalid base64 payload: %w", err)
			}
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid data URI payload: %w", err)
		}
		data = []byte(unescaped)
	}

	if l.MaxBytes > 0 && int64(len(data)) > l.MaxBytes {
		return nil, errTooLarge
	}
	return data, nil
}

func (l *Loader) loadURL(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if l.UserAgent != "" {
		req.Header.Set("User-Agent", l.UserAgent)
	}

	client := l.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", ct)
	}

	return l.readLimited(resp.Body)
}

func (l *Loader) loadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	if l.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, l.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.MaxBytes {
		return nil, errTooLarge
	}
	return data, nil
}

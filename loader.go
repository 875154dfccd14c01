package tileview

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// PixelLoader fetches the raw samples of one tile. It is called once per
// Loading transition and may be called from several goroutines at once.
type PixelLoader interface {
	LoadTilePixels(ctx context.Context, fileID string, req TileRequest) ([]float32, error)
}

// HistogramLoader fetches the full-image histogram of a file
type HistogramLoader interface {
	LoadHistogram(ctx context.Context, fileID string) (*ImageHist, error)
}

// PixelLoaderFunc adapts a function to PixelLoader
type PixelLoaderFunc func(ctx context.Context, fileID string, req TileRequest) ([]float32, error)

func (f PixelLoaderFunc) LoadTilePixels(ctx context.Context, fileID string, req TileRequest) ([]float32, error) {
	return f(ctx, fileID, req)
}

// Precision is the sample encoding requested from the server
type Precision string

const (
	PrecisionUint8   Precision = "uint8"
	PrecisionUint16  Precision = "uint16"
	PrecisionUint32  Precision = "uint32"
	PrecisionFloat32 Precision = "float32"
	PrecisionFloat64 Precision = "float64"
)

// ParsePrecision accepts the precision names case-insensitively
func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToLower(strings.TrimSpace(s))); p {
	case PrecisionUint8, PrecisionUint16, PrecisionUint32, PrecisionFloat32, PrecisionFloat64:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPrecision, s)
}

// BytesPerSample is the encoded size of one sample
func (p Precision) BytesPerSample() int {
	switch p {
	case PrecisionUint8:
		return 1
	case PrecisionUint16:
		return 2
	case PrecisionUint32, PrecisionFloat32:
		return 4
	case PrecisionFloat64:
		return 8
	}
	return 0
}

// DecodeSamples converts little-endian samples to float32
func DecodeSamples(data []byte, p Precision) ([]float32, error) {
	size := p.BytesPerSample()
	if size == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrecision, p)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %s samples", len(data), p)
	}

	out := make([]float32, len(data)/size)
	le := binary.LittleEndian
	for i := range out {
		b := data[i*size : (i+1)*size]
		switch p {
		case PrecisionUint8:
			out[i] = float32(b[0])
		case PrecisionUint16:
			out[i] = float32(le.Uint16(b))
		case PrecisionUint32:
			out[i] = float32(le.Uint32(b))
		case PrecisionFloat32:
			out[i] = math.Float32frombits(le.Uint32(b))
		case PrecisionFloat64:
			out[i] = float32(math.Float64frombits(le.Uint64(b)))
		}
	}
	return out, nil
}

// HTTPLoader reads tiles and histograms from the workbench data-file API:
//
//	GET {base}/data-files/{id}/pixels?x=&y=&width=&height=
//	GET {base}/data-files/{id}/hist
//
// Pixel x/y are 1-based on the wire.
type HTTPLoader struct {
	baseURL string
	client  *fasthttp.Client
	timeout time.Duration
	logger  Logger

	mu        sync.RWMutex
	precision Precision
}

// NewHTTPLoader creates a loader for baseURL. A nil client gets a default
// fasthttp client.
func NewHTTPLoader(baseURL string, precision Precision, client *fasthttp.Client, logger Logger) (*HTTPLoader, error) {
	if _, err := ParsePrecision(string(precision)); err != nil {
		return nil, err
	}
	if client == nil {
		client = &fasthttp.Client{
			Name:                "tileview",
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 30 * time.Second,
		}
	}
	if logger == nil {
		logger = &NullLogger{}
	}
	return &HTTPLoader{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		logger:    logger,
		precision: precision,
	}, nil
}

// SetTimeout bounds requests made without a context deadline
func (l *HTTPLoader) SetTimeout(d time.Duration) {
	l.timeout = d
}

// Precision returns the sample encoding currently requested
func (l *HTTPLoader) Precision() Precision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.precision
}

// SetPrecision changes the sample encoding for subsequent requests
func (l *HTTPLoader) SetPrecision(p Precision) error {
	if _, err := ParsePrecision(string(p)); err != nil {
		return err
	}
	l.mu.Lock()
	l.precision = p
	l.mu.Unlock()
	return nil
}

func (l *HTTPLoader) fileURL(fileID, resource string) string {
	return fmt.Sprintf("%s/data-files/%s/%s", l.baseURL, url.PathEscape(fileID), resource)
}

// get issues a GET and hands the body to decode before the response is
// released
func (l *HTTPLoader) get(ctx context.Context, req *fasthttp.Request, decode func(body []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodGet)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = l.client.DoDeadline(req, resp, deadline)
	} else if l.timeout > 0 {
		err = l.client.DoTimeout(req, resp, l.timeout)
	} else {
		err = l.client.Do(req, resp)
	}
	if err != nil {
		return err
	}

	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return fmt.Errorf("unexpected status code: %d", status)
	}
	return decode(resp.Body())
}

// LoadTilePixels fetches the samples of one tile in the current precision
func (l *HTTPLoader) LoadTilePixels(ctx context.Context, fileID string, tr TileRequest) ([]float32, error) {
	precision := l.Precision()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(l.fileURL(fileID, "pixels"))
	args := req.URI().QueryArgs()
	args.SetUint("x", tr.X+1)
	args.SetUint("y", tr.Y+1)
	args.SetUint("width", tr.Width)
	args.SetUint("height", tr.Height)
	args.Set("precision", string(precision))

	var pixels []float32
	err := l.get(ctx, req, func(body []byte) error {
		want := tr.Width * tr.Height * precision.BytesPerSample()
		if len(body) != want {
			return fmt.Errorf("tile %d: got %d bytes, want %d", tr.Index, len(body), want)
		}
		var err error
		pixels, err = DecodeSamples(body, precision)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tile %d of %s: %w", tr.Index, fileID, err)
	}
	l.logger.Debugf("loaded tile %d of %s (%d samples, %s)", tr.Index, fileID, len(pixels), precision)
	return pixels, nil
}

// LoadHistogram fetches the full-image histogram
func (l *HTTPLoader) LoadHistogram(ctx context.Context, fileID string) (*ImageHist, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(l.fileURL(fileID, "hist"))

	hist := &ImageHist{}
	err := l.get(ctx, req, func(body []byte) error {
		return json.Unmarshal(body, hist)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load histogram of %s: %w", fileID, err)
	}
	if hist.MaxBin < hist.MinBin {
		return nil, fmt.Errorf("histogram of %s: maxBin %g below minBin %g", fileID, hist.MaxBin, hist.MinBin)
	}
	return hist, nil
}

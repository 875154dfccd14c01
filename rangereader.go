package tileview

import (
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/valyala/fasthttp"
)

// Default read-ahead block size (64KB); small reads are served from cached
// blocks so that parsing a TIFF header costs a handful of requests
const defaultReadAheadSize = 64 * 1024

const defaultCachedBlocks = 64

// RangeReader implements io.ReaderAt over HTTP range requests. It is safe
// for concurrent use.
type RangeReader struct {
	url       string
	client    *fasthttp.Client
	size      int64
	blockSize int

	mu     sync.Mutex
	blocks *lru.Cache
}

// NewRangeReader creates a reader for url and asks the server for its size
func NewRangeReader(url string, client *fasthttp.Client) (*RangeReader, error) {
	if client == nil {
		client = &fasthttp.Client{Name: "tileview"}
	}
	blocks, err := lru.New(defaultCachedBlocks)
	if err != nil {
		return nil, err
	}
	rr := &RangeReader{
		url:       url,
		client:    client,
		blockSize: defaultReadAheadSize,
		blocks:    blocks,
	}
	if rr.size, err = rr.fetchSize(); err != nil {
		return nil, err
	}
	return rr, nil
}

// SetReadAheadSize changes the block size and drops cached blocks
func (rr *RangeReader) SetReadAheadSize(size int) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if size > 0 {
		rr.blockSize = size
		rr.blocks.Purge()
	}
}

// Size returns the length of the remote file
func (rr *RangeReader) Size() int64 {
	return rr.size
}

// fetchSize gets the file size using a HEAD request
func (rr *RangeReader) fetchSize() (int64, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodHead)
	if err := rr.client.Do(req, resp); err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", rr.url, err)
	}
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return 0, fmt.Errorf("failed to stat %s: unexpected status code: %d", rr.url, status)
	}
	if n := resp.Header.ContentLength(); n >= 0 {
		return int64(n), nil
	}
	return 0, fmt.Errorf("failed to stat %s: no content length", rr.url)
}

// ReadAt reads len(p) bytes at off. Reads of at least one block go straight
// to the network; smaller ones go through the block cache.
func (rr *RangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset: %d", off)
	}
	if off >= rr.size {
		return 0, io.EOF
	}
	want := len(p)
	if rem := rr.size - off; int64(want) > rem {
		want = int(rem)
	}

	rr.mu.Lock()
	blockSize := rr.blockSize
	rr.mu.Unlock()

	var n int
	if want >= blockSize {
		data, err := rr.fetchRange(off, off+int64(want)-1)
		if err != nil {
			return 0, err
		}
		n = copy(p[:want], data)
	} else {
		for n < want {
			pos := off + int64(n)
			block, err := rr.block(pos / int64(blockSize))
			if err != nil {
				return n, err
			}
			start := int(pos % int64(blockSize))
			if start >= len(block) {
				break
			}
			n += copy(p[n:want], block[start:])
		}
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// block returns cached block i, fetching it on a miss
func (rr *RangeReader) block(i int64) ([]byte, error) {
	rr.mu.Lock()
	if v, ok := rr.blocks.Get(i); ok {
		rr.mu.Unlock()
		return v.([]byte), nil
	}
	blockSize := int64(rr.blockSize)
	rr.mu.Unlock()

	start := i * blockSize
	end := start + blockSize - 1
	if end >= rr.size {
		end = rr.size - 1
	}
	data, err := rr.fetchRange(start, end)
	if err != nil {
		return nil, err
	}

	rr.mu.Lock()
	if int64(rr.blockSize) == blockSize {
		rr.blocks.Add(i, data)
	}
	rr.mu.Unlock()
	return data, nil
}

// fetchRange fetches bytes start..end inclusive
func (rr *RangeReader) fetchRange(start, end int64) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.SetByteRange(int(start), int(end))

	if err := rr.client.Do(req, resp); err != nil {
		return nil, err
	}

	body := resp.Body()
	switch resp.StatusCode() {
	case fasthttp.StatusPartialContent:
	case fasthttp.StatusOK:
		// server ignored the range
		if int64(len(body)) <= start {
			return nil, io.ErrUnexpectedEOF
		}
		body = body[start:]
		if limit := end - start + 1; int64(len(body)) > limit {
			body = body[:limit]
		}
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	// Copy body since response will be released
	result := make([]byte, len(body))
	copy(result, body)
	return result, nil
}

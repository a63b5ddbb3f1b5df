package archive

import (
	"errors"
	"fmt"
	"io"
)

// ErrTruncated means the archive ends inside a header or a block's content.
var ErrTruncated = errors.New("archive truncated")

// Block is one decoded archive entry. Content must be consumed before the
// next call to Next, or it is skipped.
type Block struct {
	Header  Header
	Offset  int64 // position of the header in the archive
	Content io.Reader
}

// Reader walks an archive block by block.
type Reader struct {
	r       io.Reader
	offset  int64
	pending *io.LimitedReader
	hdr     []byte
}

// NewReader returns a Reader positioned at the first block.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, hdr: make([]byte, HeaderSize)}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next returns the next block, io.EOF at a clean end, or ErrTruncated when
// a header or content is incomplete.
func (r *Reader) Next() (*Block, error) {
	if r.pending != nil {
		if r.pending.N > 0 {
			skipped, err := io.Copy(io.Discard, r.pending)
			r.offset += skipped
			if err != nil {
				return nil, fmt.Errorf("skipping content: %w", err)
			}
		}
		if r.pending.N > 0 {
			return nil, fmt.Errorf("%w: %d content bytes missing", ErrTruncated, r.pending.N)
		}
		r.pending = nil
	}

	n, err := io.ReadFull(r.r, r.hdr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncated, n, r.offset)
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	hdr, err := DecodeHeader(r.hdr)
	if err != nil {
		return nil, err
	}

	block := &Block{Header: hdr, Offset: r.offset}
	r.offset += HeaderSize

	r.pending = &io.LimitedReader{R: r.r, N: hdr.Size}
	block.Content = &countingReader{r: r.pending, count: &r.offset}
	return block, nil
}

type countingReader struct {
	r     io.Reader
	count *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.count += int64(n)
	return n, err
}

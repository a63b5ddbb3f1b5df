// Package archive implements the streaming content archive: a sequence of
// fixed-width headers, each followed by the raw bytes of one file.
//
// Block layout (format version 1, little-endian):
//
//	filename  [255]byte  zero padded, truncated
//	size      uint32     content length
//	mtime     uint32     unix seconds
//	dir       [4112]byte zero padded, truncated
//	content   [size]byte
//
// The header width never changes within an archive, so the start of every
// block is computable from the previous one without scanning.
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path"
	"unicode/utf8"
)

// FormatVersion identifies the header field widths below.
const FormatVersion = 1

const (
	NameSize   = 255
	SizeSize   = 4
	MTimeSize  = 4
	DirSize    = 4112
	HeaderSize = NameSize + SizeSize + MTimeSize + DirSize // 4375
)

// MaxFileSize is the largest content length a header can describe.
const MaxFileSize = math.MaxUint32

var (
	// ErrHeaderWidth means an encoded header did not come out at HeaderSize.
	ErrHeaderWidth = errors.New("archive header has wrong width")
	// ErrFileTooLarge means the file cannot be described by a uint32 size.
	ErrFileTooLarge = errors.New("file exceeds archive size field")
)

// Header describes one block.
type Header struct {
	Name  string // base name
	Dir   string // slash-separated directory, rooted at the logical root name
	Size  int64
	MTime int64
}

// HeaderFor splits a relative path into the name and dir fields.
func HeaderFor(relPath string, size, mtime int64) Header {
	dir, name := path.Split(relPath)
	dir = path.Clean(dir)
	if dir == "." {
		dir = ""
	}
	return Header{Name: name, Dir: dir, Size: size, MTime: mtime}
}

// Path joins Dir and Name.
func (h Header) Path() string {
	if h.Dir == "" {
		return h.Name
	}
	return h.Dir + "/" + h.Name
}

// EncodeHeader serializes h into exactly HeaderSize bytes. Over-long name and
// dir values are truncated.
func EncodeHeader(h Header) ([]byte, error) {
	if h.Size < 0 || h.Size > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, h.Size)
	}
	mtime := h.MTime
	if mtime < 0 {
		mtime = 0
	}
	if mtime > math.MaxUint32 {
		mtime = math.MaxUint32
	}

	buf := make([]byte, HeaderSize)
	off := 0
	copy(buf[off:off+NameSize], truncate(h.Name, NameSize))
	off += NameSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.Size))
	off += SizeSize
	binary.LittleEndian.PutUint32(buf[off:], uint32(mtime))
	off += MTimeSize
	copy(buf[off:off+DirSize], truncate(h.Dir, DirSize))
	off += DirSize

	if off != HeaderSize || len(buf) != HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderWidth, len(buf))
	}
	return buf, nil
}

// DecodeHeader parses a HeaderSize buffer.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrHeaderWidth, len(buf))
	}
	off := 0
	name := trimZero(buf[off : off+NameSize])
	off += NameSize
	size := binary.LittleEndian.Uint32(buf[off:])
	off += SizeSize
	mtime := binary.LittleEndian.Uint32(buf[off:])
	off += MTimeSize
	dir := trimZero(buf[off : off+DirSize])

	return Header{
		Name:  name,
		Dir:   dir,
		Size:  int64(size),
		MTime: int64(mtime),
	}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) []byte {
	if len(s) <= n {
		return []byte(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return []byte(s[:n])
}

func trimZero(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

package dbdump

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/siteexport/internal/safety"
)

// Compression codecs.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
	CompressionXZ   = "xz"
)

// MinCompressedSize is the smallest compressed dump accepted as valid. A
// dump always carries its header and trailer, so anything shorter is
// a failed write.
const MinCompressedSize = 32

var suffixes = map[string]string{
	CompressionGzip: ".gz",
	CompressionZstd: ".zst",
	CompressionLZ4:  ".lz4",
	CompressionXZ:   ".xz",
}

// detectOrder is the order DetectComplete probes compressed siblings in.
var detectOrder = []string{CompressionGzip, CompressionZstd, CompressionLZ4, CompressionXZ}

// Suffix returns the file suffix a codec appends, or "" for none.
func Suffix(codec string) string {
	return suffixes[strings.ToLower(codec)]
}

// ValidCompression reports whether codec is a supported value.
func ValidCompression(codec string) bool {
	c := strings.ToLower(codec)
	return c == "" || c == CompressionNone || suffixes[c] != ""
}

// Compress streams src through codec into src+suffix and removes src on
// success. It returns the compressed path.
func Compress(src, codec string) (string, error) {
	codec = strings.ToLower(codec)
	suffix := Suffix(codec)
	if suffix == "" {
		return "", fmt.Errorf("unsupported compression %q", codec)
	}
	dst := src + suffix
	tmp := dst + ".partial"

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening dump: %w", err)
	}
	defer in.Close()

	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", tmp, err)
	}

	fail := func(err error) (string, error) {
		_ = out.Close()
		_ = os.Remove(tmp)
		return "", err
	}

	enc, err := newEncoder(codec, out)
	if err != nil {
		return fail(err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		return fail(fmt.Errorf("compressing dump: %w", err))
	}
	if err := enc.Close(); err != nil {
		return fail(fmt.Errorf("finishing %s stream: %w", codec, err))
	}
	if err := out.Sync(); err != nil {
		return fail(fmt.Errorf("syncing compressed dump: %w", err))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("closing compressed dump: %w", err)
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return "", fmt.Errorf("checking compressed dump: %w", err)
	}
	if info.Size() < MinCompressedSize {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("compressed dump is only %d bytes", info.Size())
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("renaming compressed dump: %w", err)
	}
	if err := safety.RemoveIfExists(src); err != nil {
		return "", fmt.Errorf("removing uncompressed dump: %w", err)
	}
	return dst, nil
}

func newEncoder(codec string, w io.Writer) (io.WriteCloser, error) {
	switch codec {
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionXZ:
		return xz.NewWriter(w)
	}
	return nil, fmt.Errorf("unsupported compression %q", codec)
}

// NewDecoder wraps r with the decompressor implied by path's suffix. Plain
// dumps are returned unchanged.
func NewDecoder(path string, r io.Reader) (io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case strings.HasSuffix(path, ".lz4"):
		return io.NopCloser(lz4.NewReader(r)), nil
	case strings.HasSuffix(path, ".xz"):
		dec, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(dec), nil
	}
	return io.NopCloser(r), nil
}

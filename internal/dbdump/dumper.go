// Package dbdump writes a portable SQL dump of a database: schema and data
// for every table, paged, batched into multi-row inserts, guarded by a lease
// and closed by a completion trailer.
package dbdump

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Trailer lines. A dump is complete only when TrailerMarker appears near
// the end of the file.
const (
	CompletedPrefix = "-- Dump completed on"
	TrailerMarker   = "-- END OF DUMP"
)

// tailWindow is how much of the end of a dump is searched for the trailer.
const tailWindow = 1024

// Defaults applied when Options fields are zero.
const (
	DefaultPageSize      = 1000
	DefaultRowsPerInsert = 100
	DefaultLeaseTTL      = 5 * time.Minute
)

// Options configures a Dumper.
type Options struct {
	PageSize      int
	RowsPerInsert int
	Compression   string
	LeasePath     string
	LeaseTTL      time.Duration
	// Generator identifies the producing tool in the dump header.
	Generator string
	Logger    *slog.Logger
}

// Stats describes a finished dump.
type Stats struct {
	Path   string
	Tables int
	Rows   int64
	Bytes  int64
}

// Dumper exports one database.
type Dumper struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a Dumper for db using dialect.
func New(db *sql.DB, dialect Dialect, opts Options) *Dumper {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RowsPerInsert <= 0 {
		opts.RowsPerInsert = DefaultRowsPerInsert
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dumper{db: db, dialect: dialect, opts: opts, logger: logger, now: time.Now}
}

// Export dumps the database to outputPath, compressing it afterwards when
// configured. If compression fails the plain dump is kept. When LeasePath is
// set and another run holds a fresh lease, Export returns ErrLeaseHeld.
func (d *Dumper) Export(ctx context.Context, outputPath string) (*Stats, error) {
	var lease *leaseFile
	if d.opts.LeasePath != "" {
		lease = &leaseFile{path: d.opts.LeasePath, ttl: d.opts.LeaseTTL, now: d.now, logger: d.logger}
		if err := lease.Acquire(); err != nil {
			return nil, err
		}
		defer func() {
			if err := lease.Release(); err != nil {
				d.logger.Warn("failed to release database lease", "error", err)
			}
		}()
	}

	stats, err := d.dump(ctx, outputPath, lease)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(d.opts.Compression, CompressionNone) {
		return stats, nil
	}
	compressed, err := Compress(outputPath, d.opts.Compression)
	if err != nil {
		d.logger.Warn("compression failed, keeping plain dump",
			"codec", d.opts.Compression, "error", err)
		return stats, nil
	}
	info, err := os.Stat(compressed)
	if err != nil {
		return nil, fmt.Errorf("checking compressed dump: %w", err)
	}
	stats.Path = compressed
	stats.Bytes = info.Size()
	return stats, nil
}

func (d *Dumper) dump(ctx context.Context, outputPath string, lease *leaseFile) (*Stats, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("creating dump file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 256*1024)
	stats := &Stats{Path: outputPath}

	tables, err := d.dialect.ListTables(ctx, d.db)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	d.writeHeader(w)
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := d.dumpTable(ctx, w, table)
		if err != nil {
			return nil, fmt.Errorf("dumping table %s: %w", table, err)
		}
		stats.Tables++
		stats.Rows += rows
		d.logger.Debug("dumped table", "table", table, "rows", rows)

		if lease != nil {
			if err := lease.Heartbeat(); err != nil {
				d.logger.Warn("failed to refresh database lease", "error", err)
			}
		}
	}
	for _, line := range d.dialect.Postamble() {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%s %s\n%s\n", CompletedPrefix, d.now().UTC().Format(time.RFC3339), TrailerMarker)

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("writing dump: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("syncing dump: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("checking dump: %w", err)
	}
	stats.Bytes = info.Size()
	return stats, nil
}

func (d *Dumper) writeHeader(w io.Writer) {
	gen := d.opts.Generator
	if gen == "" {
		gen = "siteexport"
	}
	fmt.Fprintf(w, "-- %s SQL dump\n", gen)
	fmt.Fprintf(w, "-- Dialect: %s\n", d.dialect.Name())
	fmt.Fprintf(w, "-- Generated: %s\n", d.now().UTC().Format(time.RFC3339))
	fmt.Fprintln(w, "--")
	fmt.Fprintln(w)
	for _, line := range d.dialect.Preamble() {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func (d *Dumper) dumpTable(ctx context.Context, w io.Writer, table string) (int64, error) {
	create, err := d.dialect.CreateTable(ctx, d.db, table)
	if err != nil {
		return 0, err
	}
	ident := d.dialect.QuoteIdent(table)

	fmt.Fprintf(w, "--\n-- Table structure for table %s\n--\n\n", ident)
	fmt.Fprintf(w, "DROP TABLE IF EXISTS %s;\n%s\n\n", ident, create)
	fmt.Fprintf(w, "--\n-- Data for table %s\n--\n\n", ident)

	var total int64
	for offset := 0; ; offset += d.opts.PageSize {
		n, err := d.dumpPage(ctx, w, table, offset)
		if err != nil {
			return total, err
		}
		total += int64(n)
		if n < d.opts.PageSize {
			break
		}
	}
	fmt.Fprintln(w)
	return total, nil
}

// dumpPage writes one page of rows as multi-row inserts and returns the
// number of rows read.
func (d *Dumper) dumpPage(ctx context.Context, w io.Writer, table string, offset int) (int, error) {
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d",
		d.dialect.QuoteIdent(table), d.opts.PageSize, offset)
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return 0, fmt.Errorf("failed to read column types: %w", err)
	}
	numeric := make([]bool, len(types))
	cols := make([]string, len(types))
	for i, ct := range types {
		numeric[i] = isNumericType(ct.DatabaseTypeName())
		cols[i] = d.dialect.QuoteIdent(ct.Name())
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES\n", d.dialect.QuoteIdent(table), strings.Join(cols, ", "))

	values := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		io.WriteString(w, prefix)
		io.WriteString(w, strings.Join(batch, ",\n"))
		io.WriteString(w, ";\n")
		batch = batch[:0]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("failed to scan row: %w", err)
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = d.literal(v, numeric[i])
		}
		batch = append(batch, "("+strings.Join(literals, ", ")+")")
		n++
		if len(batch) >= d.opts.RowsPerInsert {
			flush()
		}
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("error iterating rows: %w", err)
	}
	flush()
	return n, nil
}

// literal renders one value as SQL. Values of numeric columns are emitted
// unquoted when they look like numbers.
func (d *Dumper) literal(v any, numeric bool) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return d.formatFloat(x)
	case float32:
		return d.formatFloat(float64(x))
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return d.dialect.QuoteString(x.Format(time.RFC3339Nano))
	case []byte:
		if numeric && looksNumeric(string(x)) {
			return string(x)
		}
		if utf8.Valid(x) && bytes.IndexByte(x, 0) < 0 {
			return d.dialect.QuoteString(string(x))
		}
		return d.dialect.QuoteBytes(x)
	case string:
		if numeric && looksNumeric(x) {
			return x
		}
		return d.dialect.QuoteString(x)
	default:
		return d.dialect.QuoteString(fmt.Sprint(x))
	}
}

func (d *Dumper) formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return d.dialect.QuoteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var numericTypeHints = []string{"INT", "REAL", "FLOA", "DOUB", "DEC", "NUMERIC", "SERIAL"}

func isNumericType(name string) bool {
	name = strings.ToUpper(name)
	for _, h := range numericTypeHints {
		if strings.Contains(name, h) {
			return true
		}
	}
	return false
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// IsComplete reports whether the plain dump at path ends with the trailer.
func IsComplete(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	start := info.Size() - tailWindow
	if start < 0 {
		start = 0
	}
	tail := make([]byte, info.Size()-start)
	if _, err := f.ReadAt(tail, start); err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return bytes.Contains(tail, []byte(TrailerMarker)), nil
}

// DetectComplete looks for a finished dump for basePath: first a compressed
// sibling of plausible size, then the plain file with its trailer. It
// returns the path of the finished artifact.
func DetectComplete(basePath string) (string, bool, error) {
	for _, codec := range detectOrder {
		p := basePath + suffixes[codec]
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", false, err
		}
		if info.Size() >= MinCompressedSize {
			return p, true, nil
		}
	}
	ok, err := IsComplete(basePath)
	if err != nil || !ok {
		return "", false, err
	}
	return basePath, true, nil
}

// Verify decompresses the dump at path if needed and checks that it ends
// with the completion trailer.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := NewDecoder(path, f)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer r.Close()

	tail := make([]byte, 0, 2*tailWindow)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			tail = append(tail, buf[:n]...)
			if len(tail) > tailWindow {
				tail = append(tail[:0], tail[len(tail)-tailWindow:]...)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}
	if !bytes.Contains(tail, []byte(TrailerMarker)) {
		return fmt.Errorf("%s has no completion trailer", path)
	}
	return nil
}

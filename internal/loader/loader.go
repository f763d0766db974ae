package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/charmap"
)

const (
	EncodingLatin1 = "iso-8859-1"
	EncodingUTF8   = "utf-8"

	DelimiterAuto = "auto"
)

var (
	ErrEmptySource        = errors.New("source contains no header row")
	ErrNoDataFile         = errors.New("archive contains no delimited data file")
	ErrMultipleDataFiles  = errors.New("archive contains more than one delimited data file")
	ErrUnsupportedArchive = errors.New("unsupported archive")
)

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
	utf8BOM   = []byte{0xef, 0xbb, 0xbf}

	dataExtensions = map[string]bool{".csv": true, ".tsv": true, ".txt": true}
)

// RawTable is the parsed, untyped content of the source file.
type RawTable struct {
	Source string
	Header []string
	Rows   [][]string
	// Skipped counts lines the CSV reader could not parse at all.
	Skipped int
}

type Options struct {
	Encoding  string
	Delimiter string
	Logger    *slog.Logger
}

type Loader struct {
	encoding  string
	delimiter string
	logger    *slog.Logger
}

func New(opts Options) *Loader {
	l := &Loader{
		encoding:  strings.ToLower(opts.Encoding),
		delimiter: opts.Delimiter,
		logger:    opts.Logger,
	}
	if l.encoding == "" {
		l.encoding = EncodingLatin1
	}
	if l.delimiter == "" {
		l.delimiter = DelimiterAuto
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Load opens path, unwraps zip or gzip compression and parses the single
// delimited file inside.
func (l *Loader) Load(ctx context.Context, filename string) (*RawTable, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	head := make([]byte, 4)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read source: %w", err)
	}
	head = head[:n]
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind source: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, zipMagic):
		return l.loadZip(ctx, file, info.Size(), filename)
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrUnsupportedArchive, err)
		}
		defer zr.Close()
		name := zr.Name
		if name == "" {
			name = strings.TrimSuffix(path.Base(filename), ".gz")
		}
		return l.Parse(ctx, zr, name)
	default:
		return l.Parse(ctx, file, path.Base(filename))
	}
}

func (l *Loader) loadZip(ctx context.Context, r io.ReaderAt, size int64, filename string) (*RawTable, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: zip: %v", ErrUnsupportedArchive, err)
	}

	var candidates []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || isHiddenEntry(f.Name) {
			continue
		}
		if dataExtensions[strings.ToLower(path.Ext(f.Name))] {
			candidates = append(candidates, f)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%s: %w", filename, ErrNoDataFile)
	case 1:
	default:
		names := make([]string, len(candidates))
		for i, f := range candidates {
			names[i] = f.Name
		}
		return nil, fmt.Errorf("%s: %w: %s", filename, ErrMultipleDataFiles, strings.Join(names, ", "))
	}

	entry := candidates[0]
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	l.logger.Debug("reading archive entry", "archive", filename, "entry", entry.Name, "size", entry.UncompressedSize64)
	return l.Parse(ctx, rc, entry.Name)
}

func isHiddenEntry(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(name), ".")
}

// Parse decodes and splits an uncompressed delimited stream.
func (l *Loader) Parse(ctx context.Context, r io.Reader, name string) (*RawTable, error) {
	decoded, err := l.decode(r)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(decoded, 64*1024)
	if bom, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	delim, err := l.resolveDelimiter(br, name)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", name, ErrEmptySource)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table := &RawTable{Source: name, Header: header}
	for {
		if len(table.Rows)%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				table.Skipped++
				continue
			}
			return nil, fmt.Errorf("read row: %w", err)
		}
		table.Rows = append(table.Rows, record)
	}

	l.logger.Info("source parsed",
		"source", name,
		"columns", len(table.Header),
		"rows", len(table.Rows),
		"skipped", table.Skipped,
	)
	return table, nil
}

func (l *Loader) decode(r io.Reader) (io.Reader, error) {
	switch l.encoding {
	case EncodingLatin1, "latin1", "latin-1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case EncodingUTF8, "utf8":
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", l.encoding)
	}
}

func (l *Loader) resolveDelimiter(br *bufio.Reader, name string) (rune, error) {
	switch l.delimiter {
	case DelimiterAuto:
	case `\t`, "tab":
		return '\t', nil
	default:
		runes := []rune(l.delimiter)
		if len(runes) != 1 {
			return 0, fmt.Errorf("invalid delimiter %q", l.delimiter)
		}
		return runes[0], nil
	}

	if strings.EqualFold(path.Ext(name), ".tsv") {
		return '\t', nil
	}

	line, err := peekLine(br)
	if err != nil {
		return 0, err
	}
	return SniffDelimiter(line), nil
}

func peekLine(br *bufio.Reader) (string, error) {
	for size := 4096; ; size *= 2 {
		buf, err := br.Peek(size)
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			return string(buf[:i]), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, bufio.ErrBufferFull) {
				return string(buf), nil
			}
			return "", fmt.Errorf("read header: %w", err)
		}
	}
}

// SniffDelimiter picks the candidate separator occurring most often
// outside quotes in the header line. Comma wins ties.
func SniffDelimiter(line string) rune {
	candidates := []rune{',', ';', '\t', '|'}
	counts := make(map[rune]int, len(candidates))
	inQuotes := false
	for _, r := range line {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best := ','
	for _, c := range candidates {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

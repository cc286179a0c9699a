// Package channel implements the input/output channel (spec C3): turning
// byte streams or record generators into slice collections, and slices
// back into byte streams, independent of whatever worker eventually
// processes the records.
package channel

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/bobmcallan/rocketd/internal/codec"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
)

// ErrMalformedData is returned by Upload when a stream carries a record
// larger than bufferSize with no delimiter in sight, per spec's "Stream
// without delimiter and larger than bufferSize fails with MalformedData"
// edge case.
var ErrMalformedData = errors.New("channel: malformed data")

// UploadOptions controls how Upload splits a byte stream into records.
type UploadOptions struct {
	Format            string // "text" (default), "gzip", or "zip"
	Delimiter         string // auto-detected from \r\n, \r, \n when empty
	BufferSize        int
	StripNonPrintable bool
}

// Input writes records into a job's input slice collection, applying the
// job's codec options (Compress/Encrypt) to each slice's payload.
type Input struct {
	Slices interfaces.SliceStore
	Codec  *codec.Codec
	Job    *models.Job

	nextID int
}

// NewInput returns an Input bound to job's input collection.
func NewInput(slices interfaces.SliceStore, cdc *codec.Codec, job *models.Job) *Input {
	return &Input{Slices: slices, Codec: cdc, Job: job}
}

// Upload reads source, unwraps the requested container format, splits the
// result into records by delimiter, groups them into job.SliceSize
// batches, and inserts each batch as a slice. Returns the total record
// count.
//
// Records are read through a rolling buffer bounded by bufferSize (spec
// §4.3): a stream with no delimiter in the first bufferSize bytes, or any
// single record longer than bufferSize, fails with ErrMalformedData rather
// than silently buffering an unbounded amount of memory.
func (in *Input) Upload(ctx context.Context, source io.Reader, opts UploadOptions) (int, error) {
	reader, err := formatReader(source, opts.Format)
	if err != nil {
		return 0, fmt.Errorf("channel: upload: %w", err)
	}

	bufSize := opts.BufferSize
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}

	br := bufio.NewReaderSize(reader, bufSize+1)

	delimiter := opts.Delimiter
	if delimiter == "" {
		peek, peekErr := br.Peek(bufSize + 1)
		if peekErr != nil && peekErr != io.EOF && peekErr != bufio.ErrBufferFull {
			return 0, fmt.Errorf("channel: read upload stream: %w", peekErr)
		}
		if len(peek) > bufSize && !bytes.ContainsAny(peek, "\r\n") {
			return 0, fmt.Errorf("channel: stream exceeds %d-byte buffer with no delimiter: %w", bufSize, ErrMalformedData)
		}
		delimiter = detectDelimiter(peek)
	}

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 0, bufSize), bufSize)
	scanner.Split(splitOnDelimiter(delimiter))

	var records []string
	for scanner.Scan() {
		record := scanner.Text()
		if opts.StripNonPrintable {
			record = stripNonPrintableRunes(record)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return 0, fmt.Errorf("channel: record exceeds %d-byte buffer with no delimiter: %w", bufSize, ErrMalformedData)
		}
		return 0, fmt.Errorf("channel: read upload stream: %w", err)
	}

	i := 0
	return in.UploadRecords(ctx, func() (string, bool) {
		if i >= len(records) {
			return "", false
		}
		r := records[i]
		i++
		return r, true
	})
}

// UploadRecords pulls records from next until it returns ok=false, grouping
// them into job.SliceSize batches and inserting each as a slice. Returns
// the total record count.
func (in *Input) UploadRecords(ctx context.Context, next func() (string, bool)) (int, error) {
	sliceSize := in.Job.SliceSize
	if sliceSize <= 0 {
		sliceSize = models.DefaultSliceSize
	}

	count := 0
	batch := make([]string, 0, sliceSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := in.UploadSlice(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		record, ok := next()
		if !ok {
			break
		}
		batch = append(batch, record)
		count++
		if len(batch) >= sliceSize {
			if err := flush(); err != nil {
				return count, err
			}
		}
	}
	if err := flush(); err != nil {
		return count, err
	}
	return count, nil
}

// UploadSlice writes one slice as-is, applying the job's codec options to
// its payload. IDs are assigned sequentially and zero-padded so ascending
// lexical sort matches ascending numeric order for NextSlice/Each.
func (in *Input) UploadSlice(ctx context.Context, records []string) error {
	in.nextID++
	slice := &models.Slice{
		ID:    fmt.Sprintf("%08d", in.nextID),
		State: models.SliceQueued,
	}

	if in.Job.Compress || in.Job.Encrypt {
		payload, err := in.Codec.Encode(records, codec.Options{Compress: in.Job.Compress, Encrypt: in.Job.Encrypt})
		if err != nil {
			return fmt.Errorf("channel: encode slice %s: %w", slice.ID, err)
		}
		slice.Payload = payload
	} else {
		slice.Records = records
	}

	if err := in.Slices.Insert(ctx, slice); err != nil {
		return fmt.Errorf("channel: insert slice %s: %w", slice.ID, err)
	}
	return nil
}

// formatReader unwraps source according to format, per spec's three file
// formats: text is the identity, gzip wraps text, zip holds one entry.
func formatReader(source io.Reader, format string) (io.Reader, error) {
	switch format {
	case "", "text":
		return source, nil
	case "gzip":
		return gzip.NewReader(source)
	case "zip":
		data, err := io.ReadAll(source)
		if err != nil {
			return nil, fmt.Errorf("read zip source: %w", err)
		}
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("open zip archive: %w", err)
		}
		if len(zr.File) == 0 {
			return nil, fmt.Errorf("zip archive is empty")
		}
		return zr.File[0].Open()
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// detectDelimiter picks \r\n, \r, or \n, preferring the longest match
// present in data, defaulting to \n when none are found (including on
// empty input).
func detectDelimiter(data []byte) string {
	if bytes.Contains(data, []byte("\r\n")) {
		return "\r\n"
	}
	if bytes.Contains(data, []byte("\r")) {
		return "\r"
	}
	return "\n"
}

// splitOnDelimiter returns a bufio.SplitFunc that tokenizes on delimiter,
// in the style of bufio.ScanLines. A final delimiter at end-of-stream
// produces no trailing empty token, so upload+download round-trips
// byte-for-byte when the source ends with delimiter. Used with
// scanner.Buffer to bound each token to bufferSize — a token that never
// finds delimiter within that bound surfaces as bufio.ErrTooLong.
func splitOnDelimiter(delimiter string) bufio.SplitFunc {
	db := []byte(delimiter)
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, db); i >= 0 {
			return i + len(db), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

func stripNonPrintableRunes(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
}

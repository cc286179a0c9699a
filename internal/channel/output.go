package channel

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bobmcallan/rocketd/internal/codec"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
)

// DownloadOptions controls how Download serializes a job's output slices.
type DownloadOptions struct {
	Format      string // "text" (default), "gzip", or "zip"
	Delimiter   string // default "\n"
	ZipFilename string
	// Encrypt wraps the assembled output through the job's codec before
	// writing, producing a self-describing encrypted blob instead of plain
	// text — a separate knob from the job's own Encrypt flag, which only
	// governs how each slice's payload was stored.
	Encrypt bool
}

// Output reads a job's output slice collection back into a byte stream.
type Output struct {
	Slices interfaces.SliceStore
	Codec  *codec.Codec
	Job    *models.Job
}

// NewOutput returns an Output bound to job's output collection.
func NewOutput(slices interfaces.SliceStore, cdc *codec.Codec, job *models.Job) *Output {
	return &Output{Slices: slices, Codec: cdc, Job: job}
}

// Download enumerates slices in ascending id order and writes
// records.join(delimiter) + delimiter to sink, refusing unless the job has
// reached completed. Output id matches the originating input id, so
// downloads reconstruct the original upload order even when multiple
// workers completed slices out of order.
func (out *Output) Download(ctx context.Context, sink io.Writer, opts DownloadOptions) error {
	if out.Job.State != models.StateCompleted {
		return fmt.Errorf("channel: download refused: job %s is %s, not completed", out.Job.ID, out.Job.State)
	}

	delimiter := opts.Delimiter
	if delimiter == "" {
		delimiter = "\n"
	}

	var buf bytes.Buffer
	err := out.Slices.Each(ctx, func(slice *models.Slice) error {
		records, err := out.decodeSlice(slice)
		if err != nil {
			return err
		}
		for _, r := range records {
			buf.WriteString(r)
			buf.WriteString(delimiter)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("channel: download job %s: %w", out.Job.ID, err)
	}

	data := buf.Bytes()
	if opts.Encrypt {
		data, err = out.Codec.Encode([]string{buf.String()}, codec.Options{Encrypt: true})
		if err != nil {
			return fmt.Errorf("channel: encrypt download for job %s: %w", out.Job.ID, err)
		}
	}

	switch opts.Format {
	case "", "text":
		_, err := sink.Write(data)
		return err
	case "gzip":
		gw := gzip.NewWriter(sink)
		if _, err := gw.Write(data); err != nil {
			return fmt.Errorf("channel: gzip download for job %s: %w", out.Job.ID, err)
		}
		return gw.Close()
	case "zip":
		return writeZip(sink, opts.ZipFilename, data)
	default:
		return fmt.Errorf("channel: unknown format %q", opts.Format)
	}
}

func (out *Output) decodeSlice(slice *models.Slice) ([]string, error) {
	if len(slice.Payload) > 0 {
		records, err := out.Codec.Decode(slice.Payload, codec.Options{})
		if err != nil {
			return nil, fmt.Errorf("decode slice %s: %w", slice.ID, err)
		}
		return records, nil
	}
	return slice.Records, nil
}

// writeZip holds data as the single entry filename in a zip archive.
// archive/zip.Writer doesn't strictly require a seekable target, but spec
// calls for spooling to a temp file for non-seekable sinks, so that
// distinction is kept here for predictable memory use on large downloads.
func writeZip(sink io.Writer, filename string, data []byte) error {
	if filename == "" {
		filename = "output.txt"
	}

	if _, seekable := sink.(io.Seeker); seekable {
		return writeZipEntry(sink, filename, data)
	}

	tmp, err := os.CreateTemp("", "rocketd-download-*.zip")
	if err != nil {
		return fmt.Errorf("spool temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := writeZipEntry(tmp, filename, data); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spooled zip: %w", err)
	}
	_, err = io.Copy(sink, tmp)
	return err
}

func writeZipEntry(w io.Writer, filename string, data []byte) error {
	zw := zip.NewWriter(w)
	entry, err := zw.Create(filename)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", filename, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("write zip entry %s: %w", filename, err)
	}
	return zw.Close()
}

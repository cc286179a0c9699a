package channel

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/bobmcallan/rocketd/internal/codec"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/bobmcallan/rocketd/internal/store/memory"
	"github.com/stretchr/testify/require"
)

func testCodec() *codec.Codec {
	return &codec.Codec{Keys: map[byte][]byte{1: []byte("test-secret")}, CurrentVersion: 1}
}

// TestUploadDownloadRoundTrip covers spec's round-trip property: upload
// followed by download with matching delimiter yields byte-for-byte
// equality when the source ends with delimiter.
func TestUploadDownloadRoundTrip(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, SliceSize: 2, State: models.StateRunning}
	ctx := context.Background()

	input := NewInput(store.InputSlices(job.ID), testCodec(), job)
	source := bytes.NewBufferString("this is some\ndata\na\nthat we can delimit\nas necessary\n")
	count, err := input.Upload(ctx, source, UploadOptions{})
	require.NoError(t, err)
	require.Equal(t, 5, count)

	// Copy input slices into the output collection as-is (standing in for
	// a pass-through worker) so Download has something completed to read.
	require.NoError(t, store.InputSlices(job.ID).Each(ctx, func(s *models.Slice) error {
		return store.OutputSlices(job.ID).Insert(ctx, s)
	}))

	job.State = models.StateCompleted
	output := NewOutput(store.OutputSlices(job.ID), testCodec(), job)
	var dest bytes.Buffer
	require.NoError(t, output.Download(ctx, &dest, DownloadOptions{}))

	require.Equal(t, "this is some\ndata\na\nthat we can delimit\nas necessary\n", dest.String())
}

func TestUploadEmptyStreamYieldsZeroRecords(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, SliceSize: 100}
	ctx := context.Background()

	input := NewInput(store.InputSlices(job.ID), testCodec(), job)
	count, err := input.Upload(ctx, bytes.NewBufferString(""), UploadOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, count)

	n, err := store.InputSlices(job.ID).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestDownloadRefusedUnlessCompleted(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, State: models.StateRunning}
	output := NewOutput(store.OutputSlices(job.ID), testCodec(), job)
	err := output.Download(context.Background(), &bytes.Buffer{}, DownloadOptions{})
	require.Error(t, err)
}

func TestUploadCompressEncryptRoundTrip(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, SliceSize: 1, Compress: true, Encrypt: true}
	ctx := context.Background()

	input := NewInput(store.InputSlices(job.ID), testCodec(), job)
	lines := "this is some\ndata\na\nthat we can delimit\nas necessary\n"
	_, err := input.Upload(ctx, bytes.NewBufferString(lines), UploadOptions{})
	require.NoError(t, err)

	var slice *models.Slice
	require.NoError(t, store.InputSlices(job.ID).Each(ctx, func(s *models.Slice) error {
		if slice == nil {
			cp := *s
			slice = &cp
		}
		return nil
	}))
	require.NotNil(t, slice)
	require.NotContains(t, string(slice.Payload), "this is some")
	require.NoError(t, store.OutputSlices(job.ID).Insert(ctx, slice))

	job.State = models.StateCompleted
	output := NewOutput(store.OutputSlices(job.ID), testCodec(), job)
	var dest bytes.Buffer
	require.NoError(t, output.Download(ctx, &dest, DownloadOptions{}))
	require.Equal(t, "this is some\n", dest.String())
}

func TestDownloadGzipFormat(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, State: models.StateCompleted}
	ctx := context.Background()
	require.NoError(t, store.OutputSlices(job.ID).Insert(ctx, &models.Slice{ID: "1", Records: []string{"hello"}, State: models.SliceCompleted}))

	output := NewOutput(store.OutputSlices(job.ID), testCodec(), job)
	var dest bytes.Buffer
	require.NoError(t, output.Download(ctx, &dest, DownloadOptions{Format: "gzip"}))

	gr, err := gzip.NewReader(&dest)
	require.NoError(t, err)
	defer gr.Close()
	var plain bytes.Buffer
	_, err = plain.ReadFrom(gr)
	require.NoError(t, err)
	require.Equal(t, "hello\n", plain.String())
}

func TestUploadStripNonPrintable(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, SliceSize: 10}
	ctx := context.Background()
	input := NewInput(store.InputSlices(job.ID), testCodec(), job)

	count, err := input.Upload(ctx, bytes.NewBufferString("ab\x07c\nd\n"), UploadOptions{StripNonPrintable: true})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	first, err := store.InputSlices(job.ID).First(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "d"}, first.Records)
}

// TestUploadNoDelimiterBeyondBufferSizeFailsMalformed covers spec's "Stream
// without delimiter and larger than bufferSize" edge case.
func TestUploadNoDelimiterBeyondBufferSizeFailsMalformed(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, SliceSize: 10}
	ctx := context.Background()
	input := NewInput(store.InputSlices(job.ID), testCodec(), job)

	source := bytes.NewBufferString(strings.Repeat("x", 100))
	_, err := input.Upload(ctx, source, UploadOptions{BufferSize: 32})
	require.ErrorIs(t, err, ErrMalformedData)
}

// TestUploadRecordLargerThanBufferSizeFailsMalformed covers the same edge
// case when a delimiter is present but one record's span exceeds
// bufferSize.
func TestUploadRecordLargerThanBufferSizeFailsMalformed(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, SliceSize: 10}
	ctx := context.Background()
	input := NewInput(store.InputSlices(job.ID), testCodec(), job)

	source := bytes.NewBufferString("short\n" + strings.Repeat("y", 100) + "\nshort\n")
	_, err := input.Upload(ctx, source, UploadOptions{BufferSize: 32})
	require.ErrorIs(t, err, ErrMalformedData)
}

// TestUploadWithinBufferSizeSucceeds is the control case: a stream whose
// records all fit comfortably within bufferSize uploads normally.
func TestUploadWithinBufferSizeSucceeds(t *testing.T) {
	store := memory.New()
	job := &models.Job{ID: "j1", Kind: models.KindSliced, SliceSize: 10}
	ctx := context.Background()
	input := NewInput(store.InputSlices(job.ID), testCodec(), job)

	source := bytes.NewBufferString("ab\ncd\nef\n")
	count, err := input.Upload(ctx, source, UploadOptions{BufferSize: 32})
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/compressors"
	"github.com/airframesio/data-differ/cmd/engine"
	"github.com/airframesio/data-differ/cmd/formatters"
	"github.com/airframesio/data-differ/cmd/reporter"
)

var exportTime = time.Date(2024, 3, 7, 14, 30, 0, 0, time.UTC)

type fakeUploader struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeUploader) Upload(input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), input, opts...)
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	key := aws.StringValue(input.Key)
	f.objects[key] = data
	f.types[key] = aws.StringValue(input.ContentType)
	return &s3manager.UploadOutput{Location: "s3://" + aws.StringValue(input.Bucket) + "/" + key}, nil
}

func testResult() *engine.Result {
	return &engine.Result{
		Columns: []string{"_key_id", "name_a", "name_b", "name_status", "_row_status"},
		Rows: []map[string]any{
			{"_key_id": int64(5), "name_a": "v5", "name_b": "changed", "name_status": "modified", "_row_status": "modified"},
			{"_key_id": int64(11), "name_a": nil, "name_b": "v11", "name_status": "added", "_row_status": "added"},
		},
		Metadata: engine.Metadata{
			RunID:        "run-1",
			Algorithm:    comparison.AlgorithmHashBucket,
			Stage:        reporter.StageCompleted,
			DiffRows:     2,
			StatusCounts: map[string]int64{"modified": 1, "added": 1, "same": 8},
		},
	}
}

func testConfig() *comparison.Config {
	return &comparison.Config{
		SourceA:     comparison.Table("main", "t_a"),
		SourceB:     comparison.Query("SELECT * FROM t_b", "recent b"),
		JoinColumns: []string{"id"},
	}
}

func TestPathTemplate(t *testing.T) {
	pt := NewPathTemplate("")
	got := pt.Generate(PathVars{SourceA: "main.t_a", SourceB: "recent b", RunID: "run-1", Time: exportTime})
	assert.Equal(t, "main.t_a_vs_recent_b/2024/03/07/run-1", got)

	pt = NewPathTemplate("/diffs/{YYYY}{MM}{DD}{HH}/{source_a}/")
	assert.Equal(t, "diffs/2024030714/unnamed", pt.Generate(PathVars{Time: exportTime}))
}

func TestWriteLocal(t *testing.T) {
	dir := t.TempDir()
	e, err := NewWithUploader(Options{Format: formatters.FormatCSV, Compression: compressors.Gzip, Directory: dir, ChunkSize: 1}, nil, nil)
	require.NoError(t, err)
	e.now = func() time.Time { return exportTime }

	out, err := e.Write(context.Background(), testResult(), testConfig())
	require.NoError(t, err)
	assert.False(t, out.Uploaded)
	assert.Equal(t, 2, out.Rows)
	assert.Equal(t, filepath.Join(dir, "main.t_a_vs_recent_b", "2024", "03", "07", "run-1.csv.gz"), out.DataPath)

	f, err := os.Open(out.DataPath)
	require.NoError(t, err)
	defer f.Close()
	compressor, rest := compressors.FromPath(out.DataPath)
	zr, err := compressor.NewReader(f)
	require.NoError(t, err)
	format, err := formatters.FormatFromPath(rest)
	require.NoError(t, err)
	reader, err := formatters.GetReader(format, zr)
	require.NoError(t, err)
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "changed", rows[0]["name_b"])

	raw, err := os.ReadFile(out.MetadataPath)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "run-1.csv.gz", doc.DataFile)
	assert.Equal(t, "main.t_a", doc.SourceA)
	assert.Equal(t, []string{"id"}, doc.JoinColumns)
	assert.Equal(t, int64(8), doc.Metadata.StatusCounts["same"])
}

func TestWriteS3(t *testing.T) {
	uploader := newFakeUploader()
	e, err := NewWithUploader(Options{
		Format:       formatters.FormatParquet,
		PathTemplate: "diffs/{run}",
		S3:           &S3Options{Bucket: "diffs-bucket"},
	}, uploader, nil)
	require.NoError(t, err)

	out, err := e.Write(context.Background(), testResult(), testConfig())
	require.NoError(t, err)
	assert.True(t, out.Uploaded)
	assert.Equal(t, "diffs/run-1.parquet", out.DataPath)
	assert.Equal(t, "diffs/run-1.metadata.json", out.MetadataPath)
	assert.Equal(t, "application/vnd.apache.parquet", uploader.types[out.DataPath])
	assert.Equal(t, "application/json", uploader.types[out.MetadataPath])

	reader, err := formatters.NewParquetReader(bytes.NewReader(uploader.objects[out.DataPath]))
	require.NoError(t, err)
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	var doc Document
	require.NoError(t, json.Unmarshal(uploader.objects[out.MetadataPath], &doc))
	assert.Equal(t, compressors.Zstd, doc.Compression)
}

func TestWriteErrors(t *testing.T) {
	_, err := NewWithUploader(Options{}, nil, nil)
	assert.ErrorIs(t, err, ErrNoDestination)

	_, err = NewWithUploader(Options{S3: &S3Options{Bucket: "b"}}, nil, nil)
	assert.ErrorIs(t, err, ErrNoDestination)

	e, err := NewWithUploader(Options{Directory: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	_, err = e.Write(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilResult)

	e, err = NewWithUploader(Options{Directory: t.TempDir(), Format: "xml"}, nil, nil)
	require.NoError(t, err)
	_, err = e.Write(context.Background(), testResult(), nil)
	assert.ErrorIs(t, err, formatters.ErrUnsupportedFormat)

	uploader := newFakeUploader()
	uploader.err = errors.New("access denied")
	e, err = NewWithUploader(Options{S3: &S3Options{Bucket: "b"}}, uploader, nil)
	require.NoError(t, err)
	_, err = e.Write(context.Background(), testResult(), testConfig())
	assert.ErrorContains(t, err, "access denied")
}

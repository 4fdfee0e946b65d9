// Package export writes a comparison result as a formatted, compressed diff file plus a
// metadata document, to a local directory or an S3 bucket.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/airframesio/data-differ/cmd/comparison"
	"github.com/airframesio/data-differ/cmd/compressors"
	"github.com/airframesio/data-differ/cmd/engine"
	"github.com/airframesio/data-differ/cmd/formatters"
)

// DefaultChunkSize is the number of rows handed to a formatter at once
const DefaultChunkSize = 10000

// MetadataSuffix is appended to the data file's base name for the metadata document
const MetadataSuffix = ".metadata.json"

var (
	ErrNilResult     = errors.New("result is required")
	ErrNoDestination = errors.New("export needs an output directory or an S3 bucket")
)

// S3Options selects an S3 (or S3-compatible) destination
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Options configures one export
type Options struct {
	Format       string
	Compression  string
	Level        int
	Directory    string
	PathTemplate string
	ChunkSize    int
	S3           *S3Options
}

// Output describes what was written
type Output struct {
	DataPath     string `json:"dataPath"`
	MetadataPath string `json:"metadataPath"`
	Rows         int    `json:"rows"`
	Bytes        int64  `json:"bytes"`
	Uploaded     bool   `json:"uploaded"`
}

// Document is the metadata written next to each diff file
type Document struct {
	DataFile    string          `json:"dataFile"`
	Format      string          `json:"format"`
	Compression string          `json:"compression"`
	SourceA     string          `json:"sourceA"`
	SourceB     string          `json:"sourceB"`
	JoinColumns []string        `json:"joinColumns"`
	Columns     []string        `json:"columns"`
	Metadata    engine.Metadata `json:"metadata"`
	ExportedAt  time.Time       `json:"exportedAt"`
}

// Exporter renders results and stores them
type Exporter struct {
	opts     Options
	uploader s3manageriface.UploaderAPI
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an exporter. An S3 session is opened when opts.S3 is set.
func New(opts Options, logger *slog.Logger) (*Exporter, error) {
	var uploader s3manageriface.UploaderAPI
	if opts.S3 != nil {
		sess, err := session.NewSession(&aws.Config{
			Endpoint:         aws.String(opts.S3.Endpoint),
			Region:           aws.String(opts.S3.Region),
			Credentials:      credentials.NewStaticCredentials(opts.S3.AccessKey, opts.S3.SecretKey, ""),
			S3ForcePathStyle: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 session: %w", err)
		}
		uploader = s3manager.NewUploader(sess)
	}
	return NewWithUploader(opts, uploader, logger)
}

// NewWithUploader creates an exporter around an existing uploader
func NewWithUploader(opts Options, uploader s3manageriface.UploaderAPI, logger *slog.Logger) (*Exporter, error) {
	if opts.S3 == nil && opts.Directory == "" {
		return nil, ErrNoDestination
	}
	if opts.S3 != nil && uploader == nil {
		return nil, fmt.Errorf("%w: no S3 uploader", ErrNoDestination)
	}
	if opts.Format == "" {
		opts.Format = formatters.FormatJSONL
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if formatters.UsesInternalCompression(opts.Format) && opts.Compression == "" {
		opts.Compression = compressors.Zstd
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{opts: opts, uploader: uploader, logger: logger, now: time.Now}, nil
}

// Write exports res with a one-off exporter
func Write(ctx context.Context, res *engine.Result, cfg *comparison.Config, opts Options, logger *slog.Logger) (*Output, error) {
	e, err := New(opts, logger)
	if err != nil {
		return nil, err
	}
	return e.Write(ctx, res, cfg)
}

// Write renders res and stores the diff file and its metadata document
func (e *Exporter) Write(ctx context.Context, res *engine.Result, cfg *comparison.Config) (*Output, error) {
	if res == nil {
		return nil, ErrNilResult
	}

	formatter, err := formatters.GetFormatterWithCompression(e.opts.Format, e.opts.Compression)
	if err != nil {
		return nil, err
	}
	// Parquet compresses its pages, so the stream itself stays uncompressed
	streamCompression := e.opts.Compression
	if formatters.UsesInternalCompression(e.opts.Format) {
		streamCompression = compressors.None
	}
	compressor, err := compressors.GetCompressor(streamCompression)
	if err != nil {
		return nil, err
	}

	var sourceA, sourceB string
	var joinColumns []string
	if cfg != nil {
		sourceA, sourceB = cfg.SourceA.Label(), cfg.SourceB.Label()
		joinColumns = cfg.JoinColumns
	}
	exportedAt := e.now()
	base := NewPathTemplate(e.opts.PathTemplate).Generate(PathVars{
		SourceA: sourceA,
		SourceB: sourceB,
		RunID:   res.Metadata.RunID,
		Time:    exportedAt,
	})
	dataPath := base + formatter.Extension() + compressor.Extension()
	metadataPath := base + MetadataSuffix

	var data bytes.Buffer
	if err := e.render(&data, formatter, compressor, res); err != nil {
		return nil, err
	}

	doc, err := json.MarshalIndent(Document{
		DataFile:    filepath.Base(dataPath),
		Format:      e.opts.Format,
		Compression: e.opts.Compression,
		SourceA:     sourceA,
		SourceB:     sourceB,
		JoinColumns: joinColumns,
		Columns:     res.Columns,
		Metadata:    res.Metadata,
		ExportedAt:  exportedAt.UTC(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	out := &Output{
		DataPath:     dataPath,
		MetadataPath: metadataPath,
		Rows:         len(res.Rows),
		Bytes:        int64(data.Len()),
	}

	if e.opts.S3 != nil {
		if err := e.upload(ctx, dataPath, contentType(formatter, streamCompression), data.Bytes()); err != nil {
			return nil, err
		}
		if err := e.upload(ctx, metadataPath, "application/json", doc); err != nil {
			return nil, err
		}
		out.Uploaded = true
		e.logger.Info(fmt.Sprintf("☁️  Uploaded %d diff rows to s3://%s/%s (%d bytes)", out.Rows, e.opts.S3.Bucket, dataPath, out.Bytes))
		return out, nil
	}

	out.DataPath = filepath.Join(e.opts.Directory, filepath.FromSlash(dataPath))
	out.MetadataPath = filepath.Join(e.opts.Directory, filepath.FromSlash(metadataPath))
	if err := writeFile(out.DataPath, data.Bytes()); err != nil {
		return nil, err
	}
	if err := writeFile(out.MetadataPath, doc); err != nil {
		return nil, err
	}
	e.logger.Info(fmt.Sprintf("💾 Wrote %d diff rows to %s (%d bytes)", out.Rows, out.DataPath, out.Bytes))
	return out, nil
}

func (e *Exporter) render(w io.Writer, formatter formatters.Formatter, compressor compressors.Compressor, res *engine.Result) error {
	cw, err := compressor.NewWriter(w, e.opts.Level)
	if err != nil {
		return fmt.Errorf("failed to create compressor: %w", err)
	}

	sw, err := formatter.NewWriter(cw, formatters.InferSchema(res.Columns, res.Rows))
	if err != nil {
		cw.Close()
		return err
	}

	for start := 0; start < len(res.Rows); start += e.opts.ChunkSize {
		end := min(start+e.opts.ChunkSize, len(res.Rows))
		if err := sw.WriteChunk(res.Rows[start:end]); err != nil {
			sw.Close()
			cw.Close()
			return err
		}
	}

	if err := sw.Close(); err != nil {
		cw.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	return nil
}

func (e *Exporter) upload(ctx context.Context, key, contentType string, data []byte) error {
	e.logger.Debug(fmt.Sprintf("  ☁️  Uploading to s3://%s/%s (size: %d bytes)", e.opts.S3.Bucket, key, len(data)))
	_, err := e.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(e.opts.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // export files are meant to be shared
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func contentType(formatter formatters.Formatter, compression string) string {
	switch compression {
	case compressors.Zstd:
		return "application/zstd"
	case compressors.Gzip:
		return "application/gzip"
	case compressors.LZ4:
		return "application/x-lz4"
	default:
		return formatter.MIMEType()
	}
}

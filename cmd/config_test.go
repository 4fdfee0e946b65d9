package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/airframesio/data-differ/cmd/compressors"
	"github.com/airframesio/data-differ/cmd/engine"
	"github.com/airframesio/data-differ/cmd/formatters"
)

func validConfig() *Config {
	opts := engine.DefaultOptions()
	return &Config{
		Comparison: "orders.yaml",
		Render:     renderText,
		Limit:      defaultLimit,
		Backend: BackendConfig{
			Driver: "duckdb",
		},
		Engine: EngineConfig{
			RowThreshold:        opts.RowThreshold,
			MaxDepth:            opts.MaxDepth,
			InitialModulus:      opts.InitialModulus,
			CheckEvery:          opts.CheckEvery,
			KeepPartialOnCancel: true,
		},
		Output: OutputConfig{
			Format:      formatters.FormatJSONL,
			Compression: compressors.Zstd,
		},
	}
}

func postgresConfig() *Config {
	config := validConfig()
	config.Backend = BackendConfig{
		Driver:  "postgres",
		Host:    "localhost",
		Port:    5432,
		User:    "testuser",
		Name:    "testdb",
		SSLMode: "disable",
	}
	return config
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Fatalf("valid config should not return error: %v", err)
		}
	})

	t.Run("ValidPostgresConfig", func(t *testing.T) {
		if err := postgresConfig().Validate(); err != nil {
			t.Fatalf("valid postgres config should not return error: %v", err)
		}
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"MissingComparison", func(c *Config) { c.Comparison = "" }, ErrComparisonRequired},
		{"UnknownDriver", func(c *Config) { c.Backend.Driver = "oracle" }, ErrBackendDriverInvalid},
		{"ZeroRowThreshold", func(c *Config) { c.Engine.RowThreshold = 0 }, ErrEngineOptionsInvalid},
		{"ModulusNotPowerOfTwo", func(c *Config) { c.Engine.InitialModulus = 6 }, ErrEngineOptionsInvalid},
		{"UnknownRenderFormat", func(c *Config) { c.Render = "yaml" }, ErrRenderFormatInvalid},
		{"UnknownOutputFormat", func(c *Config) {
			c.Output.Directory = "/tmp/diffs"
			c.Output.Format = "xml"
		}, ErrOutputFormatInvalid},
		{"UnknownCompression", func(c *Config) {
			c.Output.Directory = "/tmp/diffs"
			c.Output.Compression = "brotli"
		}, ErrCompressionInvalid},
		{"CompressionLevelTooHigh", func(c *Config) {
			c.Output.Directory = "/tmp/diffs"
			c.Output.Compression = compressors.Gzip
			c.Output.CompressionLevel = 12
		}, ErrCompressionLevelInvalid},
		{"S3MissingAccessKey", func(c *Config) {
			c.S3 = S3Config{Bucket: "diffs", SecretKey: "secret"}
		}, ErrS3AccessKeyRequired},
		{"S3MissingSecretKey", func(c *Config) {
			c.S3 = S3Config{Bucket: "diffs", AccessKey: "access"}
		}, ErrS3SecretKeyRequired},
		{"S3BadRegion", func(c *Config) {
			c.S3 = S3Config{Bucket: "diffs", AccessKey: "access", SecretKey: "secret", Region: "us east 1"}
		}, ErrS3RegionInvalid},
		{"ViewerPortOutOfRange", func(c *Config) {
			c.Viewer = true
			c.ViewerPort = 70000
		}, ErrViewerPortInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := config.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("OutputSettingsIgnoredWithoutDestination", func(t *testing.T) {
		config := validConfig()
		config.Output.Format = "xml"
		if err := config.Validate(); err != nil {
			t.Fatalf("output format should only be checked when exporting: %v", err)
		}
	})

	t.Run("AutoRegionAccepted", func(t *testing.T) {
		config := validConfig()
		config.S3 = S3Config{Bucket: "diffs", AccessKey: "access", SecretKey: "secret", Region: regionAuto}
		if err := config.Validate(); err != nil {
			t.Fatalf("auto region should be accepted: %v", err)
		}
	})
}

func TestPostgresBackendValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"MissingUser", func(c *Config) { c.Backend.User = "" }, ErrDatabaseUserRequired},
		{"MissingName", func(c *Config) { c.Backend.Name = "" }, ErrDatabaseNameRequired},
		{"PortZero", func(c *Config) { c.Backend.Port = 0 }, ErrDatabasePortInvalid},
		{"PortTooHigh", func(c *Config) { c.Backend.Port = 65536 }, ErrDatabasePortInvalid},
		{"NegativeTimeout", func(c *Config) { c.Backend.StatementTimeout = -1 }, ErrStatementTimeoutInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := postgresConfig()
			tt.mutate(config)
			if err := config.Validate(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("DSNSkipsFieldChecks", func(t *testing.T) {
		config := postgresConfig()
		config.Backend.User = ""
		config.Backend.DSN = "postgres://u:p@db/app"
		if err := config.Validate(); err != nil {
			t.Fatalf("explicit DSN should skip field checks: %v", err)
		}
	})

	t.Run("AliasDriver", func(t *testing.T) {
		config := postgresConfig()
		config.Backend.Driver = "pg"
		config.Backend.User = ""
		if err := config.Validate(); !errors.Is(err, ErrDatabaseUserRequired) {
			t.Fatalf("pg alias should be validated as postgres, got %v", err)
		}
	})
}

func TestIsValidCompressionLevel(t *testing.T) {
	tests := []struct {
		compression string
		level       int
		want        bool
	}{
		{compressors.Zstd, 0, true},
		{compressors.Zstd, 1, true},
		{compressors.Zstd, 22, true},
		{compressors.Zstd, 23, false},
		{compressors.LZ4, 9, true},
		{compressors.LZ4, 10, false},
		{compressors.Gzip, -1, false},
		{compressors.None, 0, true},
		{compressors.None, 3, false},
	}

	for _, tt := range tests {
		if got := isValidCompressionLevel(tt.compression, tt.level); got != tt.want {
			t.Errorf("isValidCompressionLevel(%q, %d) = %v, want %v", tt.compression, tt.level, got, tt.want)
		}
	}
}

func TestConfigDSN(t *testing.T) {
	t.Run("NonPostgresUsesDSNAsIs", func(t *testing.T) {
		config := validConfig()
		config.Backend.DSN = "/data/diff.duckdb"
		if got := config.DSN(); got != "/data/diff.duckdb" {
			t.Fatalf("unexpected DSN: %s", got)
		}
	})

	t.Run("PostgresFromFields", func(t *testing.T) {
		config := postgresConfig()
		config.Backend.Password = "it's secret"
		config.Backend.StatementTimeout = 30

		dsn := config.DSN()
		for _, want := range []string{
			"host=localhost", "port=5432", "user=testuser", "dbname=testdb", "sslmode=disable",
			`password='it\'s secret'`,
			"options='-c statement_timeout=30000'",
		} {
			if !strings.Contains(dsn, want) {
				t.Errorf("DSN %q missing %q", dsn, want)
			}
		}
	})

	t.Run("EmptyPasswordQuoted", func(t *testing.T) {
		config := postgresConfig()
		if !strings.Contains(config.DSN(), "password=''") {
			t.Fatalf("empty password should be quoted: %s", config.DSN())
		}
	})

	t.Run("RedactedDSN", func(t *testing.T) {
		config := postgresConfig()
		config.Backend.Password = "hunter2"
		if got := config.RedactedDSN(); strings.Contains(got, "hunter2") {
			t.Fatalf("redacted DSN leaks password: %s", got)
		}

		config.Backend.DSN = "postgres://app:hunter2@db:5432/app"
		if got := config.RedactedDSN(); strings.Contains(got, "hunter2") {
			t.Fatalf("redacted URL leaks password: %s", got)
		}

		memory := validConfig()
		if got := memory.RedactedDSN(); got != "duckdb (in-memory)" {
			t.Fatalf("unexpected in-memory label: %s", got)
		}
	})
}

func TestConfigMappings(t *testing.T) {
	config := validConfig()
	config.Engine.PartialOnFailure = true
	config.Output.Directory = "/tmp/diffs"
	config.Output.CompressionLevel = 5
	config.S3 = S3Config{Bucket: "diffs", AccessKey: "a", SecretKey: "s", Region: "eu-west-1"}

	if !config.ExportEnabled() {
		t.Fatal("export should be enabled with a directory")
	}

	opts := config.EngineOptions()
	if opts.RowThreshold != engine.DefaultRowThreshold || !opts.PartialOnFailure || !opts.KeepPartialOnCancel {
		t.Fatalf("unexpected engine options: %+v", opts)
	}

	exportOpts := config.ExportOptions()
	if exportOpts.Directory != "/tmp/diffs" || exportOpts.Level != 5 || exportOpts.Format != formatters.FormatJSONL {
		t.Fatalf("unexpected export options: %+v", exportOpts)
	}
	if exportOpts.S3 == nil || exportOpts.S3.Bucket != "diffs" || exportOpts.S3.Region != "eu-west-1" {
		t.Fatalf("unexpected S3 options: %+v", exportOpts.S3)
	}

	config.S3.Bucket = ""
	config.Output.Directory = ""
	if config.ExportEnabled() {
		t.Fatal("export should be disabled without a destination")
	}
	if config.ExportOptions().S3 != nil {
		t.Fatal("S3 options should be nil without a bucket")
	}
}

package recordsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/rs/zerolog"
)

// Source produces the full, ordered record sequence of a dataset.
// Calling Load again re-reads the dataset from the start.
type Source interface {
	Load(ctx context.Context) ([]types.Record, error)
}

// ParquetSourceConfig holds configuration for a ParquetSource.
type ParquetSourceConfig struct {
	// Path is a filesystem path or a gs://bucket/object URL.
	Path string
	// TimestampColumns are converted to text after loading.
	TimestampColumns []string
	// TimestampLayout is the Go time layout used for the conversion.
	TimestampLayout string
	// MaxRecords caps the rows loaded; zero loads every row.
	MaxRecords int
}

// ParquetSource loads a parquet dataset fully into memory.
type ParquetSource struct {
	opener Opener
	cfg    ParquetSourceConfig
	logger zerolog.Logger
}

// NewParquetSource creates a source reading cfg.Path through the given opener.
func NewParquetSource(opener Opener, cfg ParquetSourceConfig, logger zerolog.Logger) (*ParquetSource, error) {
	if opener == nil {
		return nil, errors.New("opener cannot be nil")
	}
	if cfg.Path == "" {
		return nil, errors.New("input path cannot be empty")
	}
	if cfg.MaxRecords < 0 {
		logger.Warn().Int("max_records", cfg.MaxRecords).Msg("MaxRecords is negative, loading every row.")
		cfg.MaxRecords = 0
	}
	if cfg.TimestampLayout == "" {
		cfg.TimestampLayout = DefaultTimestampLayout
	}
	return &ParquetSource{
		opener: opener,
		cfg:    cfg,
		logger: logger.With().Str("component", "ParquetSource").Str("input_path", cfg.Path).Logger(),
	}, nil
}

// Load reads, decodes and coerces the dataset.
func (s *ParquetSource) Load(ctx context.Context) ([]types.Record, error) {
	start := time.Now()
	data, err := s.opener.Open(ctx, s.cfg.Path)
	if err != nil {
		return nil, err
	}
	records, err := DecodeParquet(data, s.cfg.MaxRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to decode '%s': %w", s.cfg.Path, err)
	}

	if len(s.cfg.TimestampColumns) > 0 {
		var missing []string
		records, missing = CoerceTimestamps(records, s.cfg.TimestampColumns, s.cfg.TimestampLayout)
		for _, col := range missing {
			s.logger.Warn().Str("column", col).Msg("Timestamp column not found in dataset, left untouched.")
		}
	}

	ev := s.logger.Info().Int("record_count", len(records)).Dur("elapsed", time.Since(start))
	if len(records) > 0 {
		ev = ev.Strs("columns", records[0].Columns)
	}
	ev.Msg("Dataset loaded.")
	return records, nil
}

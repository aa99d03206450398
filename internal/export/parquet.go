// Package export writes stored series to Parquet files using github.com/parquet-go/parquet-go.
package export

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"moniteur/internal/domain"
)

// SeriesRow is one data point as a Parquet row.
type SeriesRow struct {
	// AssetID is the registry id of the sampled asset
	AssetID string `parquet:"asset_id,snappy,dict"`

	// Timestamp is the round's as-of time in unix milliseconds
	Timestamp int64 `parquet:"timestamp,snappy,delta"`

	Value float64 `parquet:"value,snappy"`
}

func toRows(points []domain.DataPoint) []SeriesRow {
	rows := make([]SeriesRow, 0, len(points))
	for _, p := range points {
		rows = append(rows, SeriesRow{AssetID: p.AssetID, Timestamp: p.Timestamp, Value: p.Value})
	}
	return rows
}

// WriteSeriesParquet writes points to outputPath, replacing any existing file.
func WriteSeriesParquet(points []domain.DataPoint, outputPath string) (err error) {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()

	writer := parquet.NewGenericWriter[SeriesRow](file)
	if _, err := writer.Write(toRows(points)); err != nil {
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// ReadSeriesParquet loads a file written by WriteSeriesParquet.
func ReadSeriesParquet(path string) ([]domain.DataPoint, error) {
	rows, err := parquet.ReadFile[SeriesRow](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet file: %w", err)
	}
	points := make([]domain.DataPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, domain.DataPoint{AssetID: r.AssetID, Timestamp: r.Timestamp, Value: r.Value})
	}
	return points, nil
}

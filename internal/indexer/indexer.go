// Package indexer builds flat index snapshots and checks an index against the
// metadata store.
package indexer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/vecindex"
)

// Source is an index whose vectors can be enumerated.
type Source interface {
	vecindex.Index
	vecindex.Scanner
}

// Progress tracks snapshot building.
type Progress struct {
	Total     int
	Processed int
	StartTime time.Time
}

// ProgressFunc is called to report progress while building.
type ProgressFunc func(Progress)

// BuildOptions configures Build.
type BuildOptions struct {
	// ReportEvery is the number of vectors between progress reports.
	ReportEvery int

	// OnProgress is called to report progress.
	OnProgress ProgressFunc
}

// DefaultBuildOptions returns sensible defaults.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		ReportEvery: 10000,
	}
}

// BuildStats summarizes a finished build.
type BuildStats struct {
	Vectors   int
	Dimension int
	Metric    vecindex.Metric
	Path      string
	Duration  time.Duration
}

// Build copies every vector of src into a flat index and writes it to dst as
// a snapshot. dst is replaced atomically.
func Build(ctx context.Context, src Source, dst string, opts BuildOptions) (*BuildStats, error) {
	if opts.ReportEvery <= 0 {
		opts.ReportEvery = DefaultBuildOptions().ReportEvery
	}

	flat, err := vecindex.NewFlat(src.Dimension(), src.Metric())
	if err != nil {
		return nil, err
	}

	progress := Progress{Total: src.Len(), StartTime: time.Now()}
	log.Info("Building snapshot", "vectors", progress.Total, "dimension", src.Dimension(), "metric", src.Metric())

	err = src.Each(func(id int64, embedding []float32) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := flat.Add(id, embedding); err != nil {
			return fmt.Errorf("failed to copy vector %d: %w", id, err)
		}

		progress.Processed++
		if progress.Processed%opts.ReportEvery == 0 && opts.OnProgress != nil {
			opts.OnProgress(progress)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if opts.OnProgress != nil {
		opts.OnProgress(progress)
	}

	if err := flat.SaveFile(dst); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}

	stats := &BuildStats{
		Vectors:   flat.Len(),
		Dimension: flat.Dimension(),
		Metric:    flat.Metric(),
		Path:      dst,
		Duration:  time.Since(progress.StartTime),
	}

	log.Info("Snapshot complete",
		"vectors", stats.Vectors,
		"path", dst,
		"duration", stats.Duration.Round(time.Millisecond),
	)
	return stats, nil
}

// IDLister lists every metadata record ID.
type IDLister interface {
	IDs(ctx context.Context) ([]int64, error)
}

// Report is the result of Verify. Both lists are sorted ascending.
type Report struct {
	Vectors   int     `json:"vectors"`
	Records   int     `json:"records"`
	Matched   int     `json:"matched"`
	Orphans   []int64 `json:"vectors_without_metadata"`
	Unindexed []int64 `json:"metadata_without_vectors"`
}

// Consistent reports whether every vector has metadata and every record has
// a vector.
func (r *Report) Consistent() bool {
	return len(r.Orphans) == 0 && len(r.Unindexed) == 0
}

// Verify compares the IDs held by idx with the IDs in the metadata store.
func Verify(ctx context.Context, idx vecindex.Scanner, records IDLister) (*Report, error) {
	var vectorIDs []int64
	err := idx.Each(func(id int64, _ []float32) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		vectorIDs = append(vectorIDs, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan index: %w", err)
	}

	recordIDs, err := records.IDs(ctx)
	if err != nil {
		return nil, err
	}

	slices.Sort(vectorIDs)
	slices.Sort(recordIDs)

	report := &Report{Vectors: len(vectorIDs), Records: len(recordIDs)}

	i, j := 0, 0
	for i < len(vectorIDs) && j < len(recordIDs) {
		switch {
		case vectorIDs[i] == recordIDs[j]:
			report.Matched++
			i++
			j++
		case vectorIDs[i] < recordIDs[j]:
			report.Orphans = append(report.Orphans, vectorIDs[i])
			i++
		default:
			report.Unindexed = append(report.Unindexed, recordIDs[j])
			j++
		}
	}
	report.Orphans = append(report.Orphans, vectorIDs[i:]...)
	report.Unindexed = append(report.Unindexed, recordIDs[j:]...)

	if !report.Consistent() {
		log.Warn("Index and metadata disagree",
			"vectors_without_metadata", len(report.Orphans),
			"metadata_without_vectors", len(report.Unindexed))
	}
	return report, nil
}

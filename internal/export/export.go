// Package export renders ranked results as CSV or XLSX.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/search"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Layout selects the columns written.
type Layout string

const (
	// LayoutFull writes a header and every field of each result.
	LayoutFull Layout = "full"
	// LayoutSubmission writes video,frame_mapping_index rows without a header.
	LayoutSubmission Layout = "submission"
)

// SheetName is the worksheet XLSX exports are written to.
const SheetName = "Results"

var fullHeader = []string{
	"rank", "id", "video", "folder", "child_folder", "frame_id",
	"frame_mapping_index", "distance", "image_path",
}

// Options configures an export.
type Options struct {
	Format Format
	Layout Layout
	// IDs converts stored IDs to the IDs written in the id column.
	IDs search.IDMapper
}

// ParseFormat validates a format name. The empty string selects csv.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", errdefs.ErrInvalidArgument, s)
	}
}

// ParseLayout validates a layout name. The empty string selects full.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutFull:
		return LayoutFull, nil
	case LayoutSubmission:
		return LayoutSubmission, nil
	default:
		return "", fmt.Errorf("%w: unknown export layout %q", errdefs.ErrInvalidArgument, s)
	}
}

// FolderName formats a folder ID, e.g. L01.
func FolderName(folderID int) string { return fmt.Sprintf("L%02d", folderID) }

// ChildFolderName formats a child folder ID, e.g. V003.
func ChildFolderName(childID int) string { return fmt.Sprintf("V%03d", childID) }

// VideoName formats the video a frame belongs to, e.g. L01_V003.
func VideoName(folderID, childID int) string {
	return FolderName(folderID) + "_" + ChildFolderName(childID)
}

// Rows returns the cells for items in the given layout, header included.
func Rows(items []search.Item, layout Layout, ids search.IDMapper) [][]string {
	rows := make([][]string, 0, len(items)+1)
	if layout == LayoutFull {
		rows = append(rows, fullHeader)
	}

	for _, it := range items {
		r := it.Record
		video := VideoName(r.FolderID, r.ChildFolderID)
		mapping := strconv.FormatInt(r.FrameMappingIndex, 10)

		if layout == LayoutSubmission {
			rows = append(rows, []string{video, mapping})
			continue
		}

		rows = append(rows, []string{
			strconv.Itoa(it.Rank),
			strconv.FormatInt(ids.ToDisplay(r.ID), 10),
			video,
			FolderName(r.FolderID),
			ChildFolderName(r.ChildFolderID),
			strconv.FormatInt(r.FrameID, 10),
			mapping,
			strconv.FormatFloat(float64(it.Distance), 'f', 6, 32),
			r.ImagePath,
		})
	}
	return rows
}

// Write renders items to w.
func Write(w io.Writer, items []search.Item, opts Options) error {
	layout, err := ParseLayout(string(opts.Layout))
	if err != nil {
		return err
	}
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return err
	}

	rows := Rows(items, layout, opts.IDs)

	switch format {
	case FormatXLSX:
		return writeXLSX(w, rows)
	default:
		return writeCSV(w, rows)
	}
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = cellValue(v)
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

// cellValue stores integers as numbers so spreadsheets sort them numerically.
func cellValue(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

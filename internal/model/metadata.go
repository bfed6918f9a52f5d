package model

import (
	"math"
	"time"
)

// Source records where a refresh read its feed from.
type Source string

const (
	SourceOnline Source = "online"
	SourceLocal  Source = "local"
)

// Metadata describes one completed refresh run.
type Metadata struct {
	ID              int64      `json:"id"`
	DownloadDate    time.Time  `json:"download_date"`
	Source          Source     `json:"source"`
	CSVPath         string     `json:"csv_path"`
	TotalRecords    int64      `json:"total_records"`
	ImportedRecords int64      `json:"imported_records"`
	SkippedRecords  int64      `json:"skipped_records"`
	ImportDuration  *float64   `json:"import_duration"`
	CSVLastModified *time.Time `json:"csv_last_modified"`
	IsCurrent       bool       `json:"is_current"`
}

// MetadataSummary is the public view of the current snapshot.
type MetadataSummary struct {
	DownloadDate    time.Time  `json:"download_date"`
	Source          Source     `json:"source"`
	CSVLastModified *time.Time `json:"csv_last_modified"`
	TotalRecords    int64      `json:"total_records"`
	ImportedRecords int64      `json:"imported_records"`
	SkippedRecords  int64      `json:"skipped_records"`
	ImportDuration  *float64   `json:"import_duration"`
	DataAge         int        `json:"data_age"`
}

// Summary builds the public view of m, with DataAge counted in whole days
// between the download date and now.
func (m Metadata) Summary(now time.Time) MetadataSummary {
	return MetadataSummary{
		DownloadDate:    m.DownloadDate,
		Source:          m.Source,
		CSVLastModified: m.CSVLastModified,
		TotalRecords:    m.TotalRecords,
		ImportedRecords: m.ImportedRecords,
		SkippedRecords:  m.SkippedRecords,
		ImportDuration:  m.ImportDuration,
		DataAge:         DaysBetween(m.DownloadDate, now),
	}
}

// HistoryEntry is the reduced view returned by metadata history.
type HistoryEntry struct {
	DownloadDate    time.Time `json:"download_date"`
	Source          Source    `json:"source"`
	ImportedRecords int64     `json:"imported_records"`
	IsCurrent       bool      `json:"is_current"`
}

// History converts m to its reduced history view.
func (m Metadata) History() HistoryEntry {
	return HistoryEntry{
		DownloadDate:    m.DownloadDate,
		Source:          m.Source,
		ImportedRecords: m.ImportedRecords,
		IsCurrent:       m.IsCurrent,
	}
}

// DaysBetween returns the number of whole days elapsed from since to now,
// truncated toward zero.
func DaysBetween(since, now time.Time) int {
	return int(math.Trunc(now.Sub(since).Hours() / 24))
}

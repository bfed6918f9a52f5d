package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceValues(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "online", string(SourceOnline))
	assert.Equal(t, "local", string(SourceLocal))
}

func TestBusinessValues_MatchColumns(t *testing.T) {
	t.Parallel()

	b := Business{ID: 1, Name: "Cafe", Latitude: 51.5, Longitude: -0.1, RatingValue: Ptr("5")}
	vals := b.Values()
	require.Len(t, vals, len(BusinessColumns))
	assert.Equal(t, int64(1), vals[0])
	assert.Equal(t, "Cafe", vals[1])
	assert.Equal(t, 51.5, vals[7])
	assert.Equal(t, -0.1, vals[8])
	assert.Equal(t, Ptr("5"), vals[14])
}

func TestBusinessJSON_NullOptionals(t *testing.T) {
	t.Parallel()

	b := Business{ID: 42, Name: "Chippy", Latitude: 52, Longitude: -1}
	data, err := json.Marshal(b)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, float64(42), got["id"])
	assert.Nil(t, got["address_1"])
	assert.Nil(t, got["rating_value"])
	assert.Contains(t, got, "local_authority")
	assert.Contains(t, got, "pending")
}

func TestDaysBetween(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"same instant", base, 0},
		{"23 hours", base.Add(23 * time.Hour), 0},
		{"exactly one day", base.Add(24 * time.Hour), 1},
		{"ten and a half days", base.Add(252 * time.Hour), 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DaysBetween(base, tt.now))
		})
	}
}

func TestMetadataSummaryAndHistory(t *testing.T) {
	t.Parallel()

	dl := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	dur := 12.5
	m := Metadata{
		ID:              7,
		DownloadDate:    dl,
		Source:          SourceLocal,
		CSVPath:         "/data/feed.csv",
		TotalRecords:    3,
		ImportedRecords: 2,
		SkippedRecords:  1,
		ImportDuration:  &dur,
		IsCurrent:       true,
	}

	s := m.Summary(dl.Add(72 * time.Hour))
	assert.Equal(t, 3, s.DataAge)
	assert.Equal(t, int64(2), s.ImportedRecords)
	assert.Equal(t, SourceLocal, s.Source)

	h := m.History()
	assert.Equal(t, dl, h.DownloadDate)
	assert.True(t, h.IsCurrent)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "csv_path")
	assert.NotContains(t, string(data), "import_duration")
}

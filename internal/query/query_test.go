package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fsa-maps/internal/model"
	"github.com/sells-group/fsa-maps/internal/store"
)

func TestBoundingBoxQuery_Bounds(t *testing.T) {
	b, err := BoundingBoxQuery{MinLat: 51, MaxLat: 52, MinLng: -1, MaxLng: 0}.Bounds()
	require.NoError(t, err)
	assert.Equal(t, -1.0, b.Min(0))
	assert.Equal(t, 51.0, b.Min(1))
	assert.Equal(t, 0.0, b.Max(0))
	assert.Equal(t, 52.0, b.Max(1))
}

func TestBoundingBoxQuery_InvalidBounds(t *testing.T) {
	tests := []struct {
		name string
		q    BoundingBoxQuery
	}{
		{"inverted latitude", BoundingBoxQuery{MinLat: 52, MaxLat: 51, MinLng: -1, MaxLng: 0}},
		{"inverted longitude", BoundingBoxQuery{MinLat: 51, MaxLat: 52, MinLng: 1, MaxLng: 0}},
		{"equal latitude", BoundingBoxQuery{MinLat: 51, MaxLat: 51, MinLng: -1, MaxLng: 0}},
		{"equal longitude", BoundingBoxQuery{MinLat: 51, MaxLat: 52, MinLng: 0, MaxLng: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.q.Bounds()
			assert.ErrorIs(t, err, ErrInvalidBounds)
		})
	}
}

func TestBoundingBoxQuery_RatingFilter(t *testing.T) {
	assert.Nil(t, BoundingBoxQuery{}.RatingFilter())
	assert.Nil(t, BoundingBoxQuery{Ratings: " "}.RatingFilter())
	assert.Nil(t, BoundingBoxQuery{Ratings: ", ,"}.RatingFilter())
	assert.Equal(t, []string{"5", "awaitinginspection", "passandeatsafe"},
		BoundingBoxQuery{Ratings: "5, Awaiting Inspection,,Pass_and_Eat_Safe"}.RatingFilter())
}

func TestService_FindBusinesses_RejectsBeforeStore(t *testing.T) {
	r := &mockReader{}
	svc := NewService(r)

	_, err := svc.FindBusinesses(context.Background(), BoundingBoxQuery{MinLat: 2, MaxLat: 1, MinLng: 0, MaxLng: 1})
	assert.ErrorIs(t, err, ErrInvalidBounds)
	r.AssertNotCalled(t, "FindBusinesses", mock.Anything, mock.Anything)
}

func TestService_FindBusinesses_PassesFilter(t *testing.T) {
	r := &mockReader{}
	want := []model.Business{{ID: 7, Name: "Cafe", Latitude: 51.5, Longitude: -0.5}}
	r.On("FindBusinesses", mock.Anything, mock.MatchedBy(func(f store.BusinessFilter) bool {
		return f.Bounds.Min(1) == 51 && f.Bounds.Max(1) == 52 &&
			f.Bounds.Min(0) == -1 && f.Bounds.Max(0) == 0 &&
			assert.ObjectsAreEqual([]string{"fivestars"}, f.Ratings)
	})).Return(want, nil)

	got, err := NewService(r).FindBusinesses(context.Background(),
		BoundingBoxQuery{MinLat: 51, MaxLat: 52, MinLng: -1, MaxLng: 0, Ratings: "Five Stars"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	r.AssertExpectations(t)
}

func TestService_FindBusinesses_StoreError(t *testing.T) {
	r := &mockReader{}
	r.On("FindBusinesses", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	_, err := NewService(r).FindBusinesses(context.Background(), BoundingBoxQuery{MinLat: 0, MaxLat: 1, MinLng: 0, MaxLng: 1})
	assert.ErrorContains(t, err, "boom")
}

func TestService_CurrentMetadata(t *testing.T) {
	r := &mockReader{}
	downloaded := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	dur := 12.5
	r.On("CurrentMetadata", mock.Anything).Return(&model.Metadata{
		ID: 3, DownloadDate: downloaded, Source: model.SourceOnline,
		TotalRecords: 10, ImportedRecords: 8, SkippedRecords: 2,
		ImportDuration: &dur, IsCurrent: true,
	}, nil)

	svc := NewService(r)
	svc.now = func() time.Time { return downloaded.Add(72*time.Hour + 5*time.Hour) }

	got, err := svc.CurrentMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got.DataAge)
	assert.Equal(t, int64(8), got.ImportedRecords)
	assert.Equal(t, model.SourceOnline, got.Source)
}

func TestService_CurrentMetadata_NotFound(t *testing.T) {
	r := &mockReader{}
	r.On("CurrentMetadata", mock.Anything).Return(nil, store.ErrNotFound)

	_, err := NewService(r).CurrentMetadata(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClampHistoryLimit(t *testing.T) {
	assert.Equal(t, DefaultHistoryLimit, ClampHistoryLimit(0))
	assert.Equal(t, DefaultHistoryLimit, ClampHistoryLimit(-5))
	assert.Equal(t, 1, ClampHistoryLimit(1))
	assert.Equal(t, 100, ClampHistoryLimit(100))
	assert.Equal(t, MaxHistoryLimit, ClampHistoryLimit(5000))
}

func TestService_History(t *testing.T) {
	r := &mockReader{}
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	r.On("MetadataHistory", mock.Anything, 10).Return([]model.Metadata{
		{ID: 2, DownloadDate: now, Source: model.SourceLocal, ImportedRecords: 5, IsCurrent: true, CSVPath: "/tmp/x.csv"},
		{ID: 1, DownloadDate: now.Add(-time.Hour), Source: model.SourceOnline, ImportedRecords: 4},
	}, nil)

	got, err := NewService(r).History(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []model.HistoryEntry{
		{DownloadDate: now, Source: model.SourceLocal, ImportedRecords: 5, IsCurrent: true},
		{DownloadDate: now.Add(-time.Hour), Source: model.SourceOnline, ImportedRecords: 4},
	}, got)
	r.AssertExpectations(t)
}

// Against a real store: inclusive edges and the rating filter.
func TestService_WithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	require.NoError(t, st.InsertBusinesses(ctx, []model.Business{
		{ID: 1, Name: "Edge", Latitude: 51, Longitude: -1, RatingValue: model.Ptr("5")},
		{ID: 2, Name: "Inside", Latitude: 51.5, Longitude: -0.5, RatingValue: model.Ptr("awaitinginspection")},
		{ID: 3, Name: "Outside", Latitude: 53, Longitude: -0.5, RatingValue: model.Ptr("5")},
	}))

	svc := NewService(st)
	box := BoundingBoxQuery{MinLat: 51, MaxLat: 52, MinLng: -1, MaxLng: 0}

	all, err := svc.FindBusinesses(ctx, box)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)

	box.Ratings = "Awaiting Inspection"
	filtered, err := svc.FindBusinesses(ctx, box)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Inside", filtered[0].Name)

	_, err = svc.CurrentMetadata(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRow struct {
	ID   string `csv:"ID"`
	Name string `csv:"Name"`
	Note string `csv:"Note"`
}

func collectRecords[T any](t *testing.T, recCh <-chan Record[T], errCh <-chan error) ([]Record[T], error) {
	t.Helper()
	var recs []Record[T]
	for rec := range recCh {
		recs = append(recs, rec)
	}
	// Drain error channel
	for err := range errCh {
		if err != nil {
			return recs, err
		}
	}
	return recs, nil
}

func streamString(ctx context.Context, t *testing.T, input string, opts CSVOptions) ([]Record[testRow], error) {
	t.Helper()
	recCh, errCh := StreamRecords[testRow](ctx, strings.NewReader(input), opts)
	return collectRecords(t, recCh, errCh)
}

func TestStreamRecords_Basic(t *testing.T) {
	input := "ID,Name,Note\n1,Cafe,hi\n2,Deli,\n"
	recs, err := streamString(context.Background(), t, input, CSVOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, testRow{ID: "1", Name: "Cafe", Note: "hi"}, recs[0].Value)
	assert.Equal(t, 1, recs[0].Line)
	assert.Equal(t, testRow{ID: "2", Name: "Deli"}, recs[1].Value)
	assert.NoError(t, recs[1].Err)
}

func TestStreamRecords_BOMAndExtraColumns(t *testing.T) {
	input := "\ufeffID, Name ,Unused\n7,Bakery,x\n"
	recs, err := streamString(context.Background(), t, input, CSVOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "7", recs[0].Value.ID)
	assert.Equal(t, "Bakery", recs[0].Value.Name)
	assert.Empty(t, recs[0].Value.Note)
}

func TestStreamRecords_ShortRowIsRowError(t *testing.T) {
	input := "ID,Name,Note\n1,Cafe,hi\n2,Deli\n3,Pub,ok\n"
	recs, err := streamString(context.Background(), t, input, CSVOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.NoError(t, recs[0].Err)
	assert.Error(t, recs[1].Err)
	assert.Equal(t, 2, recs[1].Line)
	assert.NoError(t, recs[2].Err)
	assert.Equal(t, "Pub", recs[2].Value.Name)
}

func TestStreamRecords_QuotedMultiline(t *testing.T) {
	input := "ID,Name,Note\n1,\"Cafe, The\",\"line one\nline two\"\n"
	recs, err := streamString(context.Background(), t, input, CSVOptions{LazyQuotes: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Cafe, The", recs[0].Value.Name)
	assert.Equal(t, "line one\nline two", recs[0].Value.Note)
}

func TestStreamRecords_Empty(t *testing.T) {
	_, err := streamString(context.Background(), t, "", CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestStreamRecords_HeaderOnly(t *testing.T) {
	recs, err := streamString(context.Background(), t, "ID,Name\n", CSVOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStreamRecords_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := "ID,Name,Note\n1,a,b\n"
	_, err := streamString(ctx, t, input, CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}

func TestStreamRecords_PipeDelimited(t *testing.T) {
	input := "ID|Name|Note\n1|Cafe|x\n"
	recs, err := streamString(context.Background(), t, input, CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Cafe", recs[0].Value.Name)
}

func TestCountRecords(t *testing.T) {
	input := "ID,Name,Note\n1,a,b\n2,\"multi\nline\",c\n3,short\n"
	n, err := CountRecords(context.Background(), strings.NewReader(input), CSVOptions{LazyQuotes: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestCountRecords_HeaderOnly(t *testing.T) {
	n, err := CountRecords(context.Background(), strings.NewReader("ID,Name\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCountRecords_Empty(t *testing.T) {
	_, err := CountRecords(context.Background(), strings.NewReader(""), CSVOptions{})
	assert.Error(t, err)
}

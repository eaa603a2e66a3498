package service

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueryContext(t *testing.T, rawQuery string) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/api/v1/files?"+rawQuery, nil)
	return c
}

func TestParseListQuery_Valid(t *testing.T) {
	c := newQueryContext(t, "search=report&content_type=application/pdf&min_size=100&max_size=2048")

	filter, err := ParseListQuery(c)
	require.NoError(t, err)

	assert.Equal(t, "report", filter.Search)
	assert.Equal(t, "application/pdf", filter.ContentType)
	require.NotNil(t, filter.MinSize)
	assert.Equal(t, int64(100), *filter.MinSize)
	require.NotNil(t, filter.MaxSize)
	assert.Equal(t, int64(2048), *filter.MaxSize)
	assert.Nil(t, filter.StartDate)
	assert.Nil(t, filter.EndDate)
}

func TestParseListQuery_Dates(t *testing.T) {
	c := newQueryContext(t, "start_date=2025-01-01T00:00:00Z&end_date=2025-06-30T23:59:59Z")

	filter, err := ParseListQuery(c)
	require.NoError(t, err)

	require.NotNil(t, filter.StartDate)
	require.NotNil(t, filter.EndDate)
	assert.Equal(t, 2025, filter.StartDate.Year())
	assert.Equal(t, time.June, filter.EndDate.Month())
}

func TestParseListQuery_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"non-integer min_size", "min_size=abc"},
		{"negative min_size", "min_size=-1"},
		{"non-integer max_size", "max_size=1.5"},
		{"negative max_size", "max_size=-100"},
		{"min greater than max", "min_size=2048&max_size=100"},
		{"bad start_date", "start_date=2025-13-01"},
		{"bad end_date", "end_date=notadate"},
		{"start after end", "start_date=2025-06-30T00:00:00Z&end_date=2025-01-01T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newQueryContext(t, tt.query)
			_, err := ParseListQuery(c)
			assert.Error(t, err)
		})
	}
}

func TestParseListQuery_Empty(t *testing.T) {
	c := newQueryContext(t, "")

	filter, err := ParseListQuery(c)
	require.NoError(t, err)

	assert.Empty(t, filter.Search)
	assert.Empty(t, filter.ContentType)
	assert.Nil(t, filter.MinSize)
	assert.Nil(t, filter.MaxSize)
	assert.Nil(t, filter.StartDate)
	assert.Nil(t, filter.EndDate)
}

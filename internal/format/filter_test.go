package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baduk1/threadsync/pkg/thread"
)

func TestParseTime(t *testing.T) {
	got, err := ParseTime("90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Minute), got)

	got, err = ParseTime("2025-10-29T12:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), got)

	_, err = ParseTime("yesterday", now)
	assert.Error(t, err)
	_, err = ParseTime("", now)
	assert.Error(t, err)
}

func TestParseFilter(t *testing.T) {
	_, err := ParseFilter("1h", "2h", "", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since must be before --until")

	_, err = ParseFilter("soon", "", "", now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --since")
}

func TestFilter_Apply(t *testing.T) {
	grace := comment(3, "by grace", nil, 10*time.Minute)
	grace.Author = thread.Author{ID: "u-2", DisplayName: "Grace"}
	comments := []thread.Comment{
		grace,
		comment(2, "recent", nil, 30*time.Minute),
		comment(1, "old", nil, 3*time.Hour),
	}

	tests := []struct {
		name   string
		since  string
		until  string
		author string
		want   []string
	}{
		{"no criteria", "", "", "", []string{"by grace", "recent", "old"}},
		{"since", "1h", "", "", []string{"by grace", "recent"}},
		{"until", "", "20m", "", []string{"recent", "old"}},
		{"author by name", "", "", "Grace", []string{"by grace"}},
		{"author by id", "", "", "u-1", []string{"recent", "old"}},
		{"combined", "1h", "", "Ada", []string{"recent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter(tt.since, tt.until, tt.author, now)
			require.NoError(t, err)

			var bodies []string
			for _, c := range f.Apply(comments) {
				bodies = append(bodies, c.Body)
			}
			assert.Equal(t, tt.want, bodies)
		})
	}

	var nilFilter *Filter
	assert.Len(t, nilFilter.Apply(comments), 3)
}

package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logtransport/errs"
	"logtransport/record"
)

func ts(offset time.Duration) string {
	return time.Now().Add(offset).UTC().Format(time.RFC3339)
}

func TestMatchesLevelFilter(t *testing.T) {
	q := New().WithLevels("WARN", "ERROR")

	info := record.New("INFO", "hi").WithMeta("timestamp", ts(0))
	warn := record.New("WARN", "careful").WithMeta("timestamp", ts(0))

	assert.False(t, q.Matches(info))
	assert.True(t, q.Matches(warn))
}

func TestMatchesTimeWindow(t *testing.T) {
	from := time.Now().Add(-time.Hour)
	until := time.Now().Add(time.Hour)
	q := New().WithFrom(from).WithUntil(until)

	inside := record.New("INFO", "x").WithMeta("timestamp", ts(0))
	before := record.New("INFO", "x").WithMeta("timestamp", ts(-2*time.Hour))
	noTimestamp := record.New("INFO", "x")

	assert.True(t, q.Matches(inside))
	assert.False(t, q.Matches(before))
	assert.False(t, q.Matches(noTimestamp))
}

func TestMatchesSearchTermIsRegex(t *testing.T) {
	q, err := New().WithSearchTerm(`^user-\d+ failed$`)
	require.NoError(t, err)

	match := record.New("ERROR", "user-42 failed").WithMeta("timestamp", ts(0))
	noMatch := record.New("ERROR", "something else").WithMeta("timestamp", ts(0))

	assert.True(t, q.Matches(match))
	assert.False(t, q.Matches(noMatch))
}

func TestWithSearchTermInvalidRegexReturnsError(t *testing.T) {
	_, err := New().WithSearchTerm(`(unclosed`)
	require.Error(t, err)

	var se *errs.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, errs.KindRegexCompile, se.Kind)
	assert.True(t, se.Recoverable())
}

func TestProjectionOnlyNeverFilters(t *testing.T) {
	// Fields is projection-only per the spec's resolved Open Question: a
	// record missing a projected field still matches, it just omits that
	// key from Project's output.
	q := New().WithFields("user")
	r := record.New("INFO", "no user field here").WithMeta("timestamp", ts(0))

	assert.True(t, q.Matches(r))
	projected := q.Project(r)
	_, hasUser := projected["user"]
	assert.False(t, hasUser)
}

func TestProjectFirstClassFields(t *testing.T) {
	q := New().WithFields("level", "message", "code")
	r := record.New("ERROR", "boom").WithMeta("code", 500)

	projected := q.Project(r)
	assert.Equal(t, "ERROR", projected["level"])
	assert.Equal(t, "boom", projected["message"])
	assert.Equal(t, 500, projected["code"])
}

func TestSortDescendingDefault(t *testing.T) {
	older := record.New("INFO", "older").WithMeta("timestamp", ts(-time.Hour))
	newer := record.New("INFO", "newer").WithMeta("timestamp", ts(0))

	records := []record.LogRecord{older, newer}
	New().Sort(records)

	assert.Equal(t, "newer", records[0].Message)
	assert.Equal(t, "older", records[1].Message)
}

func TestSortRecordsWithoutTimestampClusterAtOneEnd(t *testing.T) {
	withTs := record.New("INFO", "has-ts").WithMeta("timestamp", ts(0))
	withoutTs := record.New("INFO", "no-ts")

	records := []record.LogRecord{withTs, withoutTs}
	New().WithOrder(Ascending).Sort(records)

	assert.Equal(t, "no-ts", records[0].Message)
}

func TestPaginate(t *testing.T) {
	records := make([]record.LogRecord, 5)
	for i := range records {
		records[i] = record.New("INFO", string(rune('a'+i)))
	}

	q := New().WithStart(1).WithLimit(2)
	page := q.Paginate(records)

	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].Message)
	assert.Equal(t, "c", page[1].Message)
}

package filter

import (
	"testing"
	"time"

	"github.com/dyluth/blur/internal/journal"
	"github.com/stretchr/testify/assert"
)

func TestCriteria_Matches(t *testing.T) {
	at := time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)
	entry := &journal.Entry{Target: "widgets.Button.click", OK: true, At: at}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{name: "no filters", criteria: Criteria{}, want: true},
		{name: "since before", criteria: Criteria{Since: at.Add(-time.Minute)}, want: true},
		{name: "since after", criteria: Criteria{Since: at.Add(time.Minute)}, want: false},
		{name: "until after", criteria: Criteria{Until: at.Add(time.Minute)}, want: true},
		{name: "until before", criteria: Criteria{Until: at.Add(-time.Minute)}, want: false},
		{name: "glob match", criteria: Criteria{TargetGlob: "widgets.Button.*"}, want: true},
		{name: "glob miss", criteria: Criteria{TargetGlob: "widgets.Label.*"}, want: false},
		{name: "bad glob", criteria: Criteria{TargetGlob: "["}, want: false},
		{name: "failed only", criteria: Criteria{FailedOnly: true}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(entry))
		})
	}
}

func TestCriteria_HasFilters(t *testing.T) {
	assert.False(t, (&Criteria{}).HasFilters())
	assert.True(t, (&Criteria{FailedOnly: true}).HasFilters())
	assert.True(t, (&Criteria{TargetGlob: "*"}).HasFilters())
	assert.True(t, (&Criteria{Since: time.Now()}).HasFilters())
}

func TestCriteria_Apply(t *testing.T) {
	entries := []journal.Entry{
		{Seq: 3, Target: "a", OK: false},
		{Seq: 2, Target: "b", OK: true},
		{Seq: 1, Target: "c", OK: false},
	}

	got := (&Criteria{FailedOnly: true}).Apply(entries)
	assert.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(1), got[1].Seq)

	assert.Empty(t, (&Criteria{TargetGlob: "z"}).Apply(entries))
}

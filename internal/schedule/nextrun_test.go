package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRunDailyMidnight(t *testing.T) {
	ref := time.Date(2024, 6, 15, 10, 30, 0, 0, time.Local)

	next, err := NextRun("0 0 0 * * ?", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 16, 0, 0, 0, 0, time.Local), next)
}

func TestNextRunFiveFieldExpression(t *testing.T) {
	ref := time.Date(2024, 6, 15, 10, 30, 0, 0, time.Local)

	next, err := NextRun("45 11 * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 11, 45, 0, 0, time.Local), next)
}

func TestNextRunQuestionMarkNormalized(t *testing.T) {
	ref := time.Date(2024, 6, 10, 9, 0, 0, 0, time.Local) // a Monday

	next, err := NextRun("0 30 8 ? * 1", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 17, 8, 30, 0, 0, time.Local), next)
}

func TestNextRunStrictlyAfterReference(t *testing.T) {
	ref := time.Date(2024, 6, 15, 0, 0, 0, 0, time.Local)

	next, err := NextRun("0 0 0 * * ?", ref)
	require.NoError(t, err)
	assert.True(t, next.After(ref))
}

func TestNextRunProgresses(t *testing.T) {
	first, err := NextRun("0 0 9 * * ?", time.Now())
	require.NoError(t, err)

	second, err := NextRun("0 0 9 * * ?", first)
	require.NoError(t, err)
	assert.True(t, second.After(first))
}

func TestNextRunInvalidExpression(t *testing.T) {
	_, err := NextRun("not a cron expression", time.Now())
	assert.Error(t, err)

	_, err = NextRun("99 99 * * *", time.Now())
	assert.Error(t, err)
}

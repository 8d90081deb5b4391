package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/iac-studio/dbstack/pkg/errors"
)

func TestUpcoming(t *testing.T) {
	t.Parallel()
	// Friday 2026-01-02 12:00 UTC, given in a non-UTC zone
	now := time.Date(2026, 1, 2, 14, 0, 0, 0, time.FixedZone("EET", 2*60*60))

	infos, err := Upcoming("cron(30 6 * * ? *)", "cron(30 22 ? * MON-FRI *)", now, 2)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, Info{
		Action:      "stop",
		Expression:  "cron(30 6 * * ? *)",
		Description: "at 06:30 UTC every day",
		Timezone:    "UTC",
		Next:        []string{"2026-01-03T06:30:00Z", "2026-01-04T06:30:00Z"},
	}, infos[0])
	assert.Equal(t, "start", infos[1].Action)
	assert.Equal(t, "at 22:30 UTC on MON-FRI", infos[1].Description)
	assert.Equal(t, []string{"2026-01-02T22:30:00Z", "2026-01-05T22:30:00Z"}, infos[1].Next)
}

func TestUpcomingRejectsInvalidExpression(t *testing.T) {
	t.Parallel()
	_, err := Upcoming("cron(30 6 * * ? *)", "rate(5 minutes)", time.Now(), 1)
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

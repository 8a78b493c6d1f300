package api

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurgeExpiredSessions(t *testing.T) {
	s, mock, _ := newTestServer(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM admin_sessions WHERE expires_at < ?")).
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.PurgeExpiredSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpiredSessionsError(t *testing.T) {
	s, mock, _ := newTestServer(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM admin_sessions")).WillReturnError(errors.New("locked"))

	_, err := s.PurgeExpiredSessions(context.Background())
	assert.ErrorContains(t, err, "purge sessions")
}

func TestStartHousekeepingSchedulesJobs(t *testing.T) {
	s, _, _ := newTestServer(t)
	c, err := s.StartHousekeeping(context.Background())
	require.NoError(t, err)
	defer c.Stop()

	entries := c.Entries()
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.False(t, e.Next.IsZero())
	}
}

func TestRunJobSkipsCancelledContext(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	s.runJob(ctx, "noop", func(context.Context) (int64, error) {
		called = true
		return 0, nil
	})
	assert.False(t, called)

	s.runJob(context.Background(), "noop", func(ctx context.Context) (int64, error) {
		_, hasDeadline := ctx.Deadline()
		called = hasDeadline
		return 1, nil
	})
	assert.True(t, called)
}

package cli

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/db"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/probe"
)

var reportColumns = []string{
	"id", "target", "address", "ports", "mode", "concurrency", "timeout_ms",
	"started_at", "duration_ms", "open_ports", "open_count", "closed_count",
	"timed_out_count", "error_count", "cancelled", "created_at",
}

// mockDatabase routes withDatabase to sqlmock for the rest of the test.
func mockDatabase(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	original := connectDatabase
	connectDatabase = func(ctx context.Context, cfg *db.Config) (*db.DB, error) {
		return db.Wrap(sqlDB), nil
	}
	t.Cleanup(func() {
		connectDatabase = original
		_ = sqlDB.Close()
	})

	t.Setenv("PORTPROBE_DATABASE_DATABASE", "portprobe_test")
	return mock
}

func TestReportsList(t *testing.T) {
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	id := uuid.NewString()

	expectList := func(mock sqlmock.Sqlmock, limit, offset int) {
		mock.ExpectQuery("SELECT \\* FROM probe_reports").
			WithArgs(limit, offset).
			WillReturnRows(sqlmock.NewRows(reportColumns).AddRow(
				id, "example.com", "93.184.216.34", "80,443", "list", 2, 1000,
				started, 35, "{80,443}", 2, 0, 0, 0, false, started,
			))
		mock.ExpectClose()
	}

	t.Run("table", func(t *testing.T) {
		mock := mockDatabase(t)
		expectList(mock, 20, 0)

		out, err := executeCommand(t, "", "reports", "list")
		require.NoError(t, err)
		assert.Contains(t, out, id)
		assert.Contains(t, out, "example.com")
		assert.Contains(t, out, "80,443")
		assert.Contains(t, out, "complete")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("json with paging", func(t *testing.T) {
		mock := mockDatabase(t)
		expectList(mock, 5, 10)

		out, err := executeCommand(t, "", "reports", "list", "--limit", "5", "--offset", "10", "-o", "json")
		require.NoError(t, err)

		var reports []probe.Report
		require.NoError(t, json.Unmarshal([]byte(out), &reports))
		require.Len(t, reports, 1)
		assert.Equal(t, id, reports[0].ID)
		assert.Equal(t, []int{80, 443}, reports[0].Open)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty", func(t *testing.T) {
		mock := mockDatabase(t)
		mock.ExpectQuery("SELECT \\* FROM probe_reports").
			WithArgs(20, 0).
			WillReturnRows(sqlmock.NewRows(reportColumns))
		mock.ExpectClose()

		out, err := executeCommand(t, "", "reports", "list")
		require.NoError(t, err)
		assert.Equal(t, "No reports found.\n", out)
	})
}

func TestReportsShow(t *testing.T) {
	mock := mockDatabase(t)
	id := uuid.NewString()
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	mock.ExpectQuery("SELECT \\* FROM probe_reports WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(reportColumns).AddRow(
			id, "example.com", "93.184.216.34", "22,80", "list", 2, 500,
			started, 42, "{80}", 1, 0, 0, 1, false, started,
		))
	mock.ExpectQuery("SELECT report_id, port, status, reason, duration_ms").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"report_id", "port", "status", "reason", "duration_ms"}).
			AddRow(id, 22, "error", "no route to host", 1).
			AddRow(id, 80, "open", nil, 3))
	mock.ExpectClose()

	out, err := executeCommand(t, "", "reports", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Target:   example.com (93.184.216.34)")
	assert.Contains(t, out, "no route to host")
	assert.Contains(t, out, "1 open, 0 closed, 0 timed out, 1 errors")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReportsShow_NotFound(t *testing.T) {
	mockDatabase(t)

	_, err := executeCommand(t, "", "reports", "show", "not-a-uuid")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestReportsDelete(t *testing.T) {
	id := uuid.NewString()

	t.Run("deleted", func(t *testing.T) {
		mock := mockDatabase(t)
		mock.ExpectExec("DELETE FROM probe_reports WHERE id = \\$1").
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectClose()

		out, err := executeCommand(t, "", "reports", "delete", id)
		require.NoError(t, err)
		assert.Equal(t, "Deleted report "+id+"\n", out)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		mock := mockDatabase(t)
		mock.ExpectExec("DELETE FROM probe_reports WHERE id = \\$1").
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectClose()

		_, err := executeCommand(t, "", "reports", "delete", id)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	})
}

func TestDatabaseCommands_RequireDatabase(t *testing.T) {
	t.Setenv("PORTPROBE_DATABASE_DATABASE", "")

	for _, args := range [][]string{
		{"reports", "list"},
		{"reports", "show", uuid.NewString()},
		{"reports", "delete", uuid.NewString()},
		{"migrate"},
		{"migrate", "--status"},
	} {
		_, err := executeCommand(t, "", args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "No database configured", args)
	}
}

func TestProbeCommand_SaveWithoutDatabase(t *testing.T) {
	t.Setenv("PORTPROBE_DATABASE_DATABASE", "")
	port := listen(t)

	out, err := executeCommand(t, "", "probe", "--target", "127.0.0.1", "--ports", strconv.Itoa(port), "--save")
	require.NoError(t, err, "a failed save does not fail the probe")
	assert.Contains(t, out, "1 open, 0 closed, 0 timed out, 0 errors")
}

package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/probe"
)

const defaultListLimit = 50

// ReportRecord is a row of probe_reports.
type ReportRecord struct {
	ID            uuid.UUID     `db:"id"`
	Target        string        `db:"target"`
	Address       string        `db:"address"`
	Ports         string        `db:"ports"`
	Mode          string        `db:"mode"`
	Concurrency   int           `db:"concurrency"`
	TimeoutMS     int64         `db:"timeout_ms"`
	StartedAt     time.Time     `db:"started_at"`
	DurationMS    int64         `db:"duration_ms"`
	OpenPorts     pq.Int64Array `db:"open_ports"`
	OpenCount     int           `db:"open_count"`
	ClosedCount   int           `db:"closed_count"`
	TimedOutCount int           `db:"timed_out_count"`
	ErrorCount    int           `db:"error_count"`
	Cancelled     bool          `db:"cancelled"`
	CreatedAt     time.Time     `db:"created_at"`
}

// OutcomeRecord is a row of probe_outcomes.
type OutcomeRecord struct {
	ReportID   uuid.UUID      `db:"report_id"`
	Port       int            `db:"port"`
	Status     string         `db:"status"`
	Reason     sql.NullString `db:"reason"`
	DurationMS int64          `db:"duration_ms"`
}

func newReportRecord(id uuid.UUID, r *probe.Report) ReportRecord {
	open := make(pq.Int64Array, len(r.Open))
	for i, p := range r.Open {
		open[i] = int64(p)
	}
	return ReportRecord{
		ID:            id,
		Target:        r.Target,
		Address:       r.Address,
		Ports:         r.Ports,
		Mode:          r.Mode,
		Concurrency:   r.Concurrency,
		TimeoutMS:     r.TimeoutMS,
		StartedAt:     r.StartedAt,
		DurationMS:    r.DurationMS,
		OpenPorts:     open,
		OpenCount:     r.Summary.Open,
		ClosedCount:   r.Summary.Closed,
		TimedOutCount: r.Summary.TimedOut,
		ErrorCount:    r.Summary.Errors,
		Cancelled:     r.Cancelled,
	}
}

// toReport converts the record back into a report without outcomes.
func (rec ReportRecord) toReport() *probe.Report {
	open := make([]int, len(rec.OpenPorts))
	for i, p := range rec.OpenPorts {
		open[i] = int(p)
	}
	return &probe.Report{
		ID:          rec.ID.String(),
		Target:      rec.Target,
		Address:     rec.Address,
		Ports:       rec.Ports,
		Mode:        rec.Mode,
		Concurrency: rec.Concurrency,
		Timeout:     time.Duration(rec.TimeoutMS) * time.Millisecond,
		TimeoutMS:   rec.TimeoutMS,
		StartedAt:   rec.StartedAt,
		Duration:    time.Duration(rec.DurationMS) * time.Millisecond,
		DurationMS:  rec.DurationMS,
		Open:        open,
		Summary: probe.Summary{
			Open:     rec.OpenCount,
			Closed:   rec.ClosedCount,
			TimedOut: rec.TimedOutCount,
			Errors:   rec.ErrorCount,
		},
		Cancelled: rec.Cancelled,
	}
}

func (rec OutcomeRecord) toOutcome() (probe.Outcome, error) {
	var status probe.Status
	if err := status.UnmarshalText([]byte(rec.Status)); err != nil {
		return probe.Outcome{}, err
	}
	o := probe.Outcome{
		Port:     rec.Port,
		Status:   status,
		Duration: time.Duration(rec.DurationMS) * time.Millisecond,
	}
	if rec.Reason.Valid && rec.Reason.String != "" {
		o.Err = storedReason(rec.Reason.String)
	}
	return o, nil
}

// storedReason is an outcome error read back from the database.
type storedReason string

func (s storedReason) Error() string { return string(s) }

// ReportRepository persists probe reports.
type ReportRepository struct {
	db *DB
}

// NewReportRepository creates a new report repository.
func NewReportRepository(db *DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Save stores the report and its outcomes in one transaction. A report
// without an ID gets a fresh one.
func (r *ReportRepository) Save(ctx context.Context, report *probe.Report) error {
	id, err := uuid.Parse(report.ID)
	if err != nil {
		id = uuid.New()
		report.ID = id.String()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin save report", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertReport := `
		INSERT INTO probe_reports (id, target, address, ports, mode, concurrency, timeout_ms,
			started_at, duration_ms, open_ports, open_count, closed_count, timed_out_count,
			error_count, cancelled)
		VALUES (:id, :target, :address, :ports, :mode, :concurrency, :timeout_ms,
			:started_at, :duration_ms, :open_ports, :open_count, :closed_count, :timed_out_count,
			:error_count, :cancelled)`

	if _, err := tx.NamedExecContext(ctx, insertReport, newReportRecord(id, report)); err != nil {
		return sanitizeDBError("save report", err)
	}

	if len(report.Outcomes) > 0 {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO probe_outcomes (report_id, port, status, reason, duration_ms)
			VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return sanitizeDBError("prepare save outcomes", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, o := range report.Outcomes {
			reason := sql.NullString{String: o.Reason(), Valid: o.Err != nil}
			if _, err := stmt.ExecContext(ctx, id, o.Port, o.Status.String(), reason, o.Duration.Milliseconds()); err != nil {
				return sanitizeDBError("save outcome", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return sanitizeDBError("commit save report", err)
	}
	return nil
}

// Get loads a report with all of its outcomes.
func (r *ReportRepository) Get(ctx context.Context, id string) (*probe.Report, error) {
	reportID, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.ErrNotFound("get report")
	}

	var rec ReportRecord
	if err := r.db.GetContext(ctx, &rec, `SELECT * FROM probe_reports WHERE id = $1`, reportID); err != nil {
		return nil, sanitizeDBError("get report", err)
	}

	var outcomeRecs []OutcomeRecord
	if err := r.db.SelectContext(ctx, &outcomeRecs, `
		SELECT report_id, port, status, reason, duration_ms
		FROM probe_outcomes
		WHERE report_id = $1
		ORDER BY port`, reportID); err != nil {
		return nil, sanitizeDBError("get report outcomes", err)
	}

	report := rec.toReport()
	report.Outcomes = make([]probe.Outcome, 0, len(outcomeRecs))
	for _, orec := range outcomeRecs {
		o, err := orec.toOutcome()
		if err != nil {
			return nil, sanitizeDBError("decode outcome", err)
		}
		report.Outcomes = append(report.Outcomes, o)
	}
	return report, nil
}

// List returns report summaries, newest first. Outcomes are not loaded.
func (r *ReportRepository) List(ctx context.Context, limit, offset int) ([]*probe.Report, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var recs []ReportRecord
	if err := r.db.SelectContext(ctx, &recs, `
		SELECT * FROM probe_reports
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return nil, sanitizeDBError("list reports", err)
	}

	reports := make([]*probe.Report, 0, len(recs))
	for _, rec := range recs {
		reports = append(reports, rec.toReport())
	}
	return reports, nil
}

// Delete removes a report and, through the foreign key, its outcomes.
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	reportID, err := uuid.Parse(id)
	if err != nil {
		return errors.ErrNotFound("delete report")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM probe_reports WHERE id = $1`, reportID)
	if err != nil {
		return sanitizeDBError("delete report", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("delete report", err)
	}
	if rows == 0 {
		return errors.ErrNotFound("delete report")
	}
	return nil
}

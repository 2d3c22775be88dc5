package transcript

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/networkteam/go-sqllogger"
	"github.com/samber/lo"
)

// NewSQLLogger returns a sqllogger.SQLLogger recording executed statements and queries.
// Connection, prepare and row lifecycle callbacks are ignored.
func NewSQLLogger(recorder Recorder) sqllogger.SQLLogger {
	return &sqlLogger{recorder: recorder}
}

type sqlLogger struct {
	recorder Recorder
}

func (l *sqlLogger) record(ctx context.Context, kind string, query string, args []driver.NamedValue) {
	start, duration := timingFromContext(ctx)

	var sb strings.Builder
	sb.WriteString(strings.Join(strings.Fields(query), " "))
	if len(args) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(lo.Map(args, func(arg driver.NamedValue, _ int) string {
			if arg.Name != "" {
				return fmt.Sprintf("%s=%v", arg.Name, arg.Value)
			}
			return fmt.Sprintf("$%d=%v", arg.Ordinal, arg.Value)
		}), ", "))
		sb.WriteString("]")
	}
	if duration > 0 {
		fmt.Fprintf(&sb, " (%s)", duration.Round(time.Microsecond))
	}

	l.recorder.Record(Entry{
		Time:   start,
		Source: SourceSQL,
		Level:  kind,
		Text:   sb.String(),
	})
}

// ConnBegin implements sqllogger.SQLLogger.
func (l *sqlLogger) ConnBegin(ctx context.Context, connID int64, txID int64, opts driver.TxOptions) {
	l.recorder.Record(Entry{Time: time.Now(), Source: SourceSQL, Level: "tx", Text: fmt.Sprintf("begin #%d", txID)})
}

// ConnClose implements sqllogger.SQLLogger.
func (l *sqlLogger) ConnClose(ctx context.Context, connID int64) {
}

// ConnExec implements sqllogger.SQLLogger.
func (l *sqlLogger) ConnExec(ctx context.Context, connID int64, query string, args []driver.Value) {
	l.record(ctx, "exec", query, toNamedValues(args))
}

// ConnExecContext implements sqllogger.SQLLogger.
func (l *sqlLogger) ConnExecContext(ctx context.Context, connID int64, query string, args []driver.NamedValue) {
	l.record(ctx, "exec", query, args)
}

// ConnPrepare implements sqllogger.SQLLogger.
func (l *sqlLogger) ConnPrepare(ctx context.Context, connID int64, stmtID int64, query string) {
}

// ConnPrepareContext implements sqllogger.SQLLogger.
func (l *sqlLogger) ConnPrepareContext(ctx context.Context, connID int64, stmtID int64, query string) {
}

// ConnQuery implements sqllogger.SQLLogger.
func (l *sqlLogger) ConnQuery(ctx context.Context, connID int64, rowsID int64, query string, args []driver.Value) {
	l.record(ctx, "query", query, toNamedValues(args))
}

// ConnQueryContext implements sqllogger.SQLLogger.
func (l *sqlLogger) ConnQueryContext(ctx context.Context, connID int64, rowsID int64, query string, args []driver.NamedValue) {
	l.record(ctx, "query", query, args)
}

// Connect implements sqllogger.SQLLogger.
func (l *sqlLogger) Connect(ctx context.Context, connID int64) {
}

// RowsClose implements sqllogger.SQLLogger.
func (l *sqlLogger) RowsClose(ctx context.Context, rowsID int64) {
}

// StmtClose implements sqllogger.SQLLogger.
func (l *sqlLogger) StmtClose(ctx context.Context, stmtID int64) {
}

// StmtExec implements sqllogger.SQLLogger.
func (l *sqlLogger) StmtExec(ctx context.Context, stmtID int64, query string, args []driver.Value) {
	l.record(ctx, "exec", query, toNamedValues(args))
}

// StmtExecContext implements sqllogger.SQLLogger.
func (l *sqlLogger) StmtExecContext(ctx context.Context, stmtID int64, query string, args []driver.NamedValue) {
	l.record(ctx, "exec", query, args)
}

// StmtQuery implements sqllogger.SQLLogger.
func (l *sqlLogger) StmtQuery(ctx context.Context, stmtID int64, rowsID int64, query string, args []driver.Value) {
	l.record(ctx, "query", query, toNamedValues(args))
}

// StmtQueryContext implements sqllogger.SQLLogger.
func (l *sqlLogger) StmtQueryContext(ctx context.Context, stmtID int64, rowsID int64, query string, args []driver.NamedValue) {
	l.record(ctx, "query", query, args)
}

// TxCommit implements sqllogger.SQLLogger.
func (l *sqlLogger) TxCommit(ctx context.Context, txID int64) {
	l.recorder.Record(Entry{Time: time.Now(), Source: SourceSQL, Level: "tx", Text: fmt.Sprintf("commit #%d", txID)})
}

// TxRollback implements sqllogger.SQLLogger.
func (l *sqlLogger) TxRollback(ctx context.Context, txID int64) {
	l.recorder.Record(Entry{Time: time.Now(), Source: SourceSQL, Level: "tx", Text: fmt.Sprintf("rollback #%d", txID)})
}

var _ sqllogger.SQLLogger = &sqlLogger{}

func toNamedValues(args []driver.Value) []driver.NamedValue {
	return lo.Map(args, func(arg driver.Value, i int) driver.NamedValue {
		return driver.NamedValue{Ordinal: i + 1, Value: arg}
	})
}

func timingFromContext(ctx context.Context) (time.Time, time.Duration) {
	timing, ok := sqllogger.GetTiming(ctx)
	if !ok {
		return time.Now(), 0
	}

	return timing.Start, timing.End.Sub(timing.Start)
}

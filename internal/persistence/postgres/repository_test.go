package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"example.com/daystats/internal/domain"
)

// recordingTx captures the statements a ledgerTx issues. Methods not
// overridden panic through the nil embedded interface.
type recordingTx struct {
	pgx.Tx
	sql  []string
	args [][]any
	row  pgx.Row
	tag  pgconn.CommandTag
	err  error
}

func (r *recordingTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, args)
	return r.row
}

func (r *recordingTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	r.args = append(r.args, args)
	return r.tag, r.err
}

type valuesRow struct {
	values []any
	err    error
}

func (v valuesRow) Scan(dest ...any) error {
	if v.err != nil {
		return v.err
	}
	if len(dest) != len(v.values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(v.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *time.Time:
			*p = v.values[i].(time.Time)
		case *int64:
			*p = v.values[i].(int64)
		case *float64:
			*p = v.values[i].(float64)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

var paramRef = regexp.MustCompile(`\$\d+(::[a-z]+(?: precision)?)?`)

// untypedArithmeticParams lists parameters used as operands without a cast.
// Postgres cannot infer their type when the statement is prepared.
func untypedArithmeticParams(sql string) []string {
	isOp := func(b byte) bool { return strings.IndexByte("*/+-", b) >= 0 }
	var out []string
	for _, loc := range paramRef.FindAllStringSubmatchIndex(sql, -1) {
		if loc[2] >= 0 {
			continue
		}
		before := strings.TrimRight(sql[:loc[0]], " \t\n")
		after := strings.TrimLeft(sql[loc[1]:], " \t\n")
		if (before != "" && isOp(before[len(before)-1])) || (after != "" && isOp(after[0])) {
			out = append(out, sql[loc[0]:loc[1]])
		}
	}
	return out
}

func TestUntypedArithmeticParamsDetectsBareOperands(t *testing.T) {
	require.Equal(t, []string{"$2", "$2"}, untypedArithmeticParams(`VALUES ($1, $2 * $2)`))
	require.Empty(t, untypedArithmeticParams(`VALUES ($1::date, $2::double precision * $2::double precision)`))
	require.Empty(t, untypedArithmeticParams(`WHERE user_id=$1 AND day BETWEEN $2 AND $3`))
}

func TestContributeStatementCastsParameters(t *testing.T) {
	require.Empty(t, untypedArithmeticParams(contributeStmt))
	for _, ref := range paramRef.FindAllStringSubmatch(contributeStmt, -1) {
		require.NotEmpty(t, ref[1], "parameter %s must carry a cast", ref[0])
	}
}

func TestContributePassesValueAndSquare(t *testing.T) {
	day := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	fake := &recordingTx{row: valuesRow{values: []any{day, int64(2), 3000.0, 5_000_000.0, 1500.0, 500_000.0, now}}}
	tx := &ledgerTx{tx: fake, topic: DefaultEventsTopic}

	stat, err := tx.Contribute(context.Background(), day.Add(13*time.Hour), 2000)
	require.NoError(t, err)

	require.Equal(t, []string{contributeStmt}, fake.sql)
	require.Equal(t, []any{day, 2000.0, 4_000_000.0}, fake.args[0])
	require.EqualValues(t, 2, stat.Count)
	require.InDelta(t, 1500, stat.Mean, 1e-9)
	require.InDelta(t, 500, stat.SEM(), 1e-9)
}

func TestContributeClassifiesErrors(t *testing.T) {
	day := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	transient := &ledgerTx{tx: &recordingTx{row: valuesRow{err: &pgconn.PgError{Code: "40001"}}}}
	_, err := transient.Contribute(context.Background(), day, 1)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	permanent := &ledgerTx{tx: &recordingTx{row: valuesRow{err: &pgconn.PgError{Code: "42725"}}}}
	_, err = permanent.Contribute(context.Background(), day, 1)
	require.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	require.Equal(t, "42725", pgErr.Code)

	_, err = (&ledgerTx{tx: &recordingTx{row: valuesRow{err: context.Canceled}}}).Contribute(context.Background(), day, 1)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestInsertStepRecordReportsCreation(t *testing.T) {
	rec := domain.StepRecord{UserID: "A", Day: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), Steps: 1000}

	created, err := (&ledgerTx{tx: &recordingTx{tag: pgconn.NewCommandTag("INSERT 0 1")}}).InsertStepRecord(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, created)

	created, err = (&ledgerTx{tx: &recordingTx{tag: pgconn.NewCommandTag("INSERT 0 0")}}).InsertStepRecord(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, created)
}

func TestLedgerStatementsHaveNoUntypedArithmetic(t *testing.T) {
	fake := &recordingTx{tag: pgconn.NewCommandTag("INSERT 0 1"), row: valuesRow{values: []any{time.Time{}, int64(1), 1.0, 1.0, 1.0, 0.0, time.Time{}}}}
	tx := &ledgerTx{tx: fake, topic: DefaultEventsTopic}
	ctx := context.Background()
	day := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	_, err := tx.InsertStepRecord(ctx, domain.StepRecord{UserID: "A", Day: day, Steps: 1})
	require.NoError(t, err)
	require.NoError(t, tx.ReplaceActivityRecord(ctx, domain.ActivityRecord{UserID: "A", Day: day}))
	_, err = tx.Contribute(ctx, day, 1)
	require.NoError(t, err)

	require.Len(t, fake.sql, 3)
	for _, sql := range fake.sql {
		require.Empty(t, untypedArithmeticParams(sql), sql)
	}
}

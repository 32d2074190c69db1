package stats

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/areadetail"
)

const schema = `CREATE TABLE IF NOT EXISTS area_stats (
	area_code         VARCHAR NOT NULL,
	area_type         VARCHAR NOT NULL,
	area_name         VARCHAR,
	date              DATE NOT NULL,
	metric            VARCHAR NOT NULL DEFAULT 'newCasesBySpecimenDate',
	rolling_sum       DOUBLE,
	rolling_rate      DOUBLE,
	change            DOUBLE,
	change_percentage DOUBLE,
	direction         VARCHAR
)`

const selectColumns = `area_name, CAST(date AS VARCHAR), rolling_sum, rolling_rate, change, change_percentage, direction`

// Record is one row of the area_stats table.
type Record struct {
	AreaCode         string
	AreaType         string
	AreaName         string
	Date             string
	Metric           string
	RollingSum       *float64
	RollingRate      *float64
	Change           *float64
	ChangePercentage *float64
	Direction        string
}

// Store answers statistics queries from the area_stats DuckDB table.
type Store struct {
	db     *sql.DB
	metric string
}

var _ areadetail.Source = (*Store)(nil)

// NewStore creates the area_stats table if missing.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, eris.Wrap(err, "stats: create area_stats")
	}
	return &Store{db: db, metric: areadetail.DefaultMetric}, nil
}

// Load appends a CSV or Parquet file to area_stats, matching columns by name.
func (s *Store) Load(ctx context.Context, path string) (int64, error) {
	reader := "read_csv_auto"
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		reader = "read_parquet"
	}
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"

	res, err := s.db.ExecContext(ctx, "INSERT INTO area_stats BY NAME SELECT * FROM "+reader+"("+quoted+")")
	if err != nil {
		return 0, eris.Wrapf(err, "stats: load %s", path)
	}
	n, _ := res.RowsAffected()
	zap.L().Info("stats: loaded area statistics", zap.String("path", path), zap.Int64("rows", n))
	return n, nil
}

// Insert adds one record.
func (s *Store) Insert(ctx context.Context, r Record) error {
	metric := r.Metric
	if metric == "" {
		metric = s.metric
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO area_stats
		(area_code, area_type, area_name, date, metric, rolling_sum, rolling_rate, change, change_percentage, direction)
		VALUES (?, ?, ?, CAST(? AS DATE), ?, ?, ?, ?, ?, ?)`,
		r.AreaCode, r.AreaType, nullString(r.AreaName), r.Date, metric,
		r.RollingSum, r.RollingRate, r.Change, r.ChangePercentage, nullString(r.Direction),
	)
	return eris.Wrap(err, "stats: insert")
}

// AreaOnDate returns the rows for code, type and date.
func (s *Store) AreaOnDate(ctx context.Context, areaCode, areaType, date string) ([]areadetail.Row, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM area_stats
		WHERE area_code = ? AND area_type = ? AND date = CAST(? AS DATE) AND metric = ?`,
		areaCode, areaType, date, s.metric)
	if err != nil {
		return nil, eris.Wrap(err, "stats: query area on date")
	}
	defer rows.Close() //nolint:errcheck

	var out []areadetail.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "stats: iterate area on date")
}

// RollingAggregate returns the row for date, or the latest row when date
// is empty. No row yields nil.
func (s *Store) RollingAggregate(ctx context.Context, areaType, areaCode, metric, date string) (*areadetail.Row, error) {
	query := `SELECT ` + selectColumns + ` FROM area_stats WHERE area_code = ? AND area_type = ? AND metric = ?`
	args := []any{areaCode, areaType, metric}
	if date != "" {
		query += ` AND date = CAST(? AS DATE)`
		args = append(args, date)
	}
	query += ` ORDER BY date DESC LIMIT 1`

	r, err := scanRow(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// AreaName returns the stored name, or "" when unknown.
func (s *Store) AreaName(ctx context.Context, areaType, areaCode string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT area_name FROM area_stats
		WHERE area_type = ? AND area_code = ? AND area_name IS NOT NULL LIMIT 1`,
		areaType, areaCode).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, eris.Wrap(err, "stats: query area name")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(sc scanner) (areadetail.Row, error) {
	var (
		name, direction                  sql.NullString
		date                             string
		sum, rate, change, changePercent sql.NullFloat64
	)
	if err := sc.Scan(&name, &date, &sum, &rate, &change, &changePercent, &direction); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return areadetail.Row{}, err
		}
		return areadetail.Row{}, eris.Wrap(err, "stats: scan row")
	}
	return areadetail.Row{
		AreaName:         name.String,
		Date:             date,
		RollingSum:       floatPtr(sum),
		RollingRate:      floatPtr(rate),
		Change:           floatPtr(change),
		ChangePercentage: floatPtr(changePercent),
		Direction:        direction.String,
	}, nil
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

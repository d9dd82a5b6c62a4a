package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/tidemark-trading/tidemark/internal/logger"
	"github.com/tidemark-trading/tidemark/internal/types"
	"github.com/tidemark-trading/tidemark/pkg/errors"
)

// barsTable is the DuckDB relation the source reads from.
const barsTable = "bars"

// DuckDBSource reads OHLCV bars from a DuckDB database. The database file may
// be created from parquet via Initialize.
type DuckDBSource struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// NewDuckDBSource opens a DuckDB database at the given path. Use ":memory:"
// for an in-memory database.
func NewDuckDBSource(path string, log *logger.Logger) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMarketDataUnavailable, "failed to open duckdb", err)
	}

	return &DuckDBSource{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Initialize creates the bars view from a parquet file. Squirrel does not
// support CREATE VIEW, so this one statement is raw SQL.
func (s *DuckDBSource) Initialize(parquetPath string) error {
	s.log.Debug("initializing duckdb market data source", zap.String("path", parquetPath))

	if _, err := s.db.Exec(fmt.Sprintf(`DROP VIEW IF EXISTS %s;`, barsTable)); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to drop existing view", err)
	}

	if _, err := s.db.Exec(parquetViewSQL(parquetPath)); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create bars view", err)
	}

	return nil
}

// parquetViewSQL formats the view statement. The path sits inside a SQL
// string literal, so single quotes must be doubled.
func parquetViewSQL(parquetPath string) string {
	escaped := strings.ReplaceAll(parquetPath, "'", "''")

	return fmt.Sprintf(`CREATE VIEW %s AS SELECT * FROM read_parquet('%s');`, barsTable, escaped)
}

// LatestPrices returns the most recent close per requested symbol.
func (s *DuckDBSource) LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	prices := make(map[string]float64)

	for _, symbol := range symbols {
		query := s.sq.
			Select("close").
			From(barsTable).
			Where(squirrel.Eq{"symbol": symbol}).
			OrderBy("time DESC").
			Limit(1)

		sqlStr, args, err := query.ToSql()
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build latest price query", err)
		}

		var price float64

		err = s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&price)
		if err == sql.ErrNoRows {
			continue
		}

		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to read latest price for %q", symbol)
		}

		prices[symbol] = price
	}

	if len(prices) == 0 {
		return nil, errors.New(errors.ErrCodeMarketDataUnavailable, "no prices available for requested symbols")
	}

	return prices, nil
}

// History returns up to the given number of most recent bars for a symbol,
// oldest first.
func (s *DuckDBSource) History(ctx context.Context, symbol string, bars int) ([]types.Bar, error) {
	query := s.sq.
		Select("time", "symbol", "open", "high", "low", "close", "volume").
		From(barsTable).
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("time DESC").
		Limit(uint64(bars))

	out, err := s.queryBars(ctx, query)
	if err != nil {
		return nil, err
	}

	// The query reads newest first; flip back to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

// HistoricalBars returns the bars of a symbol between start and end
// inclusive, oldest first.
func (s *DuckDBSource) HistoricalBars(ctx context.Context, symbol string, start, end time.Time) ([]types.Bar, error) {
	query := s.sq.
		Select("time", "symbol", "open", "high", "low", "close", "volume").
		From(barsTable).
		Where(squirrel.Eq{"symbol": symbol}).
		Where(squirrel.GtOrEq{"time": start}).
		Where(squirrel.LtOrEq{"time": end}).
		OrderBy("time ASC")

	return s.queryBars(ctx, query)
}

func (s *DuckDBSource) queryBars(ctx context.Context, query squirrel.SelectBuilder) ([]types.Bar, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build bars query", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err)
	}
	defer rows.Close()

	var out []types.Bar

	for rows.Next() {
		var bar types.Bar
		if err := rows.Scan(&bar.Time, &bar.Symbol, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeMarketDataParseFailed, "failed to scan bar", err)
		}

		out = append(out, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate bars", err)
	}

	return out, nil
}

// Close releases the database handle.
func (s *DuckDBSource) Close() error {
	return s.db.Close()
}

package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"field-weather-pipeline/pkg/logging"
	"field-weather-pipeline/pkg/metrics"
)

// Registered driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// NullValue is the record text written for SQL NULL.
const NullValue = "NaN"

var (
	// ErrUnsupportedDriver is returned for connection strings whose scheme has no driver.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	// ErrMalformedConnectionString is returned when a supported scheme cannot be parsed.
	ErrMalformedConnectionString = errors.New("malformed connection string")
)

// Config holds a resolved database connection
type Config struct {
	Driver         string
	DSN            string
	Path           string // SQLite file, empty for server databases
	ConnectTimeout time.Duration
}

// ParseConnectionString resolves a URL-style connection string
// (sqlite:///file.db, postgres://..., mysql://...) into a driver and DSN.
// SQLite databases are opened read-only.
func ParseConnectionString(conn string) (*Config, error) {
	scheme, rest, ok := strings.Cut(conn, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrMalformedConnectionString, conn)
	}

	// Dialect suffixes such as postgresql+psycopg2 name the same database.
	scheme, _, _ = strings.Cut(strings.ToLower(scheme), "+")

	cfg := &Config{ConnectTimeout: 5 * time.Second}
	switch scheme {
	case "sqlite":
		// sqlite:///relative.db and sqlite:////absolute/path.db
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite connection string has no file path", ErrMalformedConnectionString)
		}
		path, _, _ = strings.Cut(path, "?")
		cfg.Driver = DriverSQLite
		cfg.Path = path
		cfg.DSN = "file:" + path + "?mode=ro"
	case "postgres", "postgresql":
		cfg.Driver = DriverPostgres
		cfg.DSN = "postgres://" + rest
	case "mysql":
		dsn, err := mysqlDSN(conn)
		if err != nil {
			return nil, err
		}
		cfg.Driver = DriverMySQL
		cfg.DSN = dsn
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, scheme)
	}
	return cfg, nil
}

func mysqlDSN(conn string) (string, error) {
	u, err := url.Parse(conn)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedConnectionString, err)
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = u.Host
	if u.Port() == "" {
		mc.Addr = u.Host + ":3306"
	}
	mc.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		mc.User = u.User.Username()
		mc.Passwd, _ = u.User.Password()
	}
	mc.ParseTime = true
	return mc.FormatDSN(), nil
}

// DB wraps sqlx.DB with query timing and logging
type DB struct {
	db      *sqlx.DB
	logger  logging.EventSink
	metrics *metrics.Collector
	config  *Config
}

// Open opens and pings a database. SQLite files must already exist.
func Open(ctx context.Context, cfg *Config, logger logging.EventSink, metricsCollector *metrics.Collector) (*DB, error) {
	if cfg.Driver == DriverSQLite {
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, fmt.Errorf("failed to stat sqlite database: %w", err)
		}
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Connections live for a single call.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Debug(ctx, "[DB_OPEN] Database connection established", logging.Fields{
		"driver": cfg.Driver,
		"path":   cfg.Path,
	})

	return &DB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
	}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	d.logger.Debug(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
		"driver": d.config.Driver,
	})
	return d.db.Close()
}

// HealthCheck performs a database health check
func (d *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// ResultSet is a fully materialized query result. Every cell is rendered as
// text; SQL NULL becomes NullValue. A text cell that already holds "NaN" (or
// "NA", which the CSV reader also treats as missing) cannot be told apart from
// NULL once the records are parsed into a table.
type ResultSet struct {
	Columns       []string
	DatabaseTypes []string
	Records       [][]string
}

// QueryRecords executes a query and reads every row before returning.
func (d *DB) QueryRecords(ctx context.Context, queryType, query string, args ...interface{}) (*ResultSet, error) {
	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		d.metrics.DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())

		d.logger.Debug(ctx, "[DB_QUERY] Query executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	rows, err := d.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &ResultSet{Columns: columns, DatabaseTypes: make([]string, len(columns))}
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			result.DatabaseTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}

	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(result.Records), err)
		}
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = formatValue(v)
		}
		result.Records = append(result.Records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	d.metrics.DBRowsReturned.Observe(float64(len(result.Records)))
	return result, nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return NullValue
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

const columnsQuery = `
	SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE
	FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	ORDER BY ORDINAL_POSITION
`

// Queryer is the subset of *sql.DB the loader needs
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PingContext(ctx context.Context) error
}

// Loader resolves a table's RowType from MySQL INFORMATION_SCHEMA
type Loader struct {
	db     Queryer
	closer func() error
	logger *logrus.Logger

	mu    sync.Mutex
	cache map[string]RowType // by "database.table"
}

// MySQLConfig holds the connection settings for schema discovery
type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// DSN formats the connection string for go-sql-driver/mysql
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Timeout = c.Timeout
	return cfg.FormatDSN()
}

// NewLoader opens a MySQL connection for schema discovery
func NewLoader(cfg MySQLConfig, logger *logrus.Logger) (*Loader, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := NewLoaderWithDB(db, logger)
	l.closer = db.Close
	return l, nil
}

// NewLoaderWithDB builds a Loader on top of an existing connection
func NewLoaderWithDB(db Queryer, logger *logrus.Logger) *Loader {
	return &Loader{
		db:     db,
		logger: logger,
		cache:  make(map[string]RowType),
	}
}

// Check verifies the server is reachable
func (l *Loader) Check(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	l.logger.Info("Successfully connected to MySQL server for schema discovery")
	return nil
}

// Load returns the column layout of database.table
func (l *Loader) Load(ctx context.Context, database, table string) (RowType, error) {
	cacheKey := fmt.Sprintf("%s.%s", database, table)

	l.mu.Lock()
	defer l.mu.Unlock()

	if rt, ok := l.cache[cacheKey]; ok {
		return rt, nil
	}

	rows, err := l.db.QueryContext(ctx, columnsQuery, database, table)
	if err != nil {
		return RowType{}, fmt.Errorf("failed to query column info: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var name, dataType, columnType string
		if err := rows.Scan(&name, &dataType, &columnType); err != nil {
			return RowType{}, fmt.Errorf("failed to scan column info: %w", err)
		}
		// COLUMN_TYPE keeps the display width needed to spot tinyint(1)
		typ := columnType
		if typ == "" {
			typ = dataType
		}
		columns = append(columns, Column{Name: name, Type: FromMySQLType(typ)})
	}
	if err := rows.Err(); err != nil {
		return RowType{}, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(columns) == 0 {
		return RowType{}, fmt.Errorf("table %s not found or has no columns", cacheKey)
	}

	rt, err := NewRowType(columns...)
	if err != nil {
		return RowType{}, err
	}
	l.cache[cacheKey] = rt
	l.logger.Debugf("Fetched %d columns for %s: %s", rt.Arity(), cacheKey, rt)

	return rt, nil
}

// Close closes the connection if the loader opened it
func (l *Loader) Close() error {
	if l.closer != nil {
		return l.closer()
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/juju/errors"
	"github.com/lib/pq"

	"github.com/warriorguo/flowgraph/store"
	"github.com/warriorguo/flowgraph/types"
)

var (
	_ store.Store = &pgStore{}
)

const (
	connectTimeout = 10 * time.Second
)

// Config holds PostgreSQL connection configuration
type Config = types.PostgresConfig

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "flowgraph",
		SSLMode:  "disable",
	}
}

const (
	DefaultTable = "flowgraph_store"
)

type pgStore struct {
	db    *sql.DB
	table string

	getQuery    string
	setQuery    string
	removeQuery string
	listQuery   string
}

type Option func(*pgStore)

// WithTable stores the entries in table instead of DefaultTable.
func WithTable(table string) Option {
	return func(p *pgStore) {
		p.table = table
	}
}

// NewPostgresStore connects with config, DefaultConfig when nil.
func NewPostgresStore(config *Config, opts ...Option) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := Validate(config); err != nil {
		return nil, errors.Trace(err)
	}
	return NewPostgresStoreFromDSN(DSN(config), opts...)
}

// NewPostgresStoreFromDSN opens a store from a key=value DSN or a postgres:// URL.
func NewPostgresStoreFromDSN(dsn string, opts ...Option) (store.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open postgres connection")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to ping postgres")
	}

	s, err := NewPostgresStoreWithDB(db, opts...)
	if err != nil {
		db.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

// NewPostgresStoreWithDB creates the table if needed on an open connection.
func NewPostgresStoreWithDB(db *sql.DB, opts ...Option) (store.Store, error) {
	if db == nil {
		return nil, errors.NotValidf("nil db")
	}

	p := &pgStore{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(p)
	}
	if p.table == "" {
		return nil, errors.NotValidf("empty table name")
	}

	table := pq.QuoteIdentifier(p.table)
	p.getQuery = fmt.Sprintf(`SELECT value FROM %s WHERE prefix = $1 AND key = $2`, table)
	p.setQuery = fmt.Sprintf(`INSERT INTO %s (prefix, key, value, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (prefix, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = CURRENT_TIMESTAMP`, table)
	p.removeQuery = fmt.Sprintf(`DELETE FROM %s WHERE prefix = $1 AND key = $2`, table)
	p.listQuery = fmt.Sprintf(`SELECT key FROM %s WHERE prefix = $1 ORDER BY key`, table)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := p.initTable(ctx); err != nil {
		return nil, errors.Annotatef(err, "failed to initialize table %s", p.table)
	}
	return p, nil
}

// initTable creates the table, the primary key serves prefix scans.
func (p *pgStore) initTable(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			prefix TEXT NOT NULL,
			key TEXT NOT NULL,
			value BYTEA,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (prefix, key)
		)`, pq.QuoteIdentifier(p.table)))
	return errors.Trace(err)
}

func (p *pgStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, p.getQuery, prefix, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "get %s%s", prefix, key)
	}
	return value, nil
}

func (p *pgStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, p.setQuery, prefix, key, value)
	return errors.Annotatef(err, "set %s%s", prefix, key)
}

func (p *pgStore) Remove(ctx context.Context, prefix, key string) error {
	_, err := p.db.ExecContext(ctx, p.removeQuery, prefix, key)
	return errors.Annotatef(err, "remove %s%s", prefix, key)
}

// List reads every key first so the iterator may use the store.
func (p *pgStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	keys, err := p.keys(ctx, prefix)
	if err != nil {
		return errors.Trace(err)
	}
	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}

func (p *pgStore) keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, p.listQuery, prefix)
	if err != nil {
		return nil, errors.Annotatef(err, "list %s", prefix)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Annotatef(err, "scan key of %s", prefix)
		}
		keys = append(keys, key)
	}
	return keys, errors.Annotatef(rows.Err(), "list %s", prefix)
}

func (p *pgStore) Close() error {
	return errors.Trace(p.db.Close())
}

// DSN builds a PostgreSQL connection string from Config
func DSN(c *Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate validates the configuration, an empty sslmode becomes disable.
func Validate(c *Config) error {
	if c.Host == "" {
		return errors.NotValidf("empty host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NotValidf("port %d", c.Port)
	}
	if c.User == "" {
		return errors.NotValidf("empty user")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if !validSSLModes[c.SSLMode] {
		return errors.NotValidf("sslmode %s", c.SSLMode)
	}
	return nil
}

// ParseDSN parses a PostgreSQL connection string into a Config
// Format: "host=localhost port=5432 user=postgres password=secret dbname=flowgraph sslmode=disable"
// Values may be single quoted with \' and \\ escapes, the form pq.ParseURL produces.
func ParseDSN(dsn string) (*Config, error) {
	config := DefaultConfig()

	pairs, err := splitDSN(dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for key, value := range pairs {
		switch key {
		case "host":
			config.Host = value
		case "port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.NotValidf("port %q", value)
			}
			config.Port = port
		case "user":
			config.User = value
		case "password":
			config.Password = value
		case "dbname":
			config.Database = value
		case "sslmode":
			config.SSLMode = value
		}
	}

	return config, Validate(config)
}

// splitDSN tokenizes key=value pairs separated by whitespace.
func splitDSN(dsn string) (map[string]string, error) {
	pairs := make(map[string]string)
	r := []rune(dsn)

	for i := 0; i < len(r); {
		for i < len(r) && unicode.IsSpace(r[i]) {
			i++
		}
		if i >= len(r) {
			break
		}

		start := i
		for i < len(r) && r[i] != '=' && !unicode.IsSpace(r[i]) {
			i++
		}
		key := string(r[start:i])
		if i >= len(r) || r[i] != '=' {
			// bare word without a value
			continue
		}
		i++

		var value strings.Builder
		if i < len(r) && r[i] == '\'' {
			i++
			closed := false
			for i < len(r) {
				c := r[i]
				i++
				if c == '\\' && i < len(r) {
					value.WriteRune(r[i])
					i++
					continue
				}
				if c == '\'' {
					closed = true
					break
				}
				value.WriteRune(c)
			}
			if !closed {
				return nil, errors.NotValidf("unterminated quoted value of %s", key)
			}
		} else {
			for i < len(r) && !unicode.IsSpace(r[i]) {
				if r[i] == '\\' && i+1 < len(r) {
					i++
				}
				value.WriteRune(r[i])
				i++
			}
		}
		pairs[key] = value.String()
	}
	return pairs, nil
}

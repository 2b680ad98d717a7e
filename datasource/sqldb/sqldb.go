// Package sqldb keeps a process wide registry of named SQL connections so
// batch sources and stores can refer to databases by name. MySQL, PostgreSQL,
// and SQLite are supported.
package sqldb

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/featstore/featstore-go/errors"
)

const (
	Driver_MySQL    = "mysql"
	Driver_Postgres = "postgres"
	Driver_SQLite   = "sqlite3"
)

type Config struct {
	Driver string

	// DSN is passed to the driver as is. MySQL connections used for
	// timestamp columns need parseTime=true in the DSN.
	DSN string

	// StatementTimeoutMS installs a session statement_timeout on every new
	// PostgreSQL connection. Zero leaves the server default in place.
	StatementTimeoutMS int

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type SQLDB struct {
	Name         string
	Driver       string
	DSN          string
	DB           *sql.DB
	RegisterTime time.Time

	owned bool
}

var sqldbInstances sync.Map

func Get(name string) (*SQLDB, error) {
	value, ok := sqldbInstances.Load(name)
	if !ok {
		return nil, errors.NewNotFound("sql connection", name)
	}
	instance, ok := value.(*SQLDB)
	if !ok {
		return nil, errors.NewNotFound("sql connection", name)
	}
	return instance, nil
}

// Register opens the database, applies pool and session settings, and stores
// it under name. Registering the same name and DSN again is a no-op;
// registering a different DSN replaces and closes the old connection.
func Register(name string, cfg Config) error {
	if value, ok := sqldbInstances.Load(name); ok {
		if existing, ok2 := value.(*SQLDB); ok2 {
			if existing.Driver == cfg.Driver && existing.DSN == cfg.DSN {
				return nil
			}
		}
	}
	m := &SQLDB{
		Name:         name,
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		RegisterTime: time.Now(),
		owned:        true,
	}
	if err := m.init(cfg); err != nil {
		return errors.Wrapf(err, "register sql connection %q", name)
	}
	if old, loaded := sqldbInstances.Swap(name, m); loaded {
		if existing, ok := old.(*SQLDB); ok && existing.owned && existing.DB != nil {
			existing.DB.Close()
		}
	}
	return nil
}

// RegisterDB adopts an already opened pool. The caller keeps ownership of
// its lifecycle.
func RegisterDB(name, driverName string, db *sql.DB) error {
	if db == nil {
		return errors.New("db must not be nil")
	}
	if _, err := flavorFor(driverName); err != nil {
		return err
	}
	sqldbInstances.Store(name, &SQLDB{
		Name:         name,
		Driver:       driverName,
		DB:           db,
		RegisterTime: time.Now(),
	})
	return nil
}

func Remove(name string) {
	value, ok := sqldbInstances.Load(name)
	if !ok {
		return
	}
	instance, ok := value.(*SQLDB)
	if !ok {
		return
	}
	if instance.owned && instance.DB != nil {
		instance.DB.Close()
	}
	sqldbInstances.Delete(name)
}

func (m *SQLDB) init(cfg Config) error {
	driverName := cfg.Driver
	switch cfg.Driver {
	case Driver_Postgres:
		if cfg.StatementTimeoutMS > 0 {
			driverName = timeoutDriverName(cfg.StatementTimeoutMS)
		}
	case Driver_MySQL, Driver_SQLite:
	default:
		return errors.Newf("unknown sql driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return err
	}

	switch cfg.Driver {
	case Driver_SQLite:
		// One writer connection keeps SQLITE_BUSY out of concurrent tests,
		// and a plain :memory: DSN would hand every connection its own
		// database otherwise.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return errors.Wrapf(err, "apply %q", pragma)
			}
		}
	default:
		db.SetConnMaxLifetime(60 * time.Minute)
		db.SetMaxIdleConns(50)
		db.SetMaxOpenConns(100)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	m.DB = db
	return nil
}

// Flavor maps the connection's driver to the sqlbuilder dialect used when
// rendering statements against it.
func (m *SQLDB) Flavor() sqlbuilder.Flavor {
	f, err := flavorFor(m.Driver)
	if err != nil {
		return sqlbuilder.SQLite
	}
	return f
}

func flavorFor(driverName string) (sqlbuilder.Flavor, error) {
	switch {
	case driverName == Driver_MySQL:
		return sqlbuilder.MySQL, nil
	case driverName == Driver_Postgres || strings.HasPrefix(driverName, "featstore-postgres"):
		return sqlbuilder.PostgreSQL, nil
	case driverName == Driver_SQLite:
		return sqlbuilder.SQLite, nil
	default:
		return 0, errors.Newf("unknown sql driver %q", driverName)
	}
}

// pgTimeoutDriver wraps lib/pq and caps statement time at session setup, so
// a slow online lookup cannot hold a connection hostage.
type pgTimeoutDriver struct {
	driver    pq.Driver
	timeoutMS int
}

func (d pgTimeoutDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.driver.Open(name)
	if err != nil {
		return nil, err
	}
	if stmt, err := conn.Prepare(fmt.Sprintf("set statement_timeout = %d", d.timeoutMS)); err == nil {
		stmt.Exec(nil)
		stmt.Close()
	}
	return conn, nil
}

var timeoutDrivers = struct {
	sync.Mutex
	names map[int]string
}{names: map[int]string{}}

func timeoutDriverName(ms int) string {
	timeoutDrivers.Lock()
	defer timeoutDrivers.Unlock()
	if name, ok := timeoutDrivers.names[ms]; ok {
		return name
	}
	name := fmt.Sprintf("featstore-postgres-%dms", ms)
	sql.Register(name, pgTimeoutDriver{timeoutMS: ms})
	timeoutDrivers.names[ms] = name
	return name
}

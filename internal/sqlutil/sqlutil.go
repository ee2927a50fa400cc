package sqlutil

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/halcyonchat/halcyon/setup/config"
)

// Writer is a mechanism that commits database writes, used so that SQLite
// writes can be serialised onto a single connection. Reads can still be
// performed concurrently.
type Writer interface {
	// Do queues a database write. If txn is nil, the function is responsible
	// for managing its own transactions (or using none at all).
	Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error
}

// DummyWriter performs database writes directly with no serialisation. It is
// suitable for PostgreSQL, which handles write concurrency itself.
type DummyWriter struct{}

func NewDummyWriter() Writer {
	return &DummyWriter{}
}

func (w *DummyWriter) Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	if db != nil && txn == nil {
		return WithTransaction(db, f)
	}
	return f(txn)
}

// ExclusiveWriter serialises all database writes through a mutex, since
// SQLite only supports one writer at a time.
type ExclusiveWriter struct {
	mutex sync.Mutex
}

func NewExclusiveWriter() Writer {
	return &ExclusiveWriter{}
}

func (w *ExclusiveWriter) Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if db != nil && txn == nil {
		return WithTransaction(db, f)
	}
	return f(txn)
}

// WithTransaction runs f in a new transaction, committing it if f returns nil
// and rolling it back otherwise.
func WithTransaction(db *sql.DB, f func(txn *sql.Tx) error) (err error) {
	txn, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "sqlutil.WithTransaction.Begin")
	}
	defer func() {
		if r := recover(); r != nil {
			txn.Rollback() // nolint: errcheck
			panic(r)
		}
	}()
	if err = f(txn); err != nil {
		txn.Rollback() // nolint: errcheck
		return err
	}
	return txn.Commit()
}

// Connections manages the underlying database connections, so that components
// sharing a connection string also share a *sql.DB and its writer.
type Connections struct {
	mutex sync.Mutex
	conns map[config.DataSource]connection
}

type connection struct {
	db     *sql.DB
	writer Writer
}

func NewConnectionManager() *Connections {
	return &Connections{
		conns: map[config.DataSource]connection{},
	}
}

// Connection opens (or reuses) the database described by the given options
// and returns it along with the writer that all writes to it must go through.
func (c *Connections) Connection(dbProperties *config.DatabaseOptions) (*sql.DB, Writer, error) {
	if dbProperties.ConnectionString == "" {
		return nil, nil, errors.New("no database connection string configured")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if conn, ok := c.conns[dbProperties.ConnectionString]; ok {
		return conn.db, conn.writer, nil
	}
	db, writer, err := Open(dbProperties)
	if err != nil {
		return nil, nil, err
	}
	c.conns[dbProperties.ConnectionString] = connection{db, writer}
	return db, writer, nil
}

// Open opens a new database connection for the given options.
func Open(dbProperties *config.DatabaseOptions) (*sql.DB, Writer, error) {
	var driverName string
	var writer Writer
	switch {
	case dbProperties.ConnectionString.IsSQLite():
		driverName = "sqlite"
		writer = NewExclusiveWriter()
	case dbProperties.ConnectionString.IsPostgres():
		driverName = "postgres"
		writer = NewDummyWriter()
	default:
		return nil, nil, fmt.Errorf("unexpected database type in connection string")
	}
	db, err := sql.Open(driverName, string(dbProperties.ConnectionString))
	if err != nil {
		return nil, nil, err
	}
	if driverName == "sqlite" {
		// SQLite is limited to a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(dbProperties.MaxOpenConnections)
		db.SetMaxIdleConns(dbProperties.MaxIdleConnections)
		db.SetConnMaxLifetime(time.Duration(dbProperties.ConnMaxLifetimeSec) * time.Second)
	}
	return db, writer, nil
}

// StatementList is a list of SQL statements to prepare and a pointer to where
// to store the resulting prepared statement.
type StatementList []struct {
	Statement **sql.Stmt
	SQL       string
}

// Prepare the SQL for each statement in the list and assign the result to
// the prepared statement.
func (s StatementList) Prepare(db *sql.DB) (err error) {
	for _, statement := range s {
		if *statement.Statement, err = db.Prepare(statement.SQL); err != nil {
			return errors.Wrapf(err, "error preparing %q", statement.SQL)
		}
	}
	return
}

// TxStmt wraps an SQL stmt inside an optional transaction.
func TxStmt(transaction *sql.Tx, statement *sql.Stmt) *sql.Stmt {
	if transaction != nil {
		statement = transaction.Stmt(statement)
	}
	return statement
}

// CloseAndLogIfError closes io.Closer things (e.g. sql.Rows) and logs the
// given message if the close fails.
func CloseAndLogIfError(closer interface{ Close() error }, message string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logrus.WithError(err).Error(message)
	}
}

// Package dbclient reads sample records out of external databases.
package dbclient

import (
	"context"
	"errors"
	"fmt"

	"composer/internal/domain"
	"composer/internal/jsonvalue"
)

// ErrWriteQuery is returned for statements that would modify the database.
// Acquisition only ever reads.
var ErrWriteQuery = errors.New("dbclient: only read queries are allowed")

// Connector abstracts reading from an external database. Rows come back as
// ordered JSON objects so they can be indexed and mapped like any other
// source document.
type Connector interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Query runs a read query and returns at most limit rows (limit <= 0
	// means all of them). For MongoDB the query is a JSON document naming
	// the collection, see mongoQuery.
	Query(ctx context.Context, query string, limit int) ([]jsonvalue.Value, error)

	// Close closes the connection.
	Close() error
}

// NewConnector creates a Connector for the given database connection.
// The password must be provided separately (from a secret store).
func NewConnector(conn *domain.DatabaseConnection, password string) (Connector, error) {
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLConnector("sqlite", buildSQLiteDSN(conn))
	case domain.DatabaseDriverMySQL:
		return newSQLConnector("mysql", buildMySQLDSN(conn, password))
	case domain.DatabaseDriverPostgres:
		return newSQLConnector("postgres", buildPostgresDSN(conn, password))
	case domain.DatabaseDriverMongoDB:
		return newMongoConnector(conn, password)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
}

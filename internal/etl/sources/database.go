package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"composer/internal/dbclient"
	"composer/internal/domain"
	"composer/internal/etl"
	"composer/internal/jsonvalue"
	"composer/internal/secret"
)

// ── Database Source ────────────────────────────────────────
// Runs a read query against an external database through dbclient.

var (
	secretsMu sync.RWMutex
	secrets   secret.Store = secret.NewEnvStore("COMPOSER_SECRET_")
)

// SetSecretStore is called by the app at startup to choose where database
// passwords come from.
func SetSecretStore(s secret.Store) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	secrets = s
}

func secretStore() secret.Store {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	return secrets
}

type databaseSource struct{}

func init() { etl.RegisterSource(&databaseSource{}) }

func (s *databaseSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "database",
		Label: "Database Query",
		ConfigFields: []etl.ConfigField{
			{Key: "connection", Label: "Connection", Type: "connection", Required: true, Help: "driver, host, port, database, username, passwordKey, sslMode, options"},
			{Key: "query", Label: "Query", Type: "textarea", Required: true, Help: "Read query; for MongoDB a JSON document naming the collection"},
			{Key: "limit", Label: "Row Limit", Type: "number", Default: "1000"},
		},
	}
}

func (s *databaseSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan jsonvalue.Value, <-chan error) {
	return stream(ctx, func() ([]jsonvalue.Value, error) {
		conn, err := parseConnection(cfg["connection"])
		if err != nil {
			return nil, err
		}
		password, err := lookupPassword(conn)
		if err != nil {
			return nil, err
		}

		c, err := dbclient.NewConnector(conn, password)
		if err != nil {
			return nil, err
		}
		defer c.Close()

		rows, err := c.Query(ctx, cfg.String("query"), cfg.Int("limit", 1000))
		if err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
		return rows, nil
	})
}

// parseConnection decodes the connection block of a source config.
func parseConnection(raw any) (*domain.DatabaseConnection, error) {
	if raw == nil {
		return nil, fmt.Errorf("connection is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("connection: %w", err)
	}
	var conn domain.DatabaseConnection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("connection: %w", err)
	}
	if conn.Driver == "" {
		return nil, fmt.Errorf("connection: driver is required")
	}
	return &conn, nil
}

func lookupPassword(conn *domain.DatabaseConnection) (string, error) {
	if conn.PasswordKey == "" {
		return "", nil
	}
	pw, err := secretStore().Get(conn.PasswordKey)
	if errors.Is(err, secret.ErrNotFound) {
		return "", fmt.Errorf("password %q not found in secret store", conn.PasswordKey)
	}
	if err != nil {
		return "", fmt.Errorf("password %q: %w", conn.PasswordKey, err)
	}
	return string(pw), nil
}

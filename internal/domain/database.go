package domain

// DatabaseDriver represents the type of database engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// DatabaseConnection holds what is needed to reach an external database.
// The password is never stored here; it is looked up in a secret store
// under PasswordKey.
type DatabaseConnection struct {
	Driver      DatabaseDriver    `json:"driver" yaml:"driver"`
	Host        string            `json:"host" yaml:"host"`                   // hostname, file path (sqlite) or mongodb:// URI
	Port        int               `json:"port,omitempty" yaml:"port"`         // 0 means the driver default
	Database    string            `json:"database,omitempty" yaml:"database"` // empty for sqlite
	Username    string            `json:"username,omitempty" yaml:"username"`
	PasswordKey string            `json:"passwordKey,omitempty" yaml:"passwordKey"`
	SSLMode     string            `json:"sslMode,omitempty" yaml:"sslMode"`
	Options     map[string]string `json:"options,omitempty" yaml:"options"` // driver-specific query parameters
}

package dbclient

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"composer/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// buildSQLiteDSN opens the file read-only with a busy timeout, so sampling
// never blocks a writer for long.
func buildSQLiteDSN(conn *domain.DatabaseConnection) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "busy_timeout(5000)")
	addOptions(q, conn.Options)
	return "file:" + conn.Host + "?" + q.Encode()
}

// buildMySQLDSN: user:password@tcp(host:port)/dbname?parseTime=true
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	q := url.Values{}
	q.Set("parseTime", "true")
	q.Set("charset", "utf8mb4")
	if conn.SSLMode == "require" {
		q.Set("tls", "true")
	}
	addOptions(q, conn.Options)
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		conn.Username, password, conn.Host, port, conn.Database, q.Encode(),
	)
}

// buildPostgresDSN builds a lib/pq keyword/value connection string.
func buildPostgresDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		"host=" + pqQuote(conn.Host),
		fmt.Sprintf("port=%d", port),
		"user=" + pqQuote(conn.Username),
		"password=" + pqQuote(password),
		"dbname=" + pqQuote(conn.Database),
		"sslmode=" + sslMode,
	}
	for _, k := range sortedOptionKeys(conn.Options) {
		parts = append(parts, k+"="+pqQuote(conn.Options[k]))
	}
	return strings.Join(parts, " ")
}

// pqQuote quotes values containing spaces or quotes the way lib/pq expects.
func pqQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// buildMongoURI accepts a full mongodb:// or mongodb+srv:// URI in Host, or
// builds one from host and port.
func buildMongoURI(conn *domain.DatabaseConnection, password string) string {
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri := conn.Host
		if password != "" {
			// placeholders commonly found in Atlas connection strings
			uri = strings.ReplaceAll(uri, "<password>", url.QueryEscape(password))
			uri = strings.ReplaceAll(uri, "<db_password>", url.QueryEscape(password))
		}
		return uri
	}

	port := conn.Port
	if port == 0 {
		port = 27017
	}
	u := url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%d", conn.Host, port)}
	if conn.Username != "" {
		u.User = url.UserPassword(conn.Username, password)
	}
	q := url.Values{}
	addOptions(q, conn.Options)
	u.RawQuery = q.Encode()
	return u.String()
}

func addOptions(q url.Values, opts map[string]string) {
	for _, k := range sortedOptionKeys(opts) {
		q.Set(k, opts[k])
	}
}

func sortedOptionKeys(opts map[string]string) []string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package roster

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// NormalizeDSN prepares a DSN for the given driver. Postgres DSNs without a
// scheme get postgres:// prefixed; MySQL DSNs always get parseTime=true so
// started_at scans into time.Time.
func NormalizeDSN(driver, dsn string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", fmt.Errorf("empty DSN")
	}
	switch driver {
	case "pgx":
		// key=value connection strings are passed through untouched
		if strings.Contains(dsn, "=") && !strings.Contains(dsn, "://") {
			return dsn, nil
		}
		if !strings.Contains(dsn, "://") {
			dsn = "postgres://" + dsn
		}
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return "", fmt.Errorf("unsupported postgres scheme %q", u.Scheme)
		}
		return u.String(), nil
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", err
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

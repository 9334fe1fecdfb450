package content

import (
	"net/url"
	"strings"

	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
)

// RedactDSN masks credentials in a connection string so it can be logged.
// SQLite paths carry none and are returned as is.
func RedactDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}

	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		if u.User != nil {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
		q := u.Query()
		for _, k := range []string{"password", "pass", "pwd"} {
			if q.Has(k) {
				q.Set(k, "****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	if DialectOf(dsn) != lists.DialectPostgres {
		return dsn
	}

	// host=... user=... password=...
	parts := strings.Fields(dsn)
	for i := range parts {
		l := strings.ToLower(parts[i])
		if strings.HasPrefix(l, "password=") || strings.HasPrefix(l, "pwd=") || strings.HasPrefix(l, "pass=") {
			parts[i] = parts[i][:strings.IndexByte(parts[i], '=')+1] + "****"
		}
	}
	return strings.Join(parts, " ")
}

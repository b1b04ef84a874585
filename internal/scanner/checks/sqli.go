package checks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"intercept/internal/repository"
)

// sqliPayloads are appended to each query parameter's original value,
// one probe per payload.
var sqliPayloads = []string{
	`'`,
	`"`,
	`' OR '1'='1`,
	`" OR "1"="1`,
	`' OR 1=1--`,
	`" OR 1=1--`,
	`1' ORDER BY 1--`,
	`1 UNION SELECT NULL--`,
	`'; DROP TABLE users--`,
	`1; SELECT * FROM users`,
	`' AND '1'='1`,
	`' AND SLEEP(5)--`,
	`1' AND (SELECT COUNT(*) FROM users) > 0--`,
}

// sqliErrorPatterns are database-error signatures across MySQL,
// PostgreSQL, MSSQL, Oracle, and SQLite.
var sqliErrorPatterns = compileAll([]string{
	`SQL syntax.*MySQL`,
	`Warning.*mysql_`,
	`MySqlException`,
	`valid MySQL result`,
	`check the manual that corresponds to your MySQL`,
	`MySqlClient\.`,
	`PostgreSQL.*ERROR`,
	`Warning.*\Wpg_`,
	`valid PostgreSQL result`,
	`Npgsql\.`,
	`PG::SyntaxError:`,
	`org\.postgresql\.util\.PSQLException`,
	`ERROR:\s+syntax error at or near`,
	`Driver.*SQL[\-_ ]*Server`,
	`OLE DB.*SQL Server`,
	`SQL Server[^<"]+Driver`,
	`Warning.*mssql_`,
	`SQL Server[^<"]+[0-9a-fA-F]{8}`,
	`System\.Data\.SqlClient\.`,
	`Microsoft SQL Native Client error '[0-9a-fA-F]{8}`,
	`\[SQL Server\]`,
	`ODBC SQL Server Driver`,
	`ODBC Driver \d+ for SQL Server`,
	`SQLServer JDBC Driver`,
	`com\.jnetdirect\.jsql`,
	`com\.microsoft\.sqlserver\.jdbc\.SQLServerException`,
	`ORA-[0-9]{4}`,
	`Oracle error`,
	`Oracle.*Driver`,
	`Warning.*\Woci_`,
	`Warning.*\Wora_`,
	`oracle\.jdbc\.driver`,
	`quoted string not properly terminated`,
	`SQLite/JDBCDriver`,
	`SQLite\.Exception`,
	`System\.Data\.SQLite\.SQLiteException`,
	`Warning.*sqlite_`,
	`Warning.*SQLite3::`,
	`\[SQLITE_ERROR\]`,
	`SQLITE_CONSTRAINT`,
	`sqlite3\.OperationalError:`,
	`SQLError`,
	`sqlite3\.ProgrammingError:`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// SQLInjection probes every query parameter with a fixed payload list and
// signature-matches the response body against known DB-error patterns.
// The first matching payload per parameter wins.
type SQLInjection struct{}

func (SQLInjection) ID() string { return "sqli" }

func (c SQLInjection) Run(ctx context.Context, client *http.Client, target Target) ([]*repository.Issue, error) {
	u, err := url.Parse(target.URL)
	if err != nil {
		return nil, err
	}
	query := u.Query()
	if len(query) == 0 {
		return nil, nil
	}

	var issues []*repository.Issue
	for param, values := range query {
		original := ""
		if len(values) > 0 {
			original = values[0]
		}

		for _, payload := range sqliPayloads {
			probeURL := withParam(u, param, original+payload)
			_, body, err := get(ctx, client, probeURL, target.Headers)
			if err != nil {
				continue
			}

			if loc := firstMatch(sqliErrorPatterns, body); loc != "" {
				issue := newIssue(c.ID(), "sql_injection", "high", "firm", target.URL, http.MethodGet)
				issue.Parameter = param
				issue.Location = "query"
				issue.Payload = payload
				issue.Evidence = loc
				issue.Title = fmt.Sprintf("SQL Injection in '%s' parameter", param)
				issue.Description = fmt.Sprintf("The parameter %q appears vulnerable to SQL injection; a database error signature was returned when injecting the payload.", param)
				issue.Remediation = "Use parameterized queries instead of string concatenation; validate and sanitize all user input."
				issues = append(issues, issue)
				break
			}
		}
	}
	return issues, nil
}

func withParam(u *url.URL, param, value string) string {
	clone := *u
	q := clone.Query()
	q.Set(param, value)
	clone.RawQuery = q.Encode()
	return clone.String()
}

func firstMatch(patterns []*regexp.Regexp, body []byte) string {
	for _, re := range patterns {
		if m := re.Find(body); m != nil {
			return string(m)
		}
	}
	return ""
}

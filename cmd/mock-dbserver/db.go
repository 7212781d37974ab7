package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultMaxRows = 100

// invalidParams marks argument problems so the dispatcher can map them to
// the invalid-params JSON-RPC code instead of an internal error.
type invalidParams struct {
	msg string
}

func (e *invalidParams) Error() string { return e.msg }

// database wraps a single-connection in-memory SQLite instance. Pinning
// the pool to one connection keeps the in-memory schema alive across
// requests.
type database struct {
	db         *sql.DB
	selectOnly bool
}

func openDatabase(selectOnly bool) (*database, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &database{db: db, selectOnly: selectOnly}, nil
}

func (d *database) Close() error { return d.db.Close() }

func (d *database) runSQL(args map[string]any) (string, error) {
	sqlText, _ := args["sql"].(string)
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return "", &invalidParams{"SQL query cannot be empty"}
	}

	maxRows := defaultMaxRows
	if n, ok := args["maxRows"].(json.Number); ok {
		if v, err := n.Int64(); err == nil && v > 0 {
			maxRows = int(v)
		}
	}

	params, err := bindParams(args["params"])
	if err != nil {
		return "", err
	}

	if isQuery(sqlText) {
		return d.query(sqlText, params, maxRows)
	}
	if d.selectOnly {
		return "", &invalidParams{"Only SELECT statements are allowed in select-only mode"}
	}
	return d.exec(sqlText, params)
}

func isQuery(sqlText string) bool {
	head := strings.ToUpper(sqlText)
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH")
}

// bindParams converts decoded JSON values into driver-friendly types.
// Numbers arrive as json.Number, which database drivers do not accept.
func bindParams(raw any) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, &invalidParams{"params must be an array"}
	}
	out := make([]any, len(list))
	for i, v := range list {
		switch t := v.(type) {
		case json.Number:
			if n, err := t.Int64(); err == nil {
				out[i] = n
			} else if f, err := t.Float64(); err == nil {
				out[i] = f
			} else {
				return nil, &invalidParams{fmt.Sprintf("parameter %d is not a valid number", i+1)}
			}
		case nil, string, bool:
			out[i] = v
		default:
			return nil, &invalidParams{fmt.Sprintf("parameter %d has unsupported type", i+1)}
		}
	}
	return out, nil
}

func (d *database) query(sqlText string, params []any, maxRows int) (string, error) {
	rows, err := d.db.Query(sqlText, params...)
	if err != nil {
		return "", fmt.Errorf("query failed: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	header := strings.Join(cols, " | ")
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", len(header)))
	b.WriteString("\n")

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	count := 0
	truncated := false
	for rows.Next() {
		if count >= maxRows {
			truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		fields := make([]string, len(vals))
		for i, v := range vals {
			fields[i] = formatValue(v)
		}
		b.WriteString(strings.Join(fields, " | "))
		b.WriteString("\n")
		count++
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if truncated {
		fmt.Fprintf(&b, "\n%d row(s) returned (truncated at maxRows)", count)
	} else {
		fmt.Fprintf(&b, "\n%d row(s) returned", count)
	}
	return b.String(), nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (d *database) exec(sqlText string, params []any) (string, error) {
	res, err := d.db.Exec(sqlText, params...)
	if err != nil {
		return "", fmt.Errorf("statement failed: %v", err)
	}
	affected, _ := res.RowsAffected()
	return fmt.Sprintf("Statement executed. %d row(s) affected", affected), nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (d *database) describeTable(args map[string]any) (string, error) {
	name, _ := args["table_name"].(string)
	if name == "" {
		return "", &invalidParams{"table_name is required"}
	}
	// PRAGMA does not take bind parameters, so the name is validated as a
	// bare identifier before being spliced in.
	if !identPattern.MatchString(name) {
		return "", &invalidParams{"invalid table name: " + name}
	}

	rows, err := d.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", name))
	if err != nil {
		return "", fmt.Errorf("describe failed: %v", err)
	}
	defer rows.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", name)
	b.WriteString("Column | Type | Nullable | Default | Key\n")

	count := 0
	for rows.Next() {
		var (
			cid     int
			col     string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return "", err
		}
		nullable := "YES"
		if notNull != 0 {
			nullable = "NO"
		}
		key := ""
		if pk != 0 {
			key = "PRI"
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s\n", col, typ, nullable, dflt.String, key)
		count++
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if count == 0 {
		return "", fmt.Errorf("table not found: %s", name)
	}
	return b.String(), nil
}

func (d *database) info() (string, error) {
	var version string
	if err := d.db.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		return "", err
	}
	var tables int
	err := d.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&tables)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(map[string]any{
		"databaseProduct": "SQLite",
		"databaseVersion": version,
		"driver":          "modernc.org/sqlite",
		"tables":          tables,
		"selectOnly":      d.selectOnly,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

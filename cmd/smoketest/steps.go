package main

import "github.com/skanga/dbchat-protocol-tests/mcp"

type step struct {
	name    string
	request mcp.Message
}

func initializeRequest(clientName string) mcp.Message {
	return mcp.Message{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-11-25",
			"capabilities":    map[string]any{"tools": map[string]any{}, "resources": map[string]any{}},
			"clientInfo":      map[string]any{"name": clientName, "version": "1.0"},
		},
	}
}

// smokeSteps is the CRUD conversation, in order. Later steps read state
// the earlier ones created, so the list only makes sense over a single
// session.
func smokeSteps() []step {
	return []step{
		{"Initialize", initializeRequest("test")},
		{"Initialized Notification", mcp.Message{
			"jsonrpc": "2.0",
			"method":  "notifications/initialized",
			"params":  map[string]any{},
		}},
		{"List Tools", mcp.Message{
			"jsonrpc": "2.0",
			"id":      2,
			"method":  "tools/list",
			"params":  map[string]any{},
		}},
		{"List Resources", mcp.Message{
			"jsonrpc": "2.0",
			"id":      3,
			"method":  "resources/list",
			"params":  map[string]any{},
		}},
		{"Read Database Info", mcp.Message{
			"jsonrpc": "2.0",
			"id":      4,
			"method":  "resources/read",
			"params":  map[string]any{"uri": "database://info"},
		}},
		{"Create Table", mcp.Message{
			"jsonrpc": "2.0",
			"id":      5,
			"method":  "tools/call",
			"params": map[string]any{
				"name": "run_sql",
				"arguments": map[string]any{
					"sql": "CREATE TABLE test_table (id INT PRIMARY KEY, name VARCHAR(50), created_date DATE)",
				},
			},
		}},
		{"Insert Data", mcp.Message{
			"jsonrpc": "2.0",
			"id":      6,
			"method":  "tools/call",
			"params": map[string]any{
				"name": "run_sql",
				"arguments": map[string]any{
					"sql": "INSERT INTO test_table VALUES (1, 'John Doe', '2024-01-01'), (2, 'Jane Smith', '2024-01-02')",
				},
			},
		}},
		{"Select Data", mcp.Message{
			"jsonrpc": "2.0",
			"id":      7,
			"method":  "tools/call",
			"params": map[string]any{
				"name": "run_sql",
				"arguments": map[string]any{
					"sql": "SELECT * FROM test_table ORDER BY id",
				},
			},
		}},
		{"Describe Table", mcp.Message{
			"jsonrpc": "2.0",
			"id":      8,
			"method":  "tools/call",
			"params": map[string]any{
				"name":      "describe_table",
				"arguments": map[string]any{"table_name": "test_table"},
			},
		}},
		{"Read Table Metadata", mcp.Message{
			"jsonrpc": "2.0",
			"id":      9,
			"method":  "resources/read",
			"params":  map[string]any{"uri": "database://table/TEST_TABLE"},
		}},
		{"Parameterized Insert", mcp.Message{
			"jsonrpc": "2.0",
			"id":      10,
			"method":  "tools/call",
			"params": map[string]any{
				"name": "run_sql",
				"arguments": map[string]any{
					"sql":    "INSERT INTO test_table VALUES (?, ?, ?)",
					"params": []any{3, "Alice Brown", "2024-01-03"},
				},
			},
		}},
		{"Parameterized Select (Single)", mcp.Message{
			"jsonrpc": "2.0",
			"id":      11,
			"method":  "tools/call",
			"params": map[string]any{
				"name": "run_sql",
				"arguments": map[string]any{
					"sql":    "SELECT * FROM test_table WHERE id = ?",
					"params": []any{3},
				},
			},
		}},
		{"Parameterized Select (Multiple)", mcp.Message{
			"jsonrpc": "2.0",
			"id":      12,
			"method":  "tools/call",
			"params": map[string]any{
				"name": "run_sql",
				"arguments": map[string]any{
					"sql":    "SELECT * FROM test_table WHERE name LIKE ? AND id > ?",
					"params": []any{"%e%", 1},
				},
			},
		}},
		{"Parameterized Select (Range)", mcp.Message{
			"jsonrpc": "2.0",
			"id":      13,
			"method":  "tools/call",
			"params": map[string]any{
				"name": "run_sql",
				"arguments": map[string]any{
					"sql":    "SELECT * FROM test_table WHERE id BETWEEN ? AND ? ORDER BY id",
					"params": []any{2, 4},
				},
			},
		}},
		{"Empty Params Array", mcp.Message{
			"jsonrpc": "2.0",
			"id":      14,
			"method":  "tools/call",
			"params": map[string]any{
				"name": "run_sql",
				"arguments": map[string]any{
					"sql":    "SELECT COUNT(*) as total_count FROM test_table",
					"params": []any{},
				},
			},
		}},
	}
}

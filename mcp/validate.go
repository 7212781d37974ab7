package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// allowedRootFields are the only members a JSON-RPC response may carry.
var allowedRootFields = map[string]struct{}{
	"jsonrpc": {},
	"id":      {},
	"result":  {},
	"error":   {},
}

// ValidateEnvelope checks a response for JSON-RPC 2.0 compliance against the
// id of the request that produced it. expectedID nil covers both a null-id
// and an id-less request; a response may then omit the id, and the expected
// field list is what forces it to be present on null-id round-trips.
// An empty return value means the envelope is compliant.
func ValidateEnvelope(resp Message, expectedID any) []string {
	var violations []string

	if v, _ := resp["jsonrpc"].(string); v != Version {
		violations = append(violations, "Missing or invalid 'jsonrpc' field")
	}

	if actual, ok := resp["id"]; ok {
		if !IDEqual(expectedID, actual) {
			violations = append(violations, fmt.Sprintf("ID mismatch: expected %s, got %s", FormatID(expectedID), FormatID(actual)))
		}
	} else if expectedID != nil {
		violations = append(violations, fmt.Sprintf("Missing 'id' field, expected %s", FormatID(expectedID)))
	}

	_, hasResult := resp["result"]
	_, hasError := resp["error"]
	switch {
	case hasResult && hasError:
		violations = append(violations, "Response cannot have both 'result' and 'error'")
	case !hasResult && !hasError:
		violations = append(violations, "Response must have either 'result' or 'error'")
	}

	if hasError {
		if errObj, ok := asObject(resp["error"]); ok {
			if !isInteger(errObj["code"]) {
				violations = append(violations, "Error object missing or invalid 'code' field")
			}
			if _, ok := errObj["message"].(string); !ok {
				violations = append(violations, "Error object missing or invalid 'message' field")
			}
		} else {
			violations = append(violations, "Error field must be an object")
		}
	}

	var extra []string
	for key := range resp {
		if _, ok := allowedRootFields[key]; !ok {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		violations = append(violations, "Unexpected extra fields in response: "+strings.Join(extra, ", "))
	}

	return violations
}

// ValidateFields checks that every dotted path resolves through the
// response. Only object members are traversed; presence counts even when
// the value is null, which is how id round-trips stay checkable.
func ValidateFields(resp Message, paths []string) []string {
	var violations []string
	for _, path := range paths {
		current := any(map[string]any(resp))
		for _, part := range strings.Split(path, ".") {
			obj, ok := asObject(current)
			if !ok {
				violations = append(violations, "Missing expected field: "+path)
				break
			}
			value, ok := obj[part]
			if !ok {
				violations = append(violations, "Missing expected field: "+path)
				break
			}
			current = value
		}
	}
	return violations
}

// methodRule constrains the result object of one MCP method. Members with
// an "x-" prefix are vendor extensions and always tolerated.
type methodRule struct {
	required []string // members that must be present
	arrays   []string // members that must be present as JSON arrays
	allowed  []string // members tolerated beyond vendor extensions
}

var methodRules = map[string]methodRule{
	MethodInitialize: {
		required: []string{"protocolVersion", "capabilities", "serverInfo"},
		allowed:  []string{"protocolVersion", "capabilities", "serverInfo"},
	},
	MethodToolsList: {
		arrays:  []string{"tools"},
		allowed: []string{"tools"},
	},
	MethodResourcesList: {
		arrays:  []string{"resources"},
		allowed: []string{"resources"},
	},
	MethodToolsCall: {
		required: []string{"content"},
		allowed:  []string{"content", "isError"},
	},
	MethodResourcesRead: {
		required: []string{"contents"},
		allowed:  []string{"contents"},
	},
	MethodPing: {},
}

// ValidateMethodSchema checks the result shape for methods with a known
// contract. Methods without a rule, error responses, and responses without
// a result all pass; the envelope rules cover those separately.
func ValidateMethodSchema(resp Message, method string) []string {
	rule, known := methodRules[method]
	if !known {
		return nil
	}
	if resp.HasError() {
		return nil
	}
	raw, ok := resp["result"]
	if !ok {
		return nil
	}
	result, ok := asObject(raw)
	if !ok {
		return []string{fmt.Sprintf("%s result must be an object", method)}
	}

	var violations []string

	var missing []string
	for _, name := range rule.required {
		if _, ok := result[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		violations = append(violations, fmt.Sprintf("%s result missing required fields: %s", method, strings.Join(missing, ", ")))
	}

	for _, name := range rule.arrays {
		if _, ok := result[name].([]any); !ok {
			violations = append(violations, fmt.Sprintf("%s result must contain '%s' array", method, name))
		}
	}

	allowed := make(map[string]struct{}, len(rule.allowed))
	for _, name := range rule.allowed {
		allowed[name] = struct{}{}
	}
	var extra []string
	for key := range result {
		if _, ok := allowed[key]; ok || isVendorExtension(key) {
			continue
		}
		extra = append(extra, key)
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		violations = append(violations, fmt.Sprintf("%s result has unexpected fields: %s", method, strings.Join(extra, ", ")))
	}

	return violations
}

// isVendorExtension reports whether a field name is an x- vendor extension.
func isVendorExtension(name string) bool {
	return strings.HasPrefix(name, "x-")
}

// ValidateToolSchemas is the deep audit for a tools/list result: every
// declared tool must carry a name and an inputSchema that compiles as JSON
// Schema. A result without a tools array passes here because the method
// rules already flag it.
func ValidateToolSchemas(resp Message) []string {
	if resp.HasError() {
		return nil
	}
	result, ok := asObject(resp["result"])
	if !ok {
		return nil
	}
	tools, ok := result["tools"].([]any)
	if !ok {
		return nil
	}

	var violations []string
	for i, raw := range tools {
		tool, ok := asObject(raw)
		if !ok {
			violations = append(violations, fmt.Sprintf("Tool %d is not an object", i))
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			violations = append(violations, fmt.Sprintf("Tool %d is missing a name", i))
			name = fmt.Sprintf("#%d", i)
		}
		schema, ok := tool["inputSchema"]
		if !ok {
			violations = append(violations, fmt.Sprintf("Tool %s has no inputSchema", name))
			continue
		}
		if err := compileToolSchema(schema); err != nil {
			violations = append(violations, fmt.Sprintf("Tool %s has an invalid inputSchema: %v", name, err))
		}
	}
	return violations
}

// compileToolSchema round-trips the declared schema through plain JSON
// before compiling so json.Number values from the wire decode do not reach
// the compiler.
func compileToolSchema(schema any) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("inputSchema.json", doc); err != nil {
		return err
	}
	_, err = c.Compile("inputSchema.json")
	return err
}

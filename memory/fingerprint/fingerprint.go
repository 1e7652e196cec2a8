// Package fingerprint derives the stable identifiers the coherence engine
// keys its cache lookups on: the tool_key fingerprint of an action, the
// resource anchors it touches, and whether it reads or writes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// Action is the normalized shape of a tool invocation's parameters, as
// recorded on an Episode. Keys are free-form; callers populate only the
// fields their action_type defines.
type Action map[string]any

// ReadTypes enumerates action_type values that only observe state and so
// are safe to purge once the resource they read is superseded by a write.
var ReadTypes = map[string]bool{
	"read_file_contents":         true,
	"query_codebase":             true,
	"search_documentation":       true,
	"search_internet":            true,
	"retrieve_integration_methods": true,
	"execute_command":            true,
}

var writeMarkers = []string{
	" create-", " put-", " attach-", " update-", " delete-",
	" remove-", " set-", " cp ", " mv ", " rm ",
}

// Normalize produces a stable, sort-keyed copy of action suitable for
// deterministic JSON serialization: file lists are sorted, arg lists are
// coerced to strings in place, and a nil cwd becomes "".
func Normalize(action Action) Action {
	out := make(Action, len(action))
	for k, v := range action {
		out[k] = v
	}
	if files, ok := out["files"].([]any); ok {
		strs := make([]string, 0, len(files))
		for _, f := range files {
			strs = append(strs, toString(f))
		}
		sort.Strings(strs)
		out["files"] = strs
	}
	if args, ok := out["args"].([]any); ok {
		strs := make([]string, 0, len(args))
		for _, a := range args {
			strs = append(strs, toString(a))
		}
		out["args"] = strs
	}
	if cwd, present := out["cwd"]; present && cwd == nil {
		out["cwd"] = ""
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// ToolKey computes the deterministic fingerprint of an action: the
// normalized action is serialized with sorted keys and no insignificant
// whitespace, hashed with SHA-256, and truncated to the first 16 hex
// characters. The action_type prefixes the digest so keys never collide
// across unrelated tools.
func ToolKey(actionType string, action Action) string {
	norm := Normalize(action)
	payload, err := marshalSorted(norm)
	if err != nil {
		payload = []byte("{}")
	}
	sum := sha256.Sum256([]byte(actionType + "|" + string(payload)))
	digest := hex.EncodeToString(sum[:])[:16]
	return actionType + ":" + digest
}

// marshalSorted serializes v as compact JSON with map keys in sorted
// order, matching Python's json.dumps(sort_keys=True, separators=(",", ":")).
// encoding/json already sorts map[string]any keys and emits no
// insignificant whitespace, so a direct Marshal suffices.
func marshalSorted(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ExtractResourceIDs returns the resource anchors an action touches, in
// first-seen order with duplicates removed. The heuristics mirror the
// tool surface this system observes: file-oriented tools report the
// literal path(s); execute_command is scanned for S3 URIs, IAM policy
// ARNs (validated via aws/arn), and IAM group names; search-style tools
// report their query string under a namespacing prefix.
func ExtractResourceIDs(actionType string, action Action) []string {
	var ids []string

	switch actionType {
	case "create_file", "delete_file", "read_file_contents", "run_file":
		if fp := toString(action["file_path"]); fp != "" {
			ids = append(ids, fp)
		}
	case "modify_code":
		if files, ok := action["files"].([]string); ok {
			for _, f := range files {
				if f != "" {
					ids = append(ids, f)
				}
			}
		} else if files, ok := action["files"].([]any); ok {
			for _, f := range files {
				if s := toString(f); s != "" {
					ids = append(ids, s)
				}
			}
		}
	}

	if actionType == "execute_command" {
		cmd := toString(action["command"])
		ids = append(ids, extractCommandResources(cmd)...)
	}

	switch actionType {
	case "query_codebase":
		if q := toString(action["query"]); q != "" {
			ids = append(ids, "code_query:"+q)
		}
	case "search_documentation":
		var parts []string
		for _, k := range []string{"language", "provider_version", "search_method", "query"} {
			if v := toString(action[k]); v != "" {
				parts = append(parts, k+"="+v)
			}
		}
		if len(parts) > 0 {
			ids = append(ids, "docs:"+strings.Join(parts, "|"))
		}
	case "search_internet":
		if q := toString(action["query"]); q != "" {
			ids = append(ids, "web:"+q)
		}
	}

	return dedup(ids)
}

func extractCommandResources(cmd string) []string {
	var ids []string

	if strings.Contains(cmd, "s3://") {
		after := strings.SplitN(cmd, "s3://", 2)[1]
		if fields := strings.Fields(after); len(fields) > 0 && fields[0] != "" {
			ids = append(ids, "s3://"+fields[0])
		}
	}

	if strings.Contains(cmd, "--policy-arn") {
		for _, tok := range strings.Fields(cmd) {
			if strings.HasPrefix(tok, "arn:") && IsValidARN(tok) {
				ids = append(ids, tok)
			}
		}
	}

	if strings.Contains(cmd, "--group-name") {
		tail := strings.TrimSpace(strings.SplitN(cmd, "--group-name", 2)[1])
		tail = strings.TrimPrefix(tail, "=")
		tail = strings.TrimSpace(tail)
		if fields := strings.Fields(tail); len(fields) > 0 {
			tail = fields[0]
		}
		tail = strings.Trim(tail, "'\"")
		if tail != "" {
			ids = append(ids, "iam:group:"+tail)
		}
	}

	return ids
}

func dedup(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ClassifyOp reports "write" if actionType/action is likely to mutate
// state, otherwise "read". create_file/modify_code/delete_file are always
// writes; execute_command is inspected for a fixed set of mutating CLI
// verbs; everything else defaults to read.
func ClassifyOp(actionType string, action Action) string {
	switch actionType {
	case "create_file", "modify_code", "delete_file":
		return "write"
	case "execute_command":
		cmd := " " + strings.ToLower(toString(action["command"])) + " "
		for _, marker := range writeMarkers {
			if strings.Contains(cmd, marker) {
				return "write"
			}
		}
	}
	return "read"
}

// ResourceNodeID returns the graph node identifier used to track the
// last-write timestamp for a resource anchor.
func ResourceNodeID(resourceID string) string {
	return "resource::" + strings.ReplaceAll(resourceID, " ", "_")
}

// IsValidARN reports whether s parses as a well-formed AWS ARN. Resource
// extraction uses this to drop a malformed arn: token from an
// execute_command rather than recording it as a resource id.
func IsValidARN(s string) bool {
	_, err := arn.Parse(s)
	return err == nil
}

// Package agentloop implements a think-act-observe engine that drives an
// llm.Client through a dispatched task with real tool-calling (git, file,
// shell), wired in as the orchestrator's default Subconscious backend
// (internal/wiring/subconscious_agentloop.go). The LLM runs remotely; tools
// execute locally, sandboxed to the task's working directory.
package agentloop

import (
	"encoding/json"

	"github.com/agora-run/agora/internal/llm"
)

// SubconsciousTools returns the tool definitions exposed to the model while
// it works a dispatched task: git inspection/commit, file read/write/edit/
// list/search, and a sandboxed shell escape hatch. Tool choice here tracks
// spec.md §1's Subconscious role (execute a dispatched task and report
// success/failure/partial) rather than any broader agent surface — peer
// messaging and governance go through the relay/tinybus and Superego, not
// a tool call.
func SubconsciousTools() []llm.ToolDef {
	return []llm.ToolDef{
		{
			Name:        "git_diff",
			Description: "Show git diff of current changes in the working directory.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"staged": {
						"type": "boolean",
						"description": "If true, show staged changes only"
					},
					"path": {
						"type": "string",
						"description": "Optional path to restrict diff to"
					}
				},
				"required": []
			}`),
		},
		{
			Name:        "git_status",
			Description: "Show git status of the working directory.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
		},
		{
			Name:        "git_commit",
			Description: "Stage all changes and commit with a message.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"message": {
						"type": "string",
						"description": "Commit message"
					},
					"paths": {
						"type": "array",
						"items": {"type": "string"},
						"description": "Optional specific paths to stage (default: all)"
					}
				},
				"required": ["message"]
			}`),
		},
		{
			Name:        "file_read",
			Description: "Read file contents. Returns the file content with line numbers.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "File path relative to the working directory"
					},
					"start_line": {
						"type": "integer",
						"description": "Optional 1-based start line"
					},
					"end_line": {
						"type": "integer",
						"description": "Optional 1-based end line"
					}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        "file_write",
			Description: "Write content to a file. Creates parent directories if needed.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "File path relative to the working directory"
					},
					"content": {
						"type": "string",
						"description": "Content to write"
					}
				},
				"required": ["path", "content"]
			}`),
		},
		{
			Name:        "file_edit",
			Description: "Apply a search-and-replace edit to a file. Finds the first occurrence of search text and replaces it.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "File path relative to the working directory"
					},
					"search": {
						"type": "string",
						"description": "Text to find (exact match)"
					},
					"replace": {
						"type": "string",
						"description": "Replacement text"
					}
				},
				"required": ["path", "search", "replace"]
			}`),
		},
		{
			Name:        "file_list",
			Description: "List files and directories in a path. Like 'ls' or 'find'.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "Directory path to list (default: working directory root)"
					},
					"recursive": {
						"type": "boolean",
						"description": "If true, list recursively"
					},
					"pattern": {
						"type": "string",
						"description": "Optional glob pattern to filter results"
					}
				},
				"required": []
			}`),
		},
		{
			Name:        "file_search",
			Description: "Search for text content across files using grep-like matching.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {
						"type": "string",
						"description": "Search pattern (regex supported)"
					},
					"path": {
						"type": "string",
						"description": "Optional path to restrict search to"
					},
					"include": {
						"type": "string",
						"description": "Optional file glob to include (e.g., '*.go')"
					}
				},
				"required": ["pattern"]
			}`),
		},
		{
			Name:        "shell_exec",
			Description: "Execute a shell command in the working directory. Use sparingly and prefer specific tools when available.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {
						"type": "string",
						"description": "Shell command to execute"
					},
					"timeout_seconds": {
						"type": "integer",
						"description": "Maximum execution time in seconds (default: 120)"
					}
				},
				"required": ["command"]
			}`),
		},
	}
}

// ToolNames returns the names of every tool SubconsciousTools exposes.
func ToolNames() []string {
	tools := SubconsciousTools()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// FilterTools returns only the tools whose names are in allowed. A nil or
// empty allowed list returns every tool.
func FilterTools(allowed []string) []llm.ToolDef {
	if len(allowed) == 0 {
		return SubconsciousTools()
	}

	allowMap := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowMap[name] = true
	}

	var filtered []llm.ToolDef
	for _, t := range SubconsciousTools() {
		if allowMap[t.Name] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// APIConfig is the llm.Client construction config for a single agent
// backend, decoded from the "api" block of a backends.json entry.
type APIConfig struct {
	APIType        string            `json:"api_type"`
	APIKey         string            `json:"api_key,omitempty"`
	BaseURL        string            `json:"base_url,omitempty"`
	Model          string            `json:"model"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ContextWindow  int               `json:"context_window,omitempty"`
	SupportsTools  bool              `json:"supports_tools,omitempty"`
	SupportsVision bool              `json:"supports_vision,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// APIRetryConfig matches the "retry" object inside a backends.json entry.
type APIRetryConfig struct {
	MaxRetries       int `json:"max_retries,omitempty"`
	InitialBackoffMS int `json:"initial_backoff_ms,omitempty"`
	MaxBackoffMS     int `json:"max_backoff_ms,omitempty"`
}

// BackendsFile is the --agents-config document cmd/agora run reads: a
// named set of llm.Client backends, one of which is selected by --agent
// and handed to wiring.BuildRoles.
type BackendsFile struct {
	Version int                       `json:"version"`
	Agents  map[string]*BackendEntry `json:"agents"`
}

// BackendEntry names one backend; its "api" block is decoded lazily by
// Resolve so a malformed sibling entry doesn't block loading the rest of
// the file.
type BackendEntry struct {
	Name string          `json:"name"`
	API  json.RawMessage `json:"api,omitempty"`
}

// ResolvedBackend is a normalized backend definition ready to build an
// llm.Client from.
type ResolvedBackend struct {
	ID    string
	Name  string
	API   *APIConfig
	Retry *APIRetryConfig
}

// LoadBackendsFile reads and parses a backends.json document.
func LoadBackendsFile(path string) (*BackendsFile, error) {
	if path == "" {
		return nil, fmt.Errorf("agents config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agents config: %w", err)
	}

	var f BackendsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing agents config JSON: %w", err)
	}

	if f.Version <= 0 {
		return nil, fmt.Errorf("invalid agents config version: %d", f.Version)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("agents config has no agents")
	}

	return &f, nil
}

// Resolve decodes and validates the "api"/"retry" blocks of the entry
// named id.
func (f *BackendsFile) Resolve(id string) (*ResolvedBackend, error) {
	if f == nil {
		return nil, fmt.Errorf("agents config is nil")
	}
	if id == "" {
		return nil, fmt.Errorf("agent id is empty")
	}
	entry, ok := f.Agents[id]
	if !ok || entry == nil {
		return nil, fmt.Errorf("agent %q not found in agents config", id)
	}

	apiCfg, retryCfg, err := parseAPIConfigAndRetry(entry.API)
	if err != nil {
		return nil, fmt.Errorf("agent %q api config: %w", id, err)
	}

	return &ResolvedBackend{
		ID:    id,
		Name:  entry.Name,
		API:   apiCfg,
		Retry: retryCfg,
	}, nil
}

// parseAPIConfigAndRetry decodes raw into an APIConfig, pulling the
// optional "retry" sub-object out first so APIConfig itself stays free of
// a field only meaningful at load time.
func parseAPIConfigAndRetry(raw json.RawMessage) (*APIConfig, *APIRetryConfig, error) {
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("missing api block")
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("parsing api object: %w", err)
	}

	var retry *APIRetryConfig
	if rv, ok := m["retry"]; ok && rv != nil {
		b, err := json.Marshal(rv)
		if err == nil {
			var r APIRetryConfig
			if err := json.Unmarshal(b, &r); err == nil {
				if r.MaxRetries > 0 || r.InitialBackoffMS > 0 || r.MaxBackoffMS > 0 {
					retry = &r
				}
			}
		}
		delete(m, "retry")
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, retry, fmt.Errorf("re-encoding api object: %w", err)
	}

	var api APIConfig
	if err := json.Unmarshal(b, &api); err != nil {
		return nil, retry, fmt.Errorf("parsing api config: %w", err)
	}

	if api.APIType == "" {
		return nil, retry, fmt.Errorf("api.api_type is required")
	}
	if api.Model == "" {
		return nil, retry, fmt.Errorf("api.model is required")
	}
	// base_url is not checked here; llm.NewClient rejects an empty one and
	// applies no api_type-specific default.

	return &api, retry, nil
}

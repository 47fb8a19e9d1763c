// Package types defines the public data model for the FlagKit SDK:
// flag states, evaluation results, evaluation contexts, and the wire
// formats exchanged with the FlagKit API.
package types

import (
	"encoding/json"
	"time"
)

// FlagType represents the type of a flag value.
type FlagType string

const (
	FlagTypeBoolean FlagType = "boolean"
	FlagTypeString  FlagType = "string"
	FlagTypeNumber  FlagType = "number"
	FlagTypeJSON    FlagType = "json"
)

// EvaluationReason represents the reason for an evaluation result.
type EvaluationReason string

const (
	ReasonCached       EvaluationReason = "CACHED"
	ReasonStaleCache   EvaluationReason = "STALE_CACHE"
	ReasonBootstrap    EvaluationReason = "BOOTSTRAP"
	ReasonServer       EvaluationReason = "SERVER"
	ReasonDefault      EvaluationReason = "DEFAULT"
	ReasonFlagNotFound EvaluationReason = "FLAG_NOT_FOUND"
	ReasonTypeMismatch EvaluationReason = "TYPE_MISMATCH"
	ReasonDisabled     EvaluationReason = "DISABLED"
	ReasonOffline      EvaluationReason = "OFFLINE"
	ReasonError        EvaluationReason = "ERROR"
)

// FlagState represents the state of a feature flag as delivered by the
// server. The flag type is stable for a given key across versions; the
// evaluator treats a type change as a mismatch, never as a coercion.
type FlagState struct {
	Key          string   `json:"key"`
	Value        any      `json:"value"`
	Enabled      bool     `json:"enabled"`
	Version      int      `json:"version"`
	FlagType     FlagType `json:"flagType"`
	LastModified string   `json:"lastModified"`
}

// EvaluationResult represents the result of evaluating a flag.
// Results are immutable after construction.
type EvaluationResult struct {
	FlagKey   string           `json:"flagKey"`
	Value     any              `json:"value"`
	Enabled   bool             `json:"enabled"`
	Reason    EvaluationReason `json:"reason"`
	Version   int              `json:"version"`
	Timestamp time.Time        `json:"timestamp"`
}

// BoolValue returns the value as a boolean.
func (r *EvaluationResult) BoolValue() bool {
	if v, ok := r.Value.(bool); ok {
		return v
	}
	return false
}

// StringValue returns the value as a string.
func (r *EvaluationResult) StringValue() string {
	if v, ok := r.Value.(string); ok {
		return v
	}
	return ""
}

// Float64Value returns the value as a float64.
func (r *EvaluationResult) Float64Value() float64 {
	switch v := r.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// IntValue returns the value as an int.
func (r *EvaluationResult) IntValue() int {
	switch v := r.Value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}

// JSONValue returns the value as a map.
func (r *EvaluationResult) JSONValue() map[string]any {
	if v, ok := r.Value.(map[string]any); ok {
		return v
	}
	return nil
}

// InitMetadata carries SDK version guidance from the init endpoint.
type InitMetadata struct {
	SDKVersionMin         string `json:"sdkVersionMin"`
	SDKVersionRecommended string `json:"sdkVersionRecommended"`
	SDKVersionLatest      string `json:"sdkVersionLatest"`
	DeprecationWarning    string `json:"deprecationWarning"`
}

// InitResponse represents the response from the init endpoint.
type InitResponse struct {
	Flags                  []FlagState   `json:"flags"`
	Environment            string        `json:"environment"`
	EnvironmentID          string        `json:"environmentId"`
	ServerTime             string        `json:"serverTime"`
	PollingIntervalSeconds int           `json:"pollingIntervalSeconds"`
	Metadata               *InitMetadata `json:"metadata,omitempty"`
}

// UpdatesResponse represents the response from the updates endpoint.
// CheckedAt is an opaque server timestamp carried forward on the next poll.
type UpdatesResponse struct {
	Flags     []FlagState `json:"flags"`
	CheckedAt string      `json:"checkedAt"`
	Since     string      `json:"since"`
}

// EventsBatchResponse represents the response from the events batch endpoint.
type EventsBatchResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Recorded int    `json:"recorded"`
	Errors   int    `json:"errors"`
}

// StreamTokenResponse is the response from the stream token endpoint.
// ExpiresIn is in seconds.
type StreamTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// ParseInitResponse parses JSON data into an InitResponse.
func ParseInitResponse(data []byte) (*InitResponse, error) {
	var resp InitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ParseUpdatesResponse parses JSON data into an UpdatesResponse.
func ParseUpdatesResponse(data []byte) (*UpdatesResponse, error) {
	var resp UpdatesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InferFlagType infers the flag type from a value.
func InferFlagType(value any) FlagType {
	switch value.(type) {
	case bool:
		return FlagTypeBoolean
	case string:
		return FlagTypeString
	case int, int32, int64, float32, float64, json.Number:
		return FlagTypeNumber
	default:
		return FlagTypeJSON
	}
}

// CreateDefaultResult builds a result carrying the caller's default value.
func CreateDefaultResult(key string, defaultValue any, reason EvaluationReason) *EvaluationResult {
	return &EvaluationResult{
		FlagKey:   key,
		Value:     defaultValue,
		Enabled:   false,
		Reason:    reason,
		Version:   0,
		Timestamp: time.Now(),
	}
}

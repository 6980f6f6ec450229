package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MessageType identifies one entry of the wire message catalog (spec
// §6 "Telemetry bus"). Identifier strings are part of the wire
// contract and must not be renamed once shipped.
type MessageType string

// Client → core.
const (
	MsgGetRoutes              MessageType = "get-routes"
	MsgGetManifest            MessageType = "get-manifest"
	MsgGetConfig              MessageType = "get-config"
	MsgRequestImmediateStats  MessageType = "request-immediate-stats"
	MsgCreateRoute            MessageType = "create-route"
	MsgValidateRouteConflicts MessageType = "validate-route-conflicts"
)

// Core → client.
const (
	MsgRoutes                 MessageType = "routes"
	MsgUpdateManifest         MessageType = "update-manifest"
	MsgConfig                 MessageType = "config"
	MsgManifestUpdate         MessageType = "manifest-update"
	MsgLogEntry               MessageType = "log-entry"
	MsgBuildStatus            MessageType = "build-status"
	MsgBuildStats             MessageType = "build-stats"
	MsgDevServerStats         MessageType = "dev-server-stats"
	MsgServerStats            MessageType = "server-stats"
	MsgRouteCreated           MessageType = "route-created"
	MsgRouteCreateError       MessageType = "route-create-error"
	MsgRouteConflictsValidated MessageType = "route-conflicts-validated"
)

// The two wire encodings studio.statsEncoding selects between.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// envelope is the outer shape of every message on the studio socket:
// a type tag plus an opaque, per-type payload.
type envelope struct {
	Type    MessageType `json:"type" msgpack:"type"`
	Payload interface{} `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

func encodeEnvelope(env *envelope, encoding string) ([]byte, error) {
	if encoding == EncodingMsgpack {
		return msgpack.Marshal(env)
	}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte, encoding string) (*envelope, error) {
	var env envelope
	var err error
	if encoding == EncodingMsgpack {
		err = msgpack.Unmarshal(data, &env)
	} else {
		err = json.Unmarshal(data, &env)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: decoding envelope: %w", err)
	}
	return &env, nil
}

// decodePayload re-marshals env.Payload (already decoded into a generic
// interface{} by the envelope decode) into dst, since Go's dynamic
// decode of Payload leaves it as a map[string]interface{}.
func decodePayload(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// CreateRoutePayload is the create-route request body.
type CreateRoutePayload struct {
	Path     string `json:"path"`
	Method   string `json:"method,omitempty"`
	Env      string `json:"env,omitempty"`
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
	Code     string `json:"code"`
}

// ValidateRouteConflictsPayload is the validate-route-conflicts
// request body.
type ValidateRouteConflictsPayload struct {
	Path   string `json:"path"`
	Method string `json:"method,omitempty"`
}

// RouteConflictsValidatedPayload is the route-conflicts-validated
// response body.
type RouteConflictsValidatedPayload struct {
	HasConflicts bool     `json:"hasConflicts"`
	Conflicts    []string `json:"conflicts"`
}

// RouteCreatedPayload is the route-created response body.
type RouteCreatedPayload struct {
	Success bool `json:"success"`
}

// BuildStatusPayload is the build-status push.
type BuildStatusPayload struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// LogEntry is the log-entry push.
type LogEntry struct {
	ID         string                 `json:"id"`
	Timestamp  int64                  `json:"timestamp"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Args       []interface{}          `json:"args,omitempty"`
	Source     string                 `json:"source"`
	CallerInfo string                 `json:"callerInfo,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// ServerStatsPayload is the server-stats push.
type ServerStatsPayload struct {
	Uptime      float64 `json:"uptime"`
	MemoryUsage uint64  `json:"memoryUsage"`
	CPUUsage    float64 `json:"cpuUsage"`
	NumGoroutine int    `json:"numGoroutine"`
}

// ManifestUpdatePayload is the manifest-update push.
type ManifestUpdatePayload struct {
	Timestamp int64 `json:"timestamp"`
}

// Package config loads a user config document in any of several
// formats, overlays CLI and environment overrides, validates, diffs
// reloads, and watches the file for changes.
package config

// Options is the merged user configuration. Unknown keys in the source
// document are kept only in the Provider's merged raw document and do
// not appear as typed fields. The json tags double as the shape
// telemetry's get-config response serializes to the external UI
// collaborator.
type Options struct {
	Debug  bool                   `mapstructure:"debug" json:"debug"`
	Server ServerOptions          `mapstructure:"server" json:"server"`
	CORS   map[string]interface{} `mapstructure:"cors" json:"cors,omitempty"`
	Build  BuildOptions           `mapstructure:"build" json:"build"`
	Hooks  map[string]interface{} `mapstructure:"hooks" json:"hooks,omitempty"`
	Studio StudioOptions          `mapstructure:"studio" json:"studio"`
	CLI    CLIOptions             `mapstructure:"_cli" json:"_cli"`
	Env    string                 `mapstructure:"_env" json:"_env"`
}

// ServerOptions is the `server.*` key group.
type ServerOptions struct {
	Host    string         `mapstructure:"host" json:"host"`
	Port    int            `mapstructure:"port" json:"port"`
	Request RequestOptions `mapstructure:"request" json:"request"`
}

// RequestOptions is the `server.request.*` key group.
type RequestOptions struct {
	MaxBodySize int64              `mapstructure:"maxBodySize" json:"maxBodySize"`
	QueryParser QueryParserOptions `mapstructure:"queryParser" json:"queryParser"`
}

// QueryParserOptions is the `server.request.queryParser.*` key group,
// opt-in type coercion on query string values.
type QueryParserOptions struct {
	Array   ArrayParserOptions `mapstructure:"array" json:"array"`
	Number  ToggleOptions      `mapstructure:"number" json:"number"`
	Boolean ToggleOptions      `mapstructure:"boolean" json:"boolean"`
}

// ArrayParserOptions is `server.request.queryParser.array.*`.
type ArrayParserOptions struct {
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	Delimiter string `mapstructure:"delimiter" json:"delimiter"`
}

// ToggleOptions is a bare on/off switch, used for the number and boolean
// query coercion groups.
type ToggleOptions struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// BuildOptions is the `build.*` key group. Builder is an extension
// point naming the compiler back-end; it is not part of core semantics.
type BuildOptions struct {
	Builder string `mapstructure:"builder" json:"builder"`
}

// StudioOptions is the `studio.*` key group gating the telemetry
// fan-out. Addr is the local socket it listens on for the external UI
// collaborator; StatsEncoding picks the wire encoding for outbound
// stats messages ("json" or "msgpack").
type StudioOptions struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	Addr          string `mapstructure:"addr" json:"addr"`
	StatsEncoding string `mapstructure:"statsEncoding" json:"statsEncoding"`
}

// CLIOptions mirrors the internal `_cli.*` keys set by the entry point.
type CLIOptions struct {
	Command string `mapstructure:"command" json:"command"` // "dev" | "build" | "start"
}

// Default returns the built-in defaults that a loaded document is
// overlaid on top of.
func Default() Options {
	return Options{
		Server: ServerOptions{
			Host: "localhost",
			Port: 8080,
			Request: RequestOptions{
				MaxBodySize: 2 << 20, // 2MiB
			},
		},
		Build: BuildOptions{
			Builder: "goplugin",
		},
		Studio: StudioOptions{
			Addr:          "localhost:3001",
			StatsEncoding: "json",
		},
	}
}

// CriticalKeys are the dotted keys whose change forces a full restart
// rather than a soft apply.
var CriticalKeys = map[string]bool{
	"server.port":    true,
	"server.host":    true,
	"studio.enabled": true,
}

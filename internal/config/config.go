// Package config loads the client and server multiplexers' construction
// options from a YAML settings file, with optional hot-reload via fsnotify.
package config

// file: internal/config/config.go

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fastrpc/fast/internal/fasterror"
	"github.com/fastrpc/fast/internal/wire"
)

// ClientSettings holds the client-site scalar construction options
// (`crc_mode`, `nRecentRequests`); `transport` and `collector` are supplied
// programmatically, not via the settings file, since they are live objects
// rather than scalar configuration.
type ClientSettings struct {
	// CRCMode must resolve to V1 or V2; V1_V2 is rejected at Validate time.
	CRCMode wire.CRCMode `yaml:"crc_mode"`
	// NRecentRequests sizes the recently-completed request ring used for
	// late-arrival diagnosis.
	NRecentRequests int `yaml:"n_recent_requests"`
}

// ServerSettings holds the server-site scalar construction options
// (`crc_mode`); the listening transport is supplied programmatically.
type ServerSettings struct {
	// CRCMode may be V1, V2, or V1_V2.
	CRCMode wire.CRCMode `yaml:"crc_mode"`
	// ListenAddress is the address a cmd/example wiring binds its listener
	// to; the core itself never dials or listens.
	ListenAddress string `yaml:"listen_address"`
}

// Settings is the top-level configuration document.
type Settings struct {
	Client ClientSettings `yaml:"client"`
	Server ServerSettings `yaml:"server"`
}

// Default returns sensible out-of-the-box defaults: V1 everywhere (the
// spec's own default resolution when no CRC mode is configured), a
// 64-entry recent-request ring, and a loopback listen address.
func Default() *Settings {
	return &Settings{
		Client: ClientSettings{
			CRCMode:         wire.CRCModeV1,
			NRecentRequests: 64,
		},
		Server: ServerSettings{
			CRCMode:       wire.CRCModeV1,
			ListenAddress: "127.0.0.1:0",
		},
	}
}

// Load reads and parses a YAML settings file. Decoding happens on top of
// Default() so that fields the file omits keep their default value instead
// of yaml.v3's zero value.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fasterror.Wrap(err, fasterror.CategoryMisc, "", "failed to read config file", map[string]any{
			"path": path,
		})
	}
	settings := Default()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fasterror.Wrap(err, fasterror.CategoryMisc, "", "failed to parse config file", map[string]any{
			"path": path,
		})
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the invariants CRC mode construction must satisfy: the
// client must resolve to a concrete variant; the server may additionally use
// the dual-accept mode.
func (s *Settings) Validate() error {
	if !s.Client.CRCMode.LegalAsClientMode() {
		return fasterror.New(fasterror.CategoryInvalidArgument, fasterror.ReasonInvalidArgument, "client crc_mode must be V1 or V2", map[string]any{
			"crc_mode": s.Client.CRCMode.String(),
		})
	}
	if !s.Server.CRCMode.LegalAsServerMode() {
		return fasterror.New(fasterror.CategoryInvalidArgument, fasterror.ReasonInvalidArgument, "server crc_mode must be V1, V2, or V1_V2", map[string]any{
			"crc_mode": s.Server.CRCMode.String(),
		})
	}
	if s.Client.NRecentRequests < 0 {
		return fasterror.New(fasterror.CategoryInvalidArgument, fasterror.ReasonInvalidArgument, "n_recent_requests must not be negative", map[string]any{
			"n_recent_requests": s.Client.NRecentRequests,
		})
	}
	return nil
}

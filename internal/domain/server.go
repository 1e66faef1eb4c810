package domain

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const (
	DefaultBaseURL  = "https://mybinder.org"
	DefaultProvider = "gh"
	DefaultSpec     = "oeway/imjoy-binder-image/master"
)

// ServerConfig describes how a server is (or would be) provisioned.
type ServerConfig struct {
	Name      string `cbor:"1,keyasint"`
	Spec      string `cbor:"2,keyasint"`
	BaseURL   string `cbor:"3,keyasint"`
	Provider  string `cbor:"4,keyasint"`
	DirectURL string `cbor:"5,keyasint"`
}

func (c ServerConfig) WithDefaults() ServerConfig {
	if c.DirectURL != "" {
		return c
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.Spec == "" {
		c.Spec = DefaultSpec
	}
	return c
}

var fingerprintEncMode = mustFingerprintEncMode()

func mustFingerprintEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: building fingerprint encoder: %v", err))
	}
	return mode
}

// Fingerprint is a stable identity of the config: equal configs share it and
// any differing field changes it.
func (c ServerConfig) Fingerprint() string {
	data, err := fingerprintEncMode.Marshal(c)
	if err != nil {
		// Five string fields always encode.
		panic(fmt.Sprintf("cbor: encoding server config: %v", err))
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

type ServerEntry struct {
	Fingerprint string
	URL         string
	Token       string
}

func (e ServerEntry) Settings() ServerSettings {
	return ServerSettings{BaseURL: e.URL, Token: e.Token}
}

// ServerSettings is what clients need to talk to a provisioned server.
type ServerSettings struct {
	BaseURL string
	Token   string
}

// WSURL derives the websocket base from the HTTP base URL.
func (s ServerSettings) WSURL() string {
	switch {
	case strings.HasPrefix(s.BaseURL, "https:"):
		return "wss:" + strings.TrimPrefix(s.BaseURL, "https:")
	case strings.HasPrefix(s.BaseURL, "http:"):
		return "ws:" + strings.TrimPrefix(s.BaseURL, "http:")
	default:
		return s.BaseURL
	}
}

// ServerName is the short label shown for a server URL: the host when the
// server lives at the root, the path otherwise.
func ServerName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.Path == "" || parsed.Path == "/" {
		return parsed.Hostname()
	}
	return parsed.Path
}

package toml

import "fmt"

const currentSchemaVersion = 1

func applyDefaultVersion(version *int) {
	if *version == 0 {
		*version = currentSchemaVersion
	}
}

func validateVersion(label string, version int) error {
	if version > currentSchemaVersion {
		return fmt.Errorf("unsupported %s schema version %d (current %d)", label, version, currentSchemaVersion)
	}

	return nil
}

type serversFileSchema struct {
	Version int            `toml:"version"`
	Servers []serverSchema `toml:"servers"`
}

type serverSchema struct {
	Fingerprint string `toml:"fingerprint"`
	URL         string `toml:"url"`
	Token       string `toml:"token"`
}

type kernelsFileSchema struct {
	Version int            `toml:"version"`
	Kernels []kernelSchema `toml:"kernels"`
}

type kernelSchema struct {
	Key      string `toml:"key"`
	BaseURL  string `toml:"base_url"`
	Token    string `toml:"token"`
	KernelID string `toml:"kernel_id"`
}

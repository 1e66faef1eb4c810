package domain

type KernelStatus string

const (
	KernelStatusStarting KernelStatus = "starting"
	KernelStatusIdle     KernelStatus = "idle"
	KernelStatusBusy     KernelStatus = "busy"
	KernelStatusDead     KernelStatus = "dead"
)

func (s KernelStatus) Alive() bool {
	return s != KernelStatusDead
}

// KernelEntry is the persisted mapping from a caller key to a remote kernel.
type KernelEntry struct {
	Key      string
	BaseURL  string
	Token    string
	KernelID string
}

func (e KernelEntry) Settings() ServerSettings {
	return ServerSettings{BaseURL: e.BaseURL, Token: e.Token}
}

// Matches reports whether the entry was recorded against the same server.
func (e KernelEntry) Matches(settings ServerSettings) bool {
	return e.BaseURL == settings.BaseURL && e.Token == settings.Token
}

type KernelSpecs struct {
	Default string
	Names   []string
}

type KernelModel struct {
	ID             string
	Name           string
	ExecutionState string
}

type StreamOutput struct {
	Name string
	Text string
}

// KernelLabel links a running kernel back to the plugin using it.
type KernelLabel struct {
	PluginID   string
	PluginName string
}

type ProcessInfo struct {
	KernelID  string
	Key       string
	Name      string
	PluginID  string
	ServerURL string
	Status    KernelStatus
}

type DirectoryEntry struct {
	Name string
	Path string
	Type string
}

type Directory struct {
	Name     string
	Path     string
	Type     string
	Children []DirectoryEntry
}

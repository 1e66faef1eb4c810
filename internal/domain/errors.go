package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrServerNotFound   = errors.New("server not found")
	ErrKernelNotCached  = errors.New("kernel not cached")
	ErrKernelNotFound   = errors.New("kernel not found")
	ErrStaleMapping     = errors.New("stale kernel mapping")
	ErrChannelLost      = errors.New("channel lost")
	ErrNotSupported     = errors.New("operation not supported")
	ErrConnectionClosed = errors.New("connection closed")
	ErrProvisioning     = errors.New("provisioning failed")
)

// StaleMappingError reports a cached kernel recorded against different
// server settings than the ones requested.
type StaleMappingError struct {
	Key      string
	Cached   ServerSettings
	Provided ServerSettings
}

func (e *StaleMappingError) Error() string {
	return fmt.Sprintf("kernel %q cached for %s, requested %s", e.Key, e.Cached.BaseURL, e.Provided.BaseURL)
}

func (e *StaleMappingError) Unwrap() error {
	return ErrStaleMapping
}

type ProvisioningError struct {
	Phase   string
	Message string
	Err     error
}

func (e *ProvisioningError) Error() string {
	var b strings.Builder
	b.WriteString("provision server")
	if e.Phase != "" {
		b.WriteString(" (" + e.Phase + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ProvisioningError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvisioning}
	}
	return []error{ErrProvisioning, e.Err}
}

type UnsupportedRequirementTypeError struct {
	Type        string
	Requirement string
}

func (e *UnsupportedRequirementTypeError) Error() string {
	return fmt.Sprintf("unsupported requirement type: %s", e.Type)
}

// ExecutionError carries the error reported by code running in a kernel.
type ExecutionError struct {
	Name      string
	Value     string
	Traceback []string
}

func (e *ExecutionError) Error() string {
	if e.Name == "" {
		return "execution failed: " + e.Value
	}
	return fmt.Sprintf("execution failed: %s: %s", e.Name, e.Value)
}

type LivenessError struct {
	Target string
	Err    error
}

func (e *LivenessError) Error() string {
	return fmt.Sprintf("%s is not alive: %v", e.Target, e.Err)
}

func (e *LivenessError) Unwrap() error {
	return e.Err
}

package application

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
)

// FileManager exposes a server's contents API. Uploads and removals are not
// offered by the server side and fail fast.
type FileManager struct {
	settings  domain.ServerSettings
	contents  ports.ContentsBrowser
	transport ports.KernelTransport
}

func NewFileManager(settings domain.ServerSettings, contents ports.ContentsBrowser, transport ports.KernelTransport) *FileManager {
	return &FileManager{settings: settings, contents: contents, transport: transport}
}

func (f *FileManager) URL() string {
	return f.settings.BaseURL
}

func (f *FileManager) Name() string {
	return domain.ServerName(f.settings.BaseURL)
}

func (f *FileManager) ListFiles(ctx context.Context, path string) (domain.Directory, error) {
	if f.contents == nil {
		return domain.Directory{}, fmt.Errorf("list files: %w", domain.ErrNotSupported)
	}
	dir, err := f.contents.ListContents(ctx, f.settings, path)
	if err != nil {
		return domain.Directory{}, fmt.Errorf("list files %q: %w", path, err)
	}
	return dir, nil
}

// FileURL is the browser viewer link for a file on the server.
func (f *FileManager) FileURL(path string) string {
	base := f.settings.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	escaped := (&url.URL{Path: strings.TrimPrefix(path, "/")}).EscapedPath()
	return base + "view/" + escaped + "?token=" + url.QueryEscape(f.settings.Token)
}

func (f *FileManager) Heartbeat(ctx context.Context) bool {
	_, err := f.transport.KernelSpecs(ctx, f.settings)
	return err == nil
}

func (f *FileManager) UploadURL(context.Context, string) (string, error) {
	return "", domain.ErrNotSupported
}

func (f *FileManager) Upload(context.Context, string, []byte) error {
	return domain.ErrNotSupported
}

func (f *FileManager) Remove(context.Context, string) error {
	return domain.ErrNotSupported
}

package jupyter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
)

type contentsModel struct {
	Name    string          `json:"name"`
	Path    string          `json:"path"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// ListContents fetches one level of the server's contents tree.
func (t *Transport) ListContents(ctx context.Context, settings domain.ServerSettings, path string) (domain.Directory, error) {
	var payload contentsModel
	endpoint := "api/contents/" + escapeContentsPath(path) + "?content=1"
	if err := t.do(ctx, settings, http.MethodGet, endpoint, nil, &payload); err != nil {
		return domain.Directory{}, fmt.Errorf("list contents %q: %w", path, err)
	}

	dir := domain.Directory{Name: payload.Name, Path: payload.Path, Type: payload.Type}
	if payload.Type != "directory" || len(payload.Content) == 0 {
		return dir, nil
	}

	var children []contentsModel
	if err := json.Unmarshal(payload.Content, &children); err != nil {
		return domain.Directory{}, fmt.Errorf("decode contents %q: %w", path, err)
	}
	dir.Children = make([]domain.DirectoryEntry, 0, len(children))
	for _, child := range children {
		dir.Children = append(dir.Children, domain.DirectoryEntry{Name: child.Name, Path: child.Path, Type: child.Type})
	}
	return dir, nil
}

func escapeContentsPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

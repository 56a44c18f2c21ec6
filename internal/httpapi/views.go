package httpapi

import (
	"errors"

	"github.com/booltox/toolhost/internal/broadcast"
	"github.com/booltox/toolhost/internal/manifest"
	"github.com/booltox/toolhost/internal/registry"
)

type toolView struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Version     string           `json:"version,omitempty"`
	Description string           `json:"description,omitempty"`
	Author      string           `json:"author,omitempty"`
	Category    string           `json:"category,omitempty"`
	Kind        string           `json:"kind"`
	Protocol    string           `json:"protocol"`
	Permissions []string         `json:"permissions"`
	Path        string           `json:"path"`
	Status      broadcast.Status `json:"status"`
	Dev         bool             `json:"dev"`
	Source      registry.Source  `json:"source"`
	Port        int              `json:"port,omitempty"`
}

func newToolView(t *registry.Tool) toolView {
	m := t.Manifest
	v := toolView{
		ID:          t.ID,
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Author:      m.Author,
		Category:    m.Category,
		Kind:        string(m.Kind()),
		Protocol:    m.Protocol,
		Permissions: m.Permissions,
		Path:        t.Path,
		Status:      t.Status,
		Dev:         t.Dev,
		Source:      t.Source,
	}
	if rt, ok := m.Runtime.(*manifest.HTTPServiceRuntime); ok {
		v.Port = rt.Backend.Port
	}
	return v
}

type rejectionView struct {
	Path   string                `json:"path"`
	Error  string                `json:"error"`
	Reason string                `json:"reason,omitempty"`
	Fields []manifest.FieldError `json:"fields,omitempty"`
}

func rejectionViews(rs []registry.Rejection) []rejectionView {
	out := make([]rejectionView, 0, len(rs))
	for _, r := range rs {
		v := rejectionView{Path: r.Path}
		if r.Err != nil {
			v.Error = r.Err.Error()
		}
		var merr *manifest.Error
		if errors.As(r.Err, &merr) {
			v.Reason = string(merr.Reason)
			v.Fields = merr.Fields
		}
		out = append(out, v)
	}
	return out
}

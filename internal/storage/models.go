package storage

import (
	"encoding/json"
	"time"
)

// Bucket names for bbolt database
const (
	ToolRefsBucket   = "tool_refs"
	DepMarkersBucket = "dep_markers"
	MetaBucket       = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
)

// Current schema version
const CurrentSchemaVersion = 1

// ToolRefRecord is a tool directory the user added by hand, outside the
// scanned tool directories.
type ToolRefRecord struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	AddedAt time.Time `json:"added_at"`
}

// DepMarkerRecord remembers what was installed for a tool's dependencies so
// a later launch can tell whether setup must run again.
type DepMarkerRecord struct {
	ToolID           string    `json:"tool_id"`
	RequirementsPath string    `json:"requirements_path"`
	RequirementsHash string    `json:"requirements_hash"`
	Interpreter      string    `json:"interpreter,omitempty"`
	InstalledAt      time.Time `json:"installed_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler
func (r *ToolRefRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (r *ToolRefRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (m *DepMarkerRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (m *DepMarkerRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, m)
}

package api

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/holt/lattice/internal/apperr"
	"github.com/holt/lattice/internal/checksum"
	"github.com/holt/lattice/internal/codec"
	"github.com/holt/lattice/internal/graph"
)

// NodeDetail is the full node response type.
type NodeDetail struct {
	ID          string         `json:"id"`
	Path        string         `json:"path"`
	IsContainer bool           `json:"isContainer"`
	Title       string         `json:"title"`
	Metadata    map[string]any `json:"metadata"`
	Body        string         `json:"body,omitempty"`
	Checksum    string         `json:"checksum,omitempty"`
}

// EdgeDTO is one directed edge in the graph response.
type EdgeDTO struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// GraphResponse carries the materialized graph.
type GraphResponse struct {
	Nodes     []NodeDetail `json:"nodes"`
	HardEdges []EdgeDTO    `json:"hardEdges"`
	SoftEdges []EdgeDTO    `json:"softEdges"`
}

// CreateNodeRequest is the request body for creating a node.
type CreateNodeRequest struct {
	ParentPath  string         `json:"parentPath"`
	Name        string         `json:"name"`
	IsContainer bool           `json:"isContainer"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Body        *string        `json:"body,omitempty"`
}

// UpdateNodeRequest is the request body for patching a node.
type UpdateNodeRequest struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Body     *string        `json:"body,omitempty"`
}

// MoveRequest names a source and destination path.
type MoveRequest struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

// EdgeRequest identifies a soft link by its endpoints.
type EdgeRequest struct {
	SourcePath string `json:"sourcePath"`
	TargetID   string `json:"targetId"`
}

// TaskDTO mirrors the nested task object on the wire.
type TaskDTO struct {
	Status        string `json:"status,omitempty"`
	Priority      string `json:"priority,omitempty"`
	Assignee      string `json:"assignee,omitempty"`
	DueDate       string `json:"dueDate,omitempty"`
	CompletedDate string `json:"completedDate,omitempty"`
	Description   string `json:"description,omitempty"`
}

// nodeDetail renders a node. The checksum covers the serialized document
// and backs If-Match preconditions; containers have none.
func nodeDetail(n *graph.Node) NodeDetail {
	d := NodeDetail{
		ID:          n.ID,
		Path:        n.Path,
		IsContainer: n.IsContainer,
		Title:       n.Label(),
		Metadata:    metaToJSON(n.Meta),
		Body:        n.Body,
	}
	if !n.IsContainer {
		d.Checksum = checksum.Sum([]byte(codec.Serialize(n.Meta, n.Body)))
	}
	return d
}

func metaToJSON(m *codec.Metadata) map[string]any {
	out := make(map[string]any, m.Len())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		if task, ok := v.(*codec.Task); ok {
			out[k] = TaskDTO{
				Status:        task.Status,
				Priority:      task.Priority,
				Assignee:      task.Assignee,
				DueDate:       task.DueDate,
				CompletedDate: task.CompletedDate,
				Description:   task.Description,
			}
			continue
		}
		out[k] = v
	}
	return out
}

// jsonToPatch converts a JSON metadata object into a patch. Nulls pass
// through as deletions; the task object becomes a typed value.
func jsonToPatch(raw map[string]any) (*codec.Metadata, error) {
	// JSON objects carry no order; sort keys so newly added metadata
	// lands in a stable order in the document.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	patch := codec.NewMetadata()
	for _, k := range keys {
		v := raw[k]
		switch val := v.(type) {
		case nil:
			patch.Set(k, nil)
		case string:
			patch.Set(k, val)
		case float64:
			// Position hints and other numeric scalars store as text.
			patch.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			patch.Set(k, strconv.FormatBool(val))
		case []any:
			list := make([]string, 0, len(val))
			for _, item := range val {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("api: metadata key %q: list items must be strings: %w", k, apperr.ErrValidation)
				}
				list = append(list, s)
			}
			patch.Set(k, list)
		case map[string]any:
			if k != codec.KeyTask {
				return nil, fmt.Errorf("api: metadata key %q: nested objects are only allowed under %q: %w", k, codec.KeyTask, apperr.ErrValidation)
			}
			task := &codec.Task{}
			if s, ok := val["status"].(string); ok {
				task.Status = s
			}
			if s, ok := val["priority"].(string); ok {
				task.Priority = s
			}
			if s, ok := val["assignee"].(string); ok {
				task.Assignee = s
			}
			if s, ok := val["dueDate"].(string); ok {
				task.DueDate = s
			}
			if s, ok := val["completedDate"].(string); ok {
				task.CompletedDate = s
			}
			if s, ok := val["description"].(string); ok {
				task.Description = s
			}
			patch.Set(k, task)
		default:
			return nil, fmt.Errorf("api: metadata key %q: unsupported value type: %w", k, apperr.ErrValidation)
		}
	}
	return patch, nil
}

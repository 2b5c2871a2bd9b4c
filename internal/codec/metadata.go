package codec

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Well-known metadata keys.
const (
	KeyID       = "id"
	KeyTitle    = "title"
	KeyType     = "type"
	KeyCreated  = "created"
	KeyModified = "modified"
	KeyLinks    = "links"
	KeyTask     = "task"
)

// Task statuses.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in-progress"
	StatusReview     = "review"
	StatusDone       = "done"
	StatusArchived   = "archived"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Task is the single nested object a document's metadata may carry.
// Empty string means the field is absent.
type Task struct {
	Status        string
	Priority      string
	Assignee      string
	DueDate       string
	CompletedDate string
	Description   string
}

// NewTask returns a Task seeded with the defaults applied before any
// parsed fields are overlaid, so omitted fields are well-defined.
func NewTask() *Task {
	return &Task{Status: StatusTodo, Priority: PriorityMedium}
}

// Clone returns a copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Validate checks status and priority against the recognized values and
// requires every free-text field to be a serializable scalar.
func (t *Task) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Status, validation.Required,
			validation.In(StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusArchived)),
		validation.Field(&t.Priority, validation.Required,
			validation.In(PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent)),
		validation.Field(&t.Assignee, validation.By(scalarField)),
		validation.Field(&t.DueDate, validation.By(scalarField)),
		validation.Field(&t.CompletedDate, validation.By(scalarField)),
		validation.Field(&t.Description, validation.By(scalarField)),
	)
}

func scalarField(v any) error {
	s, _ := v.(string)
	if !ValidScalar(s) {
		return errors.New("must not contain control characters")
	}
	return nil
}

// Merge overlays the non-empty fields of patch onto a copy of t.
// A nil receiver behaves like a freshly seeded task.
func (t *Task) Merge(patch *Task) *Task {
	base := t.Clone()
	if base == nil {
		base = NewTask()
	}
	if patch == nil {
		return base
	}
	if patch.Status != "" {
		base.Status = patch.Status
	}
	if patch.Priority != "" {
		base.Priority = patch.Priority
	}
	if patch.Assignee != "" {
		base.Assignee = patch.Assignee
	}
	if patch.DueDate != "" {
		base.DueDate = patch.DueDate
	}
	if patch.CompletedDate != "" {
		base.CompletedDate = patch.CompletedDate
	}
	if patch.Description != "" {
		base.Description = patch.Description
	}
	return base
}

// Metadata is an ordered key→value map. Values are string scalars,
// []string lists, or a *Task under the "task" key. Insertion order is
// preserved so documents round-trip without key reshuffling.
type Metadata struct {
	om *orderedmap.OrderedMap[string, any]
}

// NewMetadata returns an empty metadata map.
func NewMetadata() *Metadata {
	return &Metadata{om: orderedmap.New[string, any]()}
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return m.om.Len()
}

// Get returns the value for key.
func (m *Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	return m.om.Get(key)
}

// GetString returns the scalar value for key, or "" if absent or not a scalar.
func (m *Metadata) GetString(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set stores a value, preserving the position of an existing key.
func (m *Metadata) Set(key string, v any) {
	m.om.Set(key, v)
}

// Delete removes a key if present.
func (m *Metadata) Delete(key string) {
	m.om.Delete(key)
}

// Keys returns keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, m.om.Len())
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// StringList returns the list value for key, or nil.
func (m *Metadata) StringList(key string) []string {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	l, _ := v.([]string)
	return l
}

// Task returns the nested task object, or nil.
func (m *Metadata) Task() *Task {
	v, ok := m.Get(KeyTask)
	if !ok {
		return nil
	}
	t, _ := v.(*Task)
	return t
}

// Clone returns a deep copy: lists and the task object are copied, so
// mutating the clone never touches the original.
func (m *Metadata) Clone() *Metadata {
	c := NewMetadata()
	if m == nil {
		return c
	}
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		switch v := pair.Value.(type) {
		case []string:
			c.Set(pair.Key, append([]string(nil), v...))
		case *Task:
			c.Set(pair.Key, v.Clone())
		default:
			c.Set(pair.Key, v)
		}
	}
	return c
}

// Equal reports semantic equality: same keys in the same order with
// equal values.
func (m *Metadata) Equal(other *Metadata) bool {
	if m.Len() != other.Len() {
		return false
	}
	if m == nil || other == nil {
		return true
	}
	a, b := m.om.Oldest(), other.om.Oldest()
	for a != nil && b != nil {
		if a.Key != b.Key || !valueEqual(a.Value, b.Value) {
			return false
		}
		a, b = a.Next(), b.Next()
	}
	return a == nil && b == nil
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case []string:
		bv, ok := b.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case *Task:
		bv, ok := b.(*Task)
		if !ok {
			return false
		}
		return *av == *bv
	default:
		return a == b
	}
}

package synth

import (
	"bytes"
	"encoding/json"
	"sort"
)

// ChangeKind classifies a resource change between two templates.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "Add"
	ChangeRemove ChangeKind = "Remove"
	ChangeModify ChangeKind = "Modify"
)

// ResourceChange is one resource that differs between two templates.
type ResourceChange struct {
	LogicalID string     `json:"logical_id"`
	Type      string     `json:"type"`
	Kind      ChangeKind `json:"kind"`
	// Fields lists the changed top-level properties and attributes of a
	// modified resource.
	Fields []string `json:"fields,omitempty"`
}

// Diff compares two templates by logical id. A nil prev template means
// nothing is deployed yet. Metadata is ignored. Changes are sorted by
// logical id.
func Diff(prev, next *Template) []ResourceChange {
	if prev == nil {
		prev = &Template{}
	}
	if next == nil {
		next = &Template{}
	}
	var changes []ResourceChange
	for id, nr := range next.Resources {
		or, ok := prev.Resources[id]
		if !ok {
			changes = append(changes, ResourceChange{LogicalID: id, Type: nr.Type, Kind: ChangeAdd})
			continue
		}
		if fields := changedFields(or, nr); len(fields) > 0 {
			changes = append(changes, ResourceChange{LogicalID: id, Type: nr.Type, Kind: ChangeModify, Fields: fields})
		}
	}
	for id, or := range prev.Resources {
		if _, ok := next.Resources[id]; !ok {
			changes = append(changes, ResourceChange{LogicalID: id, Type: or.Type, Kind: ChangeRemove})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].LogicalID < changes[j].LogicalID })
	return changes
}

func changedFields(a, b Resource) []string {
	var fields []string
	if a.Type != b.Type {
		fields = append(fields, "Type")
	}
	keys := map[string]bool{}
	for k := range a.Properties {
		keys[k] = true
	}
	for k := range b.Properties {
		keys[k] = true
	}
	for k := range keys {
		if !sameJSON(a.Properties[k], b.Properties[k]) {
			fields = append(fields, "Properties."+k)
		}
	}
	if (len(a.DependsOn) > 0 || len(b.DependsOn) > 0) && !sameJSON(a.DependsOn, b.DependsOn) {
		fields = append(fields, "DependsOn")
	}
	if a.DeletionPolicy != b.DeletionPolicy {
		fields = append(fields, "DeletionPolicy")
	}
	if a.UpdateReplacePolicy != b.UpdateReplacePolicy {
		fields = append(fields, "UpdateReplacePolicy")
	}
	sort.Strings(fields)
	return fields
}

// sameJSON compares values by their JSON encoding so that a template read
// back from the provider (numbers as float64) equals a freshly rendered one.
func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

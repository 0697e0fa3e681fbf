package models

import (
	"reflect"
	"sort"
)

// DiffData performs a shallow comparison of two data mappings, ordered by field name.
func DiffData(a, b map[string]interface{}) []FieldDiff {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	diffs := make([]FieldDiff, 0)
	for _, name := range names {
		va, inA := a[name]
		vb, inB := b[name]
		switch {
		case inA && !inB:
			diffs = append(diffs, FieldDiff{Field: name, Change: ChangeRemoved, ValueA: va})
		case !inA && inB:
			diffs = append(diffs, FieldDiff{Field: name, Change: ChangeAdded, ValueB: vb})
		case !reflect.DeepEqual(va, vb):
			diffs = append(diffs, FieldDiff{Field: name, Change: ChangeChanged, ValueA: va, ValueB: vb})
		}
	}
	return diffs
}

// ChangesBetween converts a diff from old to new data into audit field changes.
func ChangesBetween(old, new map[string]interface{}) []FieldChange {
	diffs := DiffData(old, new)
	changes := make([]FieldChange, 0, len(diffs))
	for _, d := range diffs {
		changes = append(changes, FieldChange{Field: d.Field, OldValue: d.ValueA, NewValue: d.ValueB})
	}
	return changes
}

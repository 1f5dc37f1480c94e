// Package compare reads exports back and reports how two of them differ.
package compare

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"registry-harvester/internal/harvest/record"

	"github.com/antzucaro/matchr"
	"github.com/samber/lo"
)

// Table is an export read back from disk.
type Table struct {
	Schema record.Schema
	Rows   [][]string
}

func ReadCSV(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()
	return Read(f)
}

func Read(r io.Reader) (Table, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return Table{}, err
	}
	if len(rows) == 0 {
		return Table{}, errors.New("missing header row")
	}
	return Table{Schema: record.Schema(rows[0]), Rows: rows[1:]}, nil
}

// Get returns the value of `column` in row `i`, or an empty string.
func (t Table) Get(i int, column string) string {
	index := t.Schema.Index(column)
	if index < 0 || index >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][index]
}

func (t Table) byID(identifier string) (map[string]int, []string) {
	index := map[string]int{}
	var order []string
	for i := range t.Rows {
		id := t.Get(i, identifier)
		if _, seen := index[id]; seen {
			continue
		}
		index[id] = i
		order = append(order, id)
	}
	return index, order
}

// Change is one column of one record that differs between two exports.
type Change struct {
	ID     string
	Column string
	Old    string
	New    string
	// Similarity is the Jaro-Winkler similarity of Old and New.
	Similarity float64
}

type Diff struct {
	Added          []string
	Removed        []string
	Changed        []Change
	AddedColumns   []string
	RemovedColumns []string
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 &&
		len(d.Removed) == 0 &&
		len(d.Changed) == 0 &&
		len(d.AddedColumns) == 0 &&
		len(d.RemovedColumns) == 0
}

// Compare matches the rows of two exports by `identifier` and reports the
// records and values that differ, `ignore` lists columns that are expected
// to change on every run (ex. the capture time).
func Compare(old, current Table, identifier string, ignore ...string) (Diff, error) {
	if !old.Schema.Contains(identifier) || !current.Schema.Contains(identifier) {
		return Diff{}, fmt.Errorf("identifier column %q is missing", identifier)
	}

	diff := Diff{
		AddedColumns:   lo.Without(lo.Without(current.Schema, old.Schema...), ignore...),
		RemovedColumns: lo.Without(lo.Without(old.Schema, current.Schema...), ignore...),
	}
	shared := lo.Without(lo.Intersect(old.Schema, current.Schema), ignore...)

	oldIndex, oldOrder := old.byID(identifier)
	newIndex, newOrder := current.byID(identifier)

	for _, id := range newOrder {
		if _, ok := oldIndex[id]; !ok {
			diff.Added = append(diff.Added, id)
		}
	}
	for _, id := range oldOrder {
		j, ok := newIndex[id]
		if !ok {
			diff.Removed = append(diff.Removed, id)
			continue
		}
		i := oldIndex[id]
		for _, column := range current.Schema {
			if !lo.Contains(shared, column) {
				continue
			}
			before, after := old.Get(i, column), current.Get(j, column)
			if before == after {
				continue
			}
			diff.Changed = append(diff.Changed, Change{
				ID:         id,
				Column:     column,
				Old:        before,
				New:        after,
				Similarity: matchr.JaroWinkler(before, after, false),
			})
		}
	}

	return diff, nil
}

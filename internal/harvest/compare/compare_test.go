package compare

import (
	"strings"
	"testing"

	"registry-harvester/internal/harvest/record"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

func mustRead(t *testing.T, contents string) Table {
	table, err := Read(strings.NewReader(contents))
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestCompare(t *testing.T) {
	old := mustRead(t, `adc_number,name,comments,scrape_time_utc
036085,John Doe,Sentenced in 1990.,2024-03-01T12:00:00.000000Z
036366,Richard Roe,,2024-03-01T12:00:01.000000Z
039656,Mary Major,Transferred.,2024-03-01T12:00:02.000000Z
`)
	current := mustRead(t, `adc_number,name,comments,scrape_time_utc,mug_image
036085,John Doe,Sentenced in 1991.,2024-03-02T12:00:00.000000Z,
039656,Mary Major,Transferred.,2024-03-02T12:00:01.000000Z,
043800,Sam Smith,,2024-03-02T12:00:02.000000Z,
`)

	got, err := Compare(old, current, "adc_number", record.FieldScrapeTime)
	if err != nil {
		t.Fatal(err)
	}

	expected := Diff{
		Added:        []string{"043800"},
		Removed:      []string{"036366"},
		AddedColumns: []string{"mug_image"},
		Changed: []Change{{
			ID:     "036085",
			Column: "comments",
			Old:    "Sentenced in 1990.",
			New:    "Sentenced in 1991.",
		}},
	}
	if diff := cmp.Diff(expected, got, cmpopts.EquateEmpty(), cmpopts.IgnoreFields(Change{}, "Similarity")); diff != "" {
		t.Fatal("diff differs (-expected +got):\n", diff)
	}
	require.Greater(t, got.Changed[0].Similarity, 0.9)
	require.Less(t, got.Changed[0].Similarity, 1.0)
	require.False(t, got.Empty())
}

func TestCompareIgnoresTimestamps(t *testing.T) {
	old := mustRead(t, "adc_number,name,scrape_time_utc\n036085,John Doe,2024-03-01T12:00:00.000000Z\n")
	current := mustRead(t, "adc_number,name,scrape_time_utc\n036085,John Doe,2024-03-09T08:00:00.000000Z\n")

	diff, err := Compare(old, current, "adc_number", record.FieldScrapeTime)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, diff.Empty())

	diff, err = Compare(old, current, "adc_number")
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, diff.Changed, 1)
}

func TestCompareMissingIdentifier(t *testing.T) {
	table := mustRead(t, "name\nJohn Doe\n")
	_, err := Compare(table, table, "adc_number")
	require.Error(t, err)
}

func TestReadEmpty(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	require.Error(t, err)

	table := mustRead(t, "a,b\n")
	require.Equal(t, record.Schema{"a", "b"}, table.Schema)
	require.Empty(t, table.Rows)
}

// Package advisory maps detected labels to static nutrition and field
// advice text. The table is loaded once at process start and never
// mutated afterwards; lookups are by exact case-sensitive label.
package advisory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Record is the advisory text attached to one label. Either field may be
// empty when the table has nothing to say.
type Record struct {
	Nutrition string `yaml:"nutrition"`
	Advice    string `yaml:"advice"`
}

// Table is a read-only label → record mapping.
type Table struct {
	records map[string]Record
}

// New builds a table from the given records. The map is not copied; the
// caller must not mutate it afterwards.
func New(records map[string]Record) *Table {
	return &Table{records: records}
}

// Lookup returns the record for the label. A miss is not an error: the
// zero record and false come back and the caller omits both fields.
func (t *Table) Lookup(label string) (Record, bool) {
	rec, ok := t.records[label]
	return rec, ok
}

// Len reports the number of labels the table knows about.
func (t *Table) Len() int {
	return len(t.records)
}

// Load reads a YAML table of the form `label: {nutrition, advice}`. An
// empty path returns the built-in defaults.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read advisory table: %w", err)
	}

	records := make(map[string]Record)
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse advisory table: %w", err)
	}

	return &Table{records: records}, nil
}

// Default returns the built-in crop advisory table.
func Default() *Table {
	return &Table{records: map[string]Record{
		"Healthy": {
			Nutrition: "No nutrient deficiency detected; maintain your current schedule.",
			Advice: "The crop appears healthy. Continue your irrigation and fertilizer " +
				"schedule. Monitor your field weekly to catch early symptoms.",
		},
		"Powdery mildew": {
			Nutrition: "Possible potassium deficiency. Apply MOP fertilizer for disease resistance.",
			Advice: "White or grayish powder suggests fungal infection. Remove infected " +
				"leaves and avoid overhead irrigation. Improve airflow and consider " +
				"fungicides if spreading.",
		},
		"Leaf blast": {
			Nutrition: "Possible nitrogen imbalance. Apply a balanced nitrogen source in split doses.",
			Advice: "Irregular lesions indicate blast disease. Avoid excess nitrogen and " +
				"ensure proper drainage. Use resistant varieties if available.",
		},
		"Bacterial blight": {
			Nutrition: "Possible nitrogen deficiency. Apply a balanced nitrogen source in split doses.",
			Advice: "Water-soaked lesions and wilting indicate bacterial blight. Remove " +
				"infected plants and avoid touching leaves when wet. Use clean tools " +
				"and disease-free seeds.",
		},
		"Early blight": {
			Nutrition: "Possible nitrogen deficiency. Use DAP fertilizer closer to the root zone.",
			Advice: "Brown concentric rings indicate early blight. Remove affected leaves " +
				"and reduce moisture duration. Practice crop rotation and proper spacing.",
		},
		"Bean rust": {
			Nutrition: "Possible potassium deficiency. Apply MOP fertilizer for disease resistance.",
			Advice: "Rust-colored pustules indicate fungal rust. Remove infected leaves " +
				"and avoid working the field while foliage is wet.",
		},
		"Leaf spot": {
			Nutrition: "Possible nitrogen deficiency. Apply a balanced nitrogen source in split doses.",
			Advice: "Dark spots with yellow halos indicate leaf spot. Remove affected " +
				"leaves and improve air circulation between plants.",
		},
		"Magnesium deficiency": {
			Nutrition: "Add Epsom salt for chlorophyll production.",
			Advice: "Interveinal yellowing on older leaves points to magnesium shortage. " +
				"Re-check the field in 3-5 days after treatment.",
		},
	}}
}

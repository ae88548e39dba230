package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// ReadFile reads a .csv, .json, .yaml or .yml dataset. The table is named
// after the file, see TableName.
func ReadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := TableName(path)

	var t *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		t, err = ReadCSV(bytes.NewReader(data), name)
	case ".json", ".yaml", ".yml":
		t, err = ReadRecords(data, name)
	default:
		return nil, fmt.Errorf("%s: unknown dataset format (want .csv, .json or .yaml)", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// TableName derives a table name from a file name: the base name without
// extension, folded to lowercase ASCII letters, digits and underscores.
func TableName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, err := transform.String(fold, base)
	if err != nil {
		ascii = base
	}

	var b strings.Builder
	for _, r := range strings.ToLower(ascii) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "dataset"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return name
}

// ReadCSV reads a CSV file with a header row. Empty cells are null; cells
// that parse as numbers or as true/false become float64 or bool.
func ReadCSV(r io.Reader, name string) (*Table, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("csv has no header row")
	}
	if err != nil {
		return nil, err
	}
	t := &Table{Name: name, Columns: header}
	if err := checkColumns(header); err != nil {
		return nil, err
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]any, len(rec))
		for i, cell := range rec {
			row[i] = parseCell(cell)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func parseCell(s string) any {
	if s == "" {
		return nil
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

// ReadRecords reads a JSON (or YAML) array of objects. Columns appear in
// the order they are first seen; missing members are null.
func ReadRecords(data []byte, name string) (*Table, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 || root.Content[0].Kind != yaml.SequenceNode {
		return nil, errors.New("dataset must be an array of objects")
	}

	t := &Table{Name: name}
	index := make(map[string]int)
	var records []map[string]any
	for i, item := range root.Content[0].Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("record %d is not an object", i)
		}
		rec := make(map[string]any, len(item.Content)/2)
		for k := 0; k+1 < len(item.Content); k += 2 {
			key := item.Content[k].Value
			var v any
			if err := item.Content[k+1].Decode(&v); err != nil {
				return nil, fmt.Errorf("record %d member %q: %w", i, key, err)
			}
			if _, ok := index[key]; !ok {
				index[key] = len(t.Columns)
				t.Columns = append(t.Columns, key)
			}
			rec[key] = scalar(v)
		}
		records = append(records, rec)
	}
	if err := checkColumns(t.Columns); err != nil {
		return nil, err
	}

	for _, rec := range records {
		row := make([]any, len(t.Columns))
		for key, v := range rec {
			row[index[key]] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// scalar widens decoded numbers to float64.
func scalar(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return v
	}
}

func checkColumns(cols []string) error {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c == "" {
			return errors.New("empty column name")
		}
		if seen[c] {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	return nil
}

package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"
)

// Output formats of listing commands.
const (
	OutputFormatTable  = "table"
	OutputFormatJSON   = "json"
	OutputFormatYAML   = "yaml"
	OutputFormatNDJSON = "ndjson"
)

// OutputFormats lists the output formats with the default first.
var OutputFormats = []string{OutputFormatTable, OutputFormatJSON, OutputFormatYAML, OutputFormatNDJSON}

// Columns describe how items are rendered as a table.
type Columns[T any] struct {
	Header table.Row
	Row    func(T) table.Row
	// Merge lists the 1-based numbers of columns whose equal neighbours are merged.
	Merge []int
}

// Write renders items to w in format.
func Write[T any](w io.Writer, format string, items []T, columns Columns[T]) error {
	var data []byte
	var err error
	switch format {
	case OutputFormatTable:
		data = encodeTable(items, columns)
	case OutputFormatJSON:
		if items == nil {
			items = []T{}
		}
		data, err = json.MarshalIndent(items, "", "  ")
		data = append(data, '\n')
	case OutputFormatYAML:
		data, err = yaml.Marshal(items)
	case OutputFormatNDJSON:
		data, err = encodeNDJSON(items)
	default:
		err = fmt.Errorf("unknown output format: %q", format)
	}
	if err != nil {
		return fmt.Errorf("encoding as %q failed: %w", format, err)
	}
	_, err = w.Write(data)
	return err
}

func encodeNDJSON[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, item := range items {
		if err := encoder.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeTable[T any](items []T, columns Columns[T]) []byte {
	var buf bytes.Buffer
	t := NewTable(&buf)
	t.AppendHeader(columns.Header)
	for _, item := range items {
		t.AppendRow(columns.Row(item))
	}
	configs := make([]table.ColumnConfig, 0, len(columns.Merge))
	for _, n := range columns.Merge {
		configs = append(configs, table.ColumnConfig{Number: n, AutoMerge: true})
	}
	t.SetColumnConfigs(configs)
	t.Render()
	return buf.Bytes()
}

// NewTable returns a borderless table writer mirroring to w.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	return t
}

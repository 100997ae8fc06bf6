package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/auxprotocol/auxcli/api/schemas"
)

// extractionOf narrows a result value to the extraction shape the tabular
// presenters require.
func extractionOf(format string, v any) (*schemas.ExtractResult, error) {
	switch res := v.(type) {
	case *schemas.ExtractResult:
		return res, nil
	case schemas.ExtractResult:
		return &res, nil
	}
	return nil, fmt.Errorf("%s output supports extraction results only, got %T", format, v)
}

// sortedFieldNames returns the field names in a stable order. Extraction
// rules arrive as a map, so alphabetical is the published ordering.
func sortedFieldNames(res *schemas.ExtractResult) []string {
	names := make([]string, 0, len(res.Data))
	for name := range res.Data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedErrorNames(res *schemas.ExtractResult) []string {
	names := make([]string, 0, len(res.Errors))
	for name := range res.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type csvPresenter struct {
	w io.WriteCloser
}

// Write renders the extraction as one header row of field names followed by
// value rows. Multi-valued fields occupy one row per item; shorter columns
// are padded with empty cells.
func (p *csvPresenter) Write(v any) error {
	res, err := extractionOf(FormatCSV, v)
	if err != nil {
		return err
	}

	names := sortedFieldNames(res)
	columns := make([][]string, len(names))
	rows := 0
	for i, name := range names {
		columns[i] = cellsOf(res.Data[name])
		if len(columns[i]) > rows {
			rows = len(columns[i])
		}
	}

	cw := csv.NewWriter(p.w)
	if err := cw.Write(names); err != nil {
		return err
	}
	for r := 0; r < rows; r++ {
		record := make([]string, len(names))
		for i, col := range columns {
			if r < len(col) {
				record[i] = col[r]
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (p *csvPresenter) Close() error {
	return p.w.Close()
}

// cellsOf flattens one field value into its column cells. A scalar is one
// cell, a null scalar one empty cell, a list one cell per item.
func cellsOf(v any) []string {
	switch val := v.(type) {
	case nil:
		return []string{""}
	case []any:
		cells := make([]string, len(val))
		for i, item := range val {
			cells[i] = formatScalar(item)
		}
		return cells
	default:
		return []string{formatScalar(val)}
	}
}

type textPresenter struct {
	w io.WriteCloser
}

// Write renders "name: value" lines, list items as indented "- item" lines,
// and a trailing errors section when any field failed.
func (p *textPresenter) Write(v any) error {
	res, err := extractionOf(FormatText, v)
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, name := range sortedFieldNames(res) {
		switch val := res.Data[name].(type) {
		case nil:
			fmt.Fprintf(&b, "%s: null\n", name)
		case []any:
			fmt.Fprintf(&b, "%s:\n", name)
			for _, item := range val {
				fmt.Fprintf(&b, "  - %s\n", formatScalar(item))
			}
		default:
			fmt.Fprintf(&b, "%s: %s\n", name, formatScalar(val))
		}
	}

	if len(res.Errors) > 0 {
		b.WriteString("\nerrors:\n")
		for _, name := range sortedErrorNames(res) {
			fe := res.Errors[name]
			if fe.Message != "" {
				fmt.Fprintf(&b, "  %s: %s (%s)\n", name, fe.Reason, fe.Message)
			} else {
				fmt.Fprintf(&b, "  %s: %s\n", name, fe.Reason)
			}
		}
	}

	_, err = io.WriteString(p.w, b.String())
	return err
}

func (p *textPresenter) Close() error {
	return p.w.Close()
}

type xmlPresenter struct {
	w io.WriteCloser
}

// Write renders an <extraction> document with one <field name=...> element
// per rule. Null fields carry null="true", list items become <item> children
// and field errors are collected under <errors>.
func (p *xmlPresenter) Write(v any) error {
	res, err := extractionOf(FormatXML, v)
	if err != nil {
		return err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("extraction")

	for _, name := range sortedFieldNames(res) {
		field := root.CreateElement("field")
		field.CreateAttr("name", name)
		switch val := res.Data[name].(type) {
		case nil:
			field.CreateAttr("null", "true")
		case []any:
			for _, item := range val {
				field.CreateElement("item").SetText(formatScalar(item))
			}
		default:
			field.SetText(formatScalar(val))
		}
	}

	if len(res.Errors) > 0 {
		errs := root.CreateElement("errors")
		for _, name := range sortedErrorNames(res) {
			fe := res.Errors[name]
			e := errs.CreateElement("error")
			e.CreateAttr("field", name)
			e.CreateAttr("reason", string(fe.Reason))
			if fe.Message != "" {
				e.SetText(fe.Message)
			}
		}
	}

	doc.Indent(2)
	if _, err := doc.WriteTo(p.w); err != nil {
		return err
	}
	_, err = io.WriteString(p.w, "\n")
	return err
}

func (p *xmlPresenter) Close() error {
	return p.w.Close()
}

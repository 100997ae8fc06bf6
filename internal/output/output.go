// Package output renders operation results for the CLI. JSON handles every
// result type; the csv, text and xml presenters are tabular views over
// extraction results only.
package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Format names accepted by New and the --format flag.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
	FormatXML  = "xml"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Presenter writes one operation result to its destination.
type Presenter interface {
	// Write renders a single result value.
	Write(v any) error
	// Close releases the underlying writer if the presenter owns a file.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a presenter for the given format. An empty or "stdout" path
// writes to standard output; anything else creates a file the returned
// presenter owns.
func New(format, outputPath string) (Presenter, error) {
	var writer io.WriteCloser
	isStdout := outputPath == "" || outputPath == "stdout"

	if isStdout {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch strings.ToLower(format) {
	case "", FormatJSON:
		return &jsonPresenter{w: writer}, nil
	case FormatCSV:
		return &csvPresenter{w: writer}, nil
	case FormatText:
		return &textPresenter{w: writer}, nil
	case FormatXML:
		return &xmlPresenter{w: writer}, nil
	default:
		if !isStdout {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

type jsonPresenter struct {
	w io.WriteCloser
}

func (p *jsonPresenter) Write(v any) error {
	data, err := jsonAPI.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	data = append(data, '\n')
	_, err = p.w.Write(data)
	return err
}

func (p *jsonPresenter) Close() error {
	return p.w.Close()
}

// formatScalar renders a single extracted value the way it should appear in
// a cell or text line. Numbers drop their trailing zero decimals.
func formatScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

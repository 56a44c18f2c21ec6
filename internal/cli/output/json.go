package output

import "encoding/json"

// JSONFormatter renders JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) Format(data interface{}) (string, error) {
	var (
		out []byte
		err error
	)
	if f.Indent {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *JSONFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

// FormatTable renders the rows as an array of objects.
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToMaps(headers, rows))
}

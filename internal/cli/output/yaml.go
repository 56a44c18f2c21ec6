package output

import "gopkg.in/yaml.v3"

// YAMLFormatter renders YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data interface{}) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *YAMLFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

// FormatTable renders the rows as a sequence of mappings.
func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToMaps(headers, rows))
}

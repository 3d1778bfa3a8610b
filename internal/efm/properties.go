package efm

import "strings"

// PropertiesFilter reports whether a properties-file line should be kept.
// Lines starting with '#' and empty lines are dropped. Lines holding only
// whitespace are kept.
func PropertiesFilter(line string) bool {
	return line != "" && !strings.HasPrefix(line, "#")
}

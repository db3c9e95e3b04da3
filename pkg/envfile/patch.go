package envfile

import (
	"bufio"
	"regexp"
	"strings"
)

// KeyValue is a single KEY=VALUE assignment
type KeyValue struct {
	Key   string
	Value string
}

// Patch sets every assignment in content.
// An existing line for the key is replaced in place (all occurrences), a missing key is appended.
// The result is trimmed and ends with a single newline.
func Patch(content string, values []KeyValue) string {
	for _, kv := range values {
		line := kv.Key + "=" + kv.Value
		pattern := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(kv.Key) + `=[^\r\n]*`)
		if pattern.MatchString(content) {
			content = pattern.ReplaceAllLiteralString(content, line)
			continue
		}
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += line + "\n"
	}
	return strings.TrimSpace(content) + "\n"
}

// Lookup returns the last value assigned to key in content
func Lookup(content, key string) (string, bool) {
	var (
		value string
		found bool
	)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, key+"=") {
			value = strings.TrimPrefix(line, key+"=")
			found = true
		}
	}
	return value, found
}

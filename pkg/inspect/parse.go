package inspect

import (
	"bufio"
	"encoding/csv"
	"path/filepath"
	"strconv"
	"strings"
)

// parseLsofPID returns the first PID printed by `lsof -t`
func parseLsofPID(output string) (int, bool) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}

// parseNetstatListener finds the owning PID of the LISTENING row bound to port in `netstat -ano` output.
// Rows look like: "  TCP    0.0.0.0:3000    0.0.0.0:0    LISTENING    1234".
func parseNetstatListener(output string, port int) (int, bool) {
	suffix := ":" + strconv.Itoa(port)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !strings.EqualFold(fields[0], "TCP") {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) || fields[3] != "LISTENING" {
			continue
		}
		pid, err := strconv.Atoi(fields[len(fields)-1])
		if err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}

// parsePsComm extracts the executable name from `ps -o comm=`, which may be a full path on macOS
func parsePsComm(output string) string {
	name := strings.TrimSpace(output)
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

// parseTasklistCSV extracts the image name from `tasklist /FO CSV /NH` output.
// When nothing matches tasklist prints an "INFO:" line instead of a record.
func parseTasklistCSV(output string) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" || strings.HasPrefix(trimmed, "INFO:") {
		return ""
	}
	record, err := csv.NewReader(strings.NewReader(trimmed)).Read()
	if err != nil || len(record) == 0 {
		return ""
	}
	return strings.TrimSpace(record[0])
}

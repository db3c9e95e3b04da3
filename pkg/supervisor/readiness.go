package supervisor

import (
	"slices"
	"strconv"
	"strings"
)

// Stream names the output stream a line came from
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// PortPlaceholder in a marker is replaced by the process port
const PortPlaceholder = "{port}"

// ReadinessPredicate decides from a single output line that a process is serving
type ReadinessPredicate interface {
	Ready(line string, stream Stream) bool
}

// ReadinessFunc adapts a function to ReadinessPredicate
type ReadinessFunc func(line string, stream Stream) bool

func (f ReadinessFunc) Ready(line string, stream Stream) bool {
	return f(line, stream)
}

// MarkerReadiness matches when a line contains one of the markers.
// An empty Streams list accepts every stream.
type MarkerReadiness struct {
	Markers []string
	Streams []Stream
}

// NewMarkerReadiness expands the port placeholder in markers
func NewMarkerReadiness(port int, markers ...string) MarkerReadiness {
	expanded := make([]string, 0, len(markers))
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		expanded = append(expanded, strings.ReplaceAll(marker, PortPlaceholder, strconv.Itoa(port)))
	}
	return MarkerReadiness{Markers: expanded}
}

// OnStreams limits matching to the given streams
func (m MarkerReadiness) OnStreams(streams ...Stream) MarkerReadiness {
	m.Streams = streams
	return m
}

func (m MarkerReadiness) Ready(line string, stream Stream) bool {
	if len(m.Streams) > 0 && !slices.Contains(m.Streams, stream) {
		return false
	}
	for _, marker := range m.Markers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

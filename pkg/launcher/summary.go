package launcher

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-launcher/pkg/domain"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// AccessPoint is a URL printed once the stack is up
type AccessPoint struct {
	Name string
	URL  string
}

// AccessPoints lists the URLs of a running stack; the frontend is left out in backend-only mode
func (l *Launcher) AccessPoints(ports domain.PortAssignment, backendOnly bool) []AccessPoint {
	api := l.envWriter.APIURL(ports.Backend)

	var points []AccessPoint
	if !backendOnly {
		points = append(points, AccessPoint{Name: "Frontend App", URL: fmt.Sprintf("http://localhost:%d", ports.Frontend)})
	}
	return append(points,
		AccessPoint{Name: "Backend API", URL: api},
		AccessPoint{Name: "Health Check", URL: api + l.config.Health.Path},
		AccessPoint{Name: "API Docs", URL: api + "/docs"},
	)
}

func (l *Launcher) printSummary(ports domain.PortAssignment, options Options) {
	banner := strings.Repeat("=", 60)
	fmt.Fprintln(l.out, text.FgGreen.Sprint(banner))
	fmt.Fprintln(l.out, text.FgGreen.Sprint("PRIVATE LAWYER BOT STARTED SUCCESSFULLY"))
	fmt.Fprintln(l.out, text.FgGreen.Sprint(banner))

	t := table.NewWriter()
	t.SetOutputMirror(l.out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Access points")
	for _, point := range l.AccessPoints(ports, options.BackendOnly) {
		t.AppendRow(table.Row{point.Name, text.FgCyan.Sprint(point.URL)})
	}
	t.Render()

	fmt.Fprintln(l.out, text.FgYellow.Sprint("Press Ctrl+C to stop the servers"))
}

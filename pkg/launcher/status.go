package launcher

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/core-tools/hsu-launcher/pkg/domain"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// PortStatus is one row of the port report
type PortStatus struct {
	StatusPort
	Available bool
	PID       int
	Process   string
	// Launched marks a PID recorded by a launcher run
	Launched bool
}

// CheckPorts probes every configured status port and identifies the owners of busy ones
func (l *Launcher) CheckPorts(ctx context.Context) []PortStatus {
	launched := make(map[int]bool)
	if records, err := l.processFiles.List(); err == nil {
		for _, record := range records {
			launched[record.PID] = true
		}
	}

	results := make([]PortStatus, 0, len(l.config.StatusPorts))
	for _, port := range l.config.StatusPorts {
		status := PortStatus{StatusPort: port, Available: l.prober.IsAvailable(port.Port)}
		if !status.Available {
			if owner, ok := l.inspector.Owner(ctx, port.Port); ok {
				status.PID = owner.PID
				status.Process = owner.Name
				status.Launched = launched[owner.PID]
			}
		}
		results = append(results, status)
	}
	return results
}

// Status prints the port report with recommendations for the default ports
func (l *Launcher) Status(ctx context.Context, w io.Writer) error {
	results := l.CheckPorts(ctx)

	fmt.Fprintln(w, text.FgCyan.Sprint("Port Status Check for Private Lawyer Bot"))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"PORT", "SERVICE", "STATUS", "PID", "PROCESS", "LAUNCHER"})

	inUse := 0
	for _, r := range results {
		status := text.FgGreen.Sprint("available")
		pid, name, launched := "", "", ""
		if !r.Available {
			inUse++
			status = text.FgRed.Sprint("in use")
			if r.PID > 0 {
				pid = strconv.Itoa(r.PID)
				name = r.Process
			}
			if r.Launched {
				launched = "yes"
			}
		}
		t.AppendRow(table.Row{r.Port, r.Service, status, pid, name, launched})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d available", len(results)-inUse), fmt.Sprintf("%d in use", inUse)})
	t.Render()

	fmt.Fprintln(w)
	fmt.Fprintln(w, text.FgYellow.Sprint("Recommendations:"))
	l.recommend(w, results, domain.RoleBackend, l.config.Ports.Backend)
	l.recommend(w, results, domain.RoleFrontend, l.config.Ports.Frontend)
	return nil
}

func (l *Launcher) recommend(w io.Writer, results []PortStatus, role domain.Role, port int) {
	var owner *PortStatus
	for i := range results {
		if results[i].Port == port {
			owner = &results[i]
			break
		}
	}

	available := l.prober.IsAvailable(port)
	if owner != nil {
		available = owner.Available
	}
	if available {
		fmt.Fprintf(w, "  %s %s\n", text.FgGreen.Sprintf("%s (%d):", role, port), "ready to use")
		return
	}

	fmt.Fprintf(w, "  %s %s\n", text.FgRed.Sprintf("%s (%d):", role, port), "port in use")
	if owner != nil && owner.PID > 0 {
		fmt.Fprintf(w, "     kill the process: %s %d\n", killHint(), owner.PID)
	}
	fmt.Fprintln(w, "     or start with --kill to resolve conflicts automatically")
}

func killHint() string {
	if isWindows() {
		return "taskkill /F /PID"
	}
	return "kill -9"
}

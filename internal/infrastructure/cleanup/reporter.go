package cleanup

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	cyan       = "\033[38;2;86;182;194m"
	cyanBright = "\033[38;2;97;228;240m"
	dimCyan    = "\033[38;2;47;91;102m"
	grey       = "\033[38;2;110;118;129m"
	dimGrey    = "\033[38;2;75;82;99m"
	success    = "\033[38;2;62;130;144m"
	warning    = "\033[38;2;229;192;123m"
	errorRed   = "\033[38;2;224;108;117m"
	white      = "\033[38;2;171;178;191m"
	purple     = "\033[38;2;198;120;221m"
	dimPurple  = "\033[38;2;142;87;158m"
	reset      = "\033[0m"
	bold       = "\033[1m"
)

// Reporter prints console banners for operators watching a terminal. The
// structured log remains the record of truth.
type Reporter struct {
	out io.Writer
}

// NewReporter writes to w, or stdout when w is nil.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{out: w}
}

func (r *Reporter) LogHeader(title string) {
	fmt.Fprintf(r.out, "%s%s✓ %s %s\n", bold, cyan, strings.ToUpper(title), reset)
}

func (r *Reporter) LogSubHeader(text string) {
	fmt.Fprintf(r.out, "%s%s░▒▓ %s %s\n", bold, dimCyan, text, reset)
}

func (r *Reporter) LogStepSuccess(message string, args ...any) {
	fmt.Fprintf(r.out, "%s⚡ %s%s...%s\n", dimGrey, grey, fmt.Sprintf(message, args...), reset)
}

func (r *Reporter) LogStage(message string, args ...any) {
	fmt.Fprintf(r.out, "%s%s✦ %s%s%s\n", success, bold, grey, fmt.Sprintf(message, args...), reset)
}

func (r *Reporter) LogSuccess(message string, args ...any) {
	fmt.Fprintf(r.out, "%s%s✦ %s%s%s\n", success, bold, white, fmt.Sprintf(message, args...), reset)
}

func (r *Reporter) LogError(message string, err error) {
	fmt.Fprintf(r.out, "%s%s✖ ERROR: %s%s: %v%s\n", bold, errorRed, grey, message, err, reset)
}

func (r *Reporter) LogWarning(message string, args ...any) {
	fmt.Fprintf(r.out, "%s%s⚠ WARNING: %s%s%s\n", bold, warning, grey, fmt.Sprintf(message, args...), reset)
}

func (r *Reporter) LogInfo(message string, args ...any) {
	fmt.Fprintf(r.out, "%s▶ %s%s%s\n", dimGrey, grey, fmt.Sprintf(message, args...), reset)
}

// Snapshot is the state the periodic report shows.
type Snapshot struct {
	Sessions        int
	PushConnections int
	PendingEvents   int
	InFlight        int
	CachedPolicies  int
}

// GenerateReport renders a two-line status block.
func (r *Reporter) GenerateReport(s Snapshot, p Pass) string {
	var report strings.Builder
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05 MST")
	report.WriteString(fmt.Sprintf("%s%s▓ %s | Cleanup pass%s\n", bold, dimCyan, timestamp, reset))

	item := func(label string, count int, color, dim string) string {
		if count > 0 {
			return fmt.Sprintf(" %s%s:%s%d", dim, label, color, count)
		}
		return fmt.Sprintf(" %s%s:%s--", dimGrey, label, dimGrey)
	}

	report.WriteString(fmt.Sprintf("%s✦ live:%s", cyanBright, reset))
	report.WriteString(item("sessions", s.Sessions, cyan, dimCyan))
	report.WriteString(item("sockets", s.PushConnections, cyan, dimCyan))
	report.WriteString(item("queued", s.PendingEvents, cyan, dimCyan))
	report.WriteString(item("retrying", s.InFlight, cyan, dimCyan))
	report.WriteString(item("policies", s.CachedPolicies, cyan, dimCyan))
	report.WriteString("\n")

	report.WriteString(fmt.Sprintf("%s✦ cleaned:%s", purple, reset))
	report.WriteString(item("sessions", p.EvictedSessions, white, dimPurple))
	report.WriteString(item("cooldowns", p.ExpiredCooldowns, white, dimPurple))
	report.WriteString(item("attempts", int(p.PrunedAttempts), white, dimPurple))
	report.WriteString("\n")
	return report.String()
}

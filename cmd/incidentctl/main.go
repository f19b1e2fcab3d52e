// Command incidentctl is a terminal client for the incident tracker API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/bissquit/incident-tracker/internal/client"
	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/incidents"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPink       = "#FF79C6"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
	draculaComment    = "#6272A4"
)

const (
	envAddr        = "INCIDENTCTL_ADDR"
	envAPIKey      = "INCIDENTCTL_API_KEY"
	defaultAddr    = "http://localhost:8080"
	requestTimeout = 15 * time.Second
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPurple)).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaForeground)).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan)).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaOrange))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)).Bold(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment))
	cardStyle    = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(draculaPurple))
)

var severityColors = map[domain.Severity]string{
	domain.SeverityLow:      draculaGreen,
	domain.SeverityMedium:   draculaYellow,
	domain.SeverityHigh:     draculaOrange,
	domain.SeverityCritical: draculaRed,
}

var errUsage = errors.New("usage")

// globals are the connection flags shared by every subcommand.
type globals struct {
	addr   string
	apiKey string
}

func (g *globals) register(fs *flag.FlagSet) {
	fs.StringVar(&g.addr, "addr", envOr(envAddr, defaultAddr), "incident tracker base URL")
	fs.StringVar(&g.apiKey, "api-key", os.Getenv(envAPIKey), "API key sent in X-Api-Key")
}

func (g *globals) client() *client.Client {
	return client.New(g.addr, client.WithAPIKey(g.apiKey))
}

type command struct {
	summary string
	run     func(ctx context.Context, args []string, out io.Writer) error
}

var commands = map[string]command{
	"list":   {summary: "list incidents (-severity, -status)", run: runList},
	"get":    {summary: "show one incident: get <id>", run: runGet},
	"create": {summary: "report an incident (-title, -description, -severity, -reported-by, -tags)", run: runCreate},
	"update": {summary: "change status: update <id> -status <status>", run: runUpdate},
	"stats":  {summary: "counts by severity and status", run: runStats},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintln(os.Stderr, errorStyle.Render("unknown command: "+os.Args[1]))
		printUsage(os.Stderr)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := cmd.run(ctx, os.Args[2:], os.Stdout); err != nil {
		cancel()
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, labelStyle.Render("Usage: incidentctl <command> [flags]"))
	fmt.Fprintln(w)
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, helpStyle.Render(commands[name].summary))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, helpStyle.Render("Connection: -addr (or "+envAddr+"), -api-key (or "+envAPIKey+")"))
}

func runList(ctx context.Context, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	g.register(fs)
	severity := fs.String("severity", "", "filter by severity")
	status := fs.String("status", "", "filter by status")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	items, err := g.client().ListIncidents(ctx, *severity, *status)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, helpStyle.Render("No incidents."))
		return nil
	}

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	fmt.Fprintln(out, incidentTable(items))
	return nil
}

func runGet(ctx context.Context, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	g.register(fs)
	id, err := parseWithID(fs, args)
	if err != nil {
		return err
	}

	inc, err := g.client().GetIncident(ctx, id)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("incident %s not found", id)
		}
		return err
	}
	fmt.Fprintln(out, incidentCard(inc))
	return nil
}

func runCreate(ctx context.Context, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	g.register(fs)
	title := fs.String("title", "", "incident title")
	description := fs.String("description", "", "what happened")
	severity := fs.String("severity", string(domain.SeverityMedium), "low, medium, high or critical")
	reportedBy := fs.String("reported-by", envOr("USER", ""), "reporter name")
	tags := fs.String("tags", "", "comma-separated tags")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	req := client.NewIncident{
		Title:       *title,
		Description: *description,
		Severity:    *severity,
		ReportedBy:  *reportedBy,
		Tags:        splitTags(*tags),
	}
	resp, err := g.client().CreateIncident(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, successStyle.Render("Created incident ")+labelStyle.Render(resp.IncidentID))
	if resp.Warning != "" {
		fmt.Fprintln(out, warnStyle.Render("Warning: "+resp.Warning))
		if resp.NotificationError != "" {
			fmt.Fprintln(out, helpStyle.Render(resp.NotificationError))
		}
	}
	return nil
}

func runUpdate(ctx context.Context, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	g.register(fs)
	status := fs.String("status", "", "new status: open, in_progress, resolved or closed")
	id, err := parseWithID(fs, args)
	if err != nil {
		return err
	}
	if *status == "" {
		fmt.Fprintln(os.Stderr, errorStyle.Render("-status is required"))
		return errUsage
	}

	inc, err := g.client().UpdateStatus(ctx, id, *status)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, successStyle.Render("Updated incident ")+labelStyle.Render(inc.ID)+" → "+statusText(inc.Status))
	return nil
}

func runStats(ctx context.Context, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	g.register(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	stats, err := g.client().Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, statsTable(stats))
	return nil
}

// parseWithID accepts the incident id before or after the flags.
func parseWithID(fs *flag.FlagSet, args []string) (string, error) {
	var id string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		id, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", errUsage
	}
	if id == "" {
		id = fs.Arg(0)
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fs.Name()+": incident id is required"))
		return "", errUsage
	}
	return id, nil
}

func incidentTable(items []*domain.Incident) string {
	rows := make([][]string, 0, len(items))
	sevs := make([]domain.Severity, 0, len(items))
	for _, inc := range items {
		rows = append(rows, []string{
			inc.ID,
			string(inc.Severity),
			string(inc.Status),
			inc.Title,
			inc.ReportedBy,
			inc.CreatedAt.Local().Format(time.DateTime),
		})
		sevs = append(sevs, inc.Severity)
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment))).
		Headers("ID", "SEVERITY", "STATUS", "TITLE", "REPORTED BY", "CREATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(sevs) {
				return cellStyle.Foreground(lipgloss.Color(severityColor(sevs[row])))
			}
			return cellStyle
		}).
		Render()
}

func incidentCard(inc *domain.Incident) string {
	var b strings.Builder
	line := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-12s", label)))
		b.WriteString(value)
		b.WriteString("\n")
	}

	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPink)).Bold(true).Render(inc.Title))
	b.WriteString("\n\n")
	line("ID", inc.ID)
	line("Severity", lipgloss.NewStyle().Foreground(lipgloss.Color(severityColor(inc.Severity))).Render(string(inc.Severity)))
	line("Status", statusText(inc.Status))
	line("Reported by", inc.ReportedBy)
	if len(inc.Tags) > 0 {
		line("Tags", strings.Join(inc.Tags, ", "))
	}
	line("Created", inc.CreatedAt.Local().Format(time.DateTime))
	if inc.UpdatedAt != nil {
		line("Updated", inc.UpdatedAt.Local().Format(time.DateTime))
	}
	b.WriteString("\n")
	b.WriteString(inc.Description)

	return cardStyle.Render(b.String())
}

func statsTable(stats *incidents.Stats) string {
	rows := [][]string{{"total", "", fmt.Sprint(stats.Total)}}
	for _, sev := range domain.Severities {
		rows = append(rows, []string{"severity", string(sev), fmt.Sprint(stats.BySeverity[sev])})
	}
	for _, st := range domain.Statuses {
		rows = append(rows, []string{"status", string(st), fmt.Sprint(stats.ByStatus[st])})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment))).
		Headers("GROUP", "VALUE", "COUNT").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}

func statusText(st domain.Status) string {
	color := draculaCyan
	switch st {
	case domain.StatusResolved, domain.StatusClosed:
		color = draculaGreen
	case domain.StatusInProgress:
		color = draculaYellow
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(string(st))
}

func severityColor(sev domain.Severity) string {
	if c, ok := severityColors[sev]; ok {
		return c
	}
	return draculaForeground
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

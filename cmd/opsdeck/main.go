// ABOUTME: Admin console CLI for the opsdeck API: session, users, jobs,
// ABOUTME: audit log, settings, and live job log tailing over WebSocket.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/opsdeck/opsdeck/internal/api"
	"github.com/opsdeck/opsdeck/internal/config"
	"github.com/opsdeck/opsdeck/internal/logstream"
	"github.com/opsdeck/opsdeck/internal/session"
	"github.com/opsdeck/opsdeck/internal/transport"
)

const banner = `
                      _           _
   ___  _ __  ___  __| | ___  ___| | __
  / _ \| '_ \/ __|/ _' |/ _ \/ __| |/ /
 | (_) | |_) \__ \ (_| |  __/ (__|   <
  \___/| .__/|___/\__,_|\___|\___|_|\_\
       |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	a, err := newApp()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "login":
		err = a.cmdLogin(ctx, args)
	case "logout":
		err = a.cmdLogout(ctx)
	case "whoami":
		err = a.cmdWhoami(ctx)
	case "users":
		err = a.cmdUsers(ctx, args)
	case "jobs":
		err = a.cmdJobs(ctx, args)
	case "logs":
		err = a.cmdLogs(ctx, args)
	case "audit":
		err = a.cmdAudit(ctx, args)
	case "settings":
		err = a.cmdSettings(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, transport.ErrSessionExpired) {
			color.Red("Error: session expired, run 'opsdeck login'\n")
		} else {
			color.Red("Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: opsdeck <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  login [--email <email>]      Log in and start a session")
	fmt.Println("  logout                       End the session")
	fmt.Println("  whoami                       Show the current session identity")
	fmt.Println("  users                        List user accounts")
	fmt.Println("  users add                    Create a user account")
	fmt.Println("  users rm <id>                Delete a user account")
	fmt.Println("  jobs                         List jobs")
	fmt.Println("  jobs submit                  Submit a job")
	fmt.Println("  jobs show <id>               Show one job's record")
	fmt.Println("  logs <job-id>                Tail a job's log stream")
	fmt.Println("  audit                        List audit events")
	fmt.Println("  settings                     Show organization settings")
	fmt.Println("  settings set                 Update organization settings")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  OPSDECK_CONFIG    Config file path (default: ./opsdeck.yaml, ~/.opsdeck/config.yaml)")
	fmt.Println("  OPSDECK_API_URL   API base URL, used when no config file exists")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  opsdeck login --email ops@example.com")
	fmt.Println("  opsdeck jobs submit --name backup --command /usr/local/bin/backup.sh")
	fmt.Println("  opsdeck logs job-42")
	fmt.Println()
}

// app wires the session store, authenticated transport, and API client
// together for the duration of one command.
type app struct {
	cfg    *config.Config
	store  *session.Store
	client *api.Client
	logger *slog.Logger
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	store := session.NewStore(cfg.Session.ProfilePath)
	if err := store.Load(); err != nil {
		return nil, err
	}

	// The jar carries the HttpOnly refresh cookie between the login call and
	// later refresh calls; it must be shared by the client and the transport.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	tr, err := transport.New(store, strings.TrimSuffix(cfg.API.BaseURL, "/")+cfg.API.RefreshPath)
	if err != nil {
		return nil, err
	}
	tr.Jar = jar
	tr.Logger = logger

	timeout := cfg.HTTP.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpc := &http.Client{Transport: tr, Jar: jar, Timeout: timeout}

	client, err := api.NewClient(cfg.API.BaseURL, httpc, logger)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, store: store, client: client, logger: logger}, nil
}

// loadConfig resolves the config file path: OPSDECK_CONFIG, then
// ./opsdeck.yaml, then ~/.opsdeck/config.yaml. When no file exists the
// OPSDECK_API_URL environment variable alone is enough to run.
func loadConfig() (*config.Config, error) {
	if path := os.Getenv("OPSDECK_CONFIG"); path != "" {
		return config.Load(path)
	}

	candidates := []string{"opsdeck.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".opsdeck", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}

	if url := os.Getenv("OPSDECK_API_URL"); url != "" {
		return config.FromEnv(url)
	}
	return nil, fmt.Errorf("no config file found and OPSDECK_API_URL is not set")
}

// newLogger builds the slog logger from the logging config. Logs go to
// stderr so command output stays pipeable.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// cmdLogin exchanges credentials for a session and persists the profile.
func (a *app) cmdLogin(ctx context.Context, args []string) error {
	var email, password string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--email", "-e":
			if i+1 < len(args) {
				email = args[i+1]
				i++
			}
		case "--password", "-p":
			if i+1 < len(args) {
				password = args[i+1]
				i++
			}
		}
	}

	reader := bufio.NewReader(os.Stdin)
	if email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if password == "" {
		fmt.Print("Password: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	result, err := a.client.Login(ctx, email, password)
	if err != nil {
		return err
	}

	a.store.Login(result.AccessToken, &session.User{
		ID:    result.User.ID,
		Email: result.User.Email,
		Name:  result.User.Name,
		Role:  result.User.Role,
	})
	if err := a.store.Save(); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Logged in as %s (%s)\n", result.User.Name, result.User.Role)
	if exp := a.store.TokenExpiry(); !exp.IsZero() {
		fmt.Printf("  Token expires: %s\n", exp.Format(time.RFC3339))
	}
	return nil
}

// cmdLogout invalidates the refresh credential server-side and clears the
// local session regardless of the server's answer.
func (a *app) cmdLogout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		a.logger.Warn("server-side logout failed", "error", err)
	}

	a.store.Logout()
	if err := a.store.Save(); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("✓ Logged out")
	return nil
}

// cmdWhoami shows the current session identity.
func (a *app) cmdWhoami(ctx context.Context) error {
	u := a.store.User()
	if u == nil {
		fmt.Println("Not logged in")
		return nil
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Session")
	cyan.Println("  -------")
	fmt.Printf("  User:   %s <%s>\n", u.Name, u.Email)
	fmt.Printf("  Role:   %s\n", u.Role)
	if a.store.Authenticated() {
		fmt.Printf("  State:  authenticated\n")
	} else if a.store.RememberedLogin() {
		fmt.Printf("  State:  remembered login (token will be refreshed on first request)\n")
	} else {
		fmt.Printf("  State:  logged out\n")
	}
	fmt.Println()
	return nil
}

// cmdUsers handles user subcommands.
func (a *app) cmdUsers(ctx context.Context, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return a.cmdUsersList(ctx)
	case "add", "create":
		return a.cmdUsersAdd(ctx, args)
	case "rm", "delete", "remove":
		return a.cmdUsersRm(ctx, args)
	default:
		return fmt.Errorf("unknown users subcommand: %s (use list, add, rm)", subcmd)
	}
}

func (a *app) cmdUsersList(ctx context.Context) error {
	users, err := a.client.ListUsers(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Users")
	cyan.Println("  -----")

	if len(users) == 0 {
		fmt.Println("  (no users)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tEMAIL\tROLE\tLAST LOGIN")
	fmt.Fprintln(w, "  --\t----\t-----\t----\t----------")
	for _, u := range users {
		lastLogin := "-"
		if u.LastLoginAt != nil {
			lastLogin = u.LastLoginAt.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(u.ID, 12), truncate(u.Name, 24), truncate(u.Email, 32), u.Role, lastLogin)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func (a *app) cmdUsersAdd(ctx context.Context, args []string) error {
	var req api.CreateUserRequest
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--email", "-e":
			if i+1 < len(args) {
				req.Email = args[i+1]
				i++
			}
		case "--name", "-n":
			if i+1 < len(args) {
				req.Name = args[i+1]
				i++
			}
		case "--role", "-r":
			if i+1 < len(args) {
				req.Role = args[i+1]
				i++
			}
		case "--password", "-p":
			if i+1 < len(args) {
				req.Password = args[i+1]
				i++
			}
		}
	}

	if req.Email == "" || req.Name == "" || req.Password == "" {
		return fmt.Errorf("usage: users add --email <email> --name <name> --password <password> [--role <role>]")
	}
	if req.Role == "" {
		req.Role = "viewer"
	}

	u, err := a.client.CreateUser(ctx, req)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Created user: %s\n", u.ID)
	fmt.Printf("  Name:   %s\n", u.Name)
	fmt.Printf("  Email:  %s\n", u.Email)
	fmt.Printf("  Role:   %s\n", u.Role)
	return nil
}

func (a *app) cmdUsersRm(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: users rm <user-id>")
	}

	userID := args[0]
	if err := a.client.DeleteUser(ctx, userID); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Deleted user: %s\n", userID)
	return nil
}

// cmdJobs handles job subcommands.
func (a *app) cmdJobs(ctx context.Context, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return a.cmdJobsList(ctx)
	case "submit", "create":
		return a.cmdJobsSubmit(ctx, args)
	case "show", "get":
		return a.cmdJobsShow(ctx, args)
	default:
		return fmt.Errorf("unknown jobs subcommand: %s (use list, submit, show)", subcmd)
	}
}

func (a *app) cmdJobsList(ctx context.Context) error {
	jobs, err := a.client.ListJobs(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Jobs")
	cyan.Println("  ----")

	if len(jobs) == 0 {
		fmt.Println("  (no jobs)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tSTATUS\tSUBMITTED\tCOMPLETED")
	fmt.Fprintln(w, "  --\t----\t------\t---------\t---------")
	for _, j := range jobs {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(j.ID, 16), truncate(j.Name, 24), j.Status,
			formatTime(j.SubmittedAt), formatTime(j.CompletedAt))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func (a *app) cmdJobsSubmit(ctx context.Context, args []string) error {
	var spec api.JobSpec
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name", "-n":
			if i+1 < len(args) {
				spec.Name = args[i+1]
				i++
			}
		case "--command", "-c":
			if i+1 < len(args) {
				spec.Command = args[i+1]
				i++
			}
		case "--arg", "-a":
			if i+1 < len(args) {
				spec.Args = append(spec.Args, args[i+1])
				i++
			}
		}
	}

	if spec.Name == "" || spec.Command == "" {
		return fmt.Errorf("usage: jobs submit --name <name> --command <command> [--arg <arg>]...")
	}

	job, err := a.client.SubmitJob(ctx, spec)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Submitted job: %s\n", job.ID)
	fmt.Printf("  Name:    %s\n", job.Name)
	fmt.Printf("  Status:  %s\n", job.Status)
	fmt.Printf("\n  Tail its logs with: opsdeck logs %s\n", job.ID)
	return nil
}

func (a *app) cmdJobsShow(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: jobs show <job-id>")
	}

	job, err := a.client.FetchJob(ctx, args[0])
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Job " + job.ID)
	cyan.Println("  " + strings.Repeat("-", len(job.ID)+4))
	fmt.Printf("  Name:       %s\n", job.Name)
	fmt.Printf("  Command:    %s\n", job.Command)
	fmt.Printf("  Status:     %s\n", job.Status)
	fmt.Printf("  Submitted:  %s\n", formatTime(job.SubmittedAt))
	fmt.Printf("  Started:    %s\n", formatTime(job.StartedAt))
	fmt.Printf("  Completed:  %s\n", formatTime(job.CompletedAt))
	if job.ExitCode != nil {
		fmt.Printf("  Exit code:  %d\n", *job.ExitCode)
	}
	if job.ResultMessage != "" {
		fmt.Printf("  Result:     %s\n", job.ResultMessage)
	}
	fmt.Println()
	return nil
}

// cmdLogs tails a job's log stream until the job reaches a terminal status
// or the user interrupts.
func (a *app) cmdLogs(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: logs <job-id>")
	}
	jobID := args[0]

	if a.store.Token() == "" {
		return fmt.Errorf("%w: no active session", transport.ErrSessionExpired)
	}

	factory := &logstream.WebSocketFactory{BaseURL: a.cfg.API.WSBaseURL, Logger: a.logger}
	sync := logstream.New(factory, a.client, a.store, nil, a.logger)
	defer sync.Close()

	sync.Observe(ctx, jobID)

	printed := 0
	lastStatus := ""
	printed, lastStatus = a.printNewEntries(sync, printed, lastStatus)

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-sync.Updates():
			printed, lastStatus = a.printNewEntries(sync, printed, lastStatus)
			if logstream.IsTerminal(lastStatus) {
				return nil
			}
			if lastStatus == logstream.StatusDisconnected || lastStatus == logstream.StatusError {
				// Re-observing the same id from a lost state dials again, and
				// dedup absorbs any replayed events.
				color.Yellow("  (connection lost, reconnecting...)\n")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return nil
				}
				sync.Observe(ctx, jobID)
			}
		}
	}
}

// printNewEntries prints entries beyond the printed watermark and reports the
// new watermark and status.
func (a *app) printNewEntries(sync *logstream.Synchronizer, printed int, lastStatus string) (int, string) {
	entries, status := sync.Snapshot()
	for _, e := range entries[printed:] {
		printEntry(e)
	}
	if status != lastStatus && status == logstream.StatusConnected {
		color.New(color.Faint).Println("  (connected)")
	}
	return len(entries), status
}

func printEntry(e logstream.Entry) {
	ts := e.Timestamp
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		ts = t.Format("15:04:05")
	}

	switch e.Kind {
	case logstream.KindError:
		color.Red("  %s  %s\n", ts, e.Message)
	case logstream.KindStatus:
		line := e.Message
		if e.ExitCode != nil {
			line = fmt.Sprintf("%s (exit code %d)", line, *e.ExitCode)
		}
		color.Yellow("  %s  %s\n", ts, line)
	case logstream.KindInfo:
		color.Cyan("  %s  %s\n", ts, e.Message)
	default:
		fmt.Printf("  %s  %s\n", ts, e.Message)
	}
}

// cmdAudit lists audit events with optional filters.
func (a *app) cmdAudit(ctx context.Context, args []string) error {
	var filter api.AuditFilter
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--actor":
			if i+1 < len(args) {
				filter.Actor = args[i+1]
				i++
			}
		case "--action":
			if i+1 < len(args) {
				filter.Action = args[i+1]
				i++
			}
		case "--since":
			if i+1 < len(args) {
				t, err := time.Parse(time.RFC3339, args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --since value (want RFC3339): %w", err)
				}
				filter.Since = t
				i++
			}
		case "--limit":
			if i+1 < len(args) {
				var n int
				if _, err := fmt.Sscanf(args[i+1], "%d", &n); err != nil {
					return fmt.Errorf("invalid --limit value: %w", err)
				}
				filter.Limit = n
				i++
			}
		}
	}

	events, err := a.client.ListAuditEvents(ctx, filter)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Audit Log")
	cyan.Println("  ---------")

	if len(events) == 0 {
		fmt.Println("  (no events)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTARGET")
	fmt.Fprintln(w, "  ----\t-----\t------\t------")
	for _, ev := range events {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			ev.Timestamp.Format("Jan 02 15:04:05"), truncate(ev.Actor, 20),
			ev.Action, truncate(ev.Target, 32))
	}
	w.Flush()
	fmt.Println()
	return nil
}

// cmdSettings shows or updates the organization settings.
func (a *app) cmdSettings(ctx context.Context, args []string) error {
	subcmd := "get"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "get", "show":
		return a.cmdSettingsGet(ctx)
	case "set", "update":
		return a.cmdSettingsSet(ctx, args)
	default:
		return fmt.Errorf("unknown settings subcommand: %s (use get, set)", subcmd)
	}
}

func (a *app) cmdSettingsGet(ctx context.Context) error {
	s, err := a.client.GetSettings(ctx)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Settings")
	cyan.Println("  --------")
	fmt.Printf("  Organization:     %s\n", s.OrgName)
	fmt.Printf("  Session timeout:  %s\n", s.SessionTimeout)
	fmt.Printf("  Max jobs:         %d\n", s.MaxConcurrentJobs)
	if s.NotifyEmail != "" {
		fmt.Printf("  Notify email:     %s\n", s.NotifyEmail)
	}
	fmt.Println()
	return nil
}

func (a *app) cmdSettingsSet(ctx context.Context, args []string) error {
	current, err := a.client.GetSettings(ctx)
	if err != nil {
		return err
	}

	s := *current
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--org-name":
			if i+1 < len(args) {
				s.OrgName = args[i+1]
				i++
			}
		case "--session-timeout":
			if i+1 < len(args) {
				s.SessionTimeout = args[i+1]
				i++
			}
		case "--max-jobs":
			if i+1 < len(args) {
				var n int
				if _, err := fmt.Sscanf(args[i+1], "%d", &n); err != nil {
					return fmt.Errorf("invalid --max-jobs value: %w", err)
				}
				s.MaxConcurrentJobs = n
				i++
			}
		case "--notify-email":
			if i+1 < len(args) {
				s.NotifyEmail = args[i+1]
				i++
			}
		}
	}

	updated, err := a.client.UpdateSettings(ctx, s)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("✓ Settings updated")
	fmt.Printf("  Organization:  %s\n", updated.OrgName)
	fmt.Printf("  Max jobs:      %d\n", updated.MaxConcurrentJobs)
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("Jan 02 15:04")
}

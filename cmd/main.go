package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"eventra/internal/auth"
	"eventra/internal/geocode"
	"eventra/internal/google"
	"eventra/internal/ics"
	"eventra/internal/models"
	"eventra/internal/parser"
	"eventra/internal/store"
	"eventra/internal/syncer"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "eventra",
		Usage: "Personal calendar assistant: text in, synced calendar events out.",
		Commands: []*cli.Command{
			connectCommand(),
			disconnectCommand(),
			addCommand(),
			listCommand(),
			editCommand(),
			deleteCommand(),
			searchCommand(),
			statsCommand(),
			exportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// env holds everything a command needs, wired from environment variables.
type env struct {
	logger  *slog.Logger
	store   *store.Store
	creds   *auth.CredentialStore
	engine  *syncer.Engine
	mutator *syncer.Mutator
	user    string
}

func newEnv() (*env, error) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := setupLogger(logLevel)

	dbPath := os.Getenv("EVENTRA_DB")
	if dbPath == "" {
		dbPath = "eventra.db"
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	user := os.Getenv("EVENTRA_USER")
	if user == "" {
		user = "default"
	}

	creds := auth.NewCredentialStore(st, logger)
	factory := func(ctx context.Context, bundle *auth.Bundle) (syncer.RemoteCalendar, error) {
		return google.NewClient(ctx, logger, bundle)
	}

	var geocoder syncer.Geocoder
	if g := geocode.New(os.Getenv("GOOGLE_MAPS_API_KEY"), logger); g.Configured() {
		geocoder = g
	}

	return &env{
		logger:  logger,
		store:   st,
		creds:   creds,
		engine:  syncer.NewEngine(st, creds, factory, logger),
		mutator: syncer.NewMutator(st, creds, factory, geocoder, logger),
		user:    user,
	}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("Failed to close store", "error", err)
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Link a Google Calendar account via the OAuth2 authorization-code flow.",
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			redirectURL := os.Getenv("GOOGLE_CALENDAR_REDIRECT_URL")
			if redirectURL == "" {
				redirectURL = "http://127.0.0.1/oauth/callback"
			}
			config := google.NewOAuthConfig(
				os.Getenv("GOOGLE_CALENDAR_CLIENT_ID"),
				os.Getenv("GOOGLE_CALENDAR_CLIENT_SECRET"),
				redirectURL,
			)
			if config.ClientID == "" || config.ClientSecret == "" {
				return errors.New("GOOGLE_CALENDAR_CLIENT_ID and GOOGLE_CALENDAR_CLIENT_SECRET must be set")
			}

			// A fresh state per attempt; it must match on the redirect.
			state := uuid.New().String()
			authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
			fmt.Printf("Go to the following link in your browser and authorize access:\n%v\n\n", authURL)

			fmt.Print("Paste the full redirect URL (or just the authorization code): ")
			reader := bufio.NewReader(os.Stdin)
			input, _ := reader.ReadString('\n')
			code, err := extractAuthCode(strings.TrimSpace(input), state)
			if err != nil {
				return err
			}

			bundle, err := google.Exchange(c.Context, config, code)
			if err != nil {
				return err
			}
			if err := e.creds.Connect(e.user, bundle); err != nil {
				return fmt.Errorf("store credentials: %w", err)
			}

			e.logger.Info("Successfully connected Google Calendar.", "user", e.user)
			return nil
		},
	}
}

// extractAuthCode accepts either a pasted redirect URL, whose state
// parameter must match the one generated for this attempt, or a bare code.
func extractAuthCode(input, state string) (string, error) {
	if !strings.Contains(input, "code=") {
		return input, nil
	}
	parsed, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	query := parsed.Query()
	if query.Get("state") != state {
		return "", errors.New("OAuth state mismatch, aborting")
	}
	code := query.Get("code")
	if code == "" {
		return "", errors.New("redirect URL contains no authorization code")
	}
	return code, nil
}

func disconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Remove the stored Google Calendar credentials.",
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.creds.Disconnect(e.user); err != nil {
				return err
			}
			fmt.Println("Google Calendar disconnected.")
			return nil
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Create an event from natural-language text or explicit fields.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Usage: "Natural-language event description to parse."},
			&cli.StringFlag{Name: "title"},
			&cli.StringFlag{Name: "description"},
			&cli.StringFlag{Name: "location"},
			&cli.StringFlag{Name: "start", Usage: "Start time (YYYY-MM-DDTHH:MM)."},
			&cli.StringFlag{Name: "end", Usage: "End time (YYYY-MM-DDTHH:MM)."},
			&cli.StringFlag{Name: "color", Usage: "Google Calendar color ID (1-11)."},
			&cli.StringFlag{Name: "guests", Usage: "Comma-separated guest email addresses."},
			&cli.BoolFlag{Name: "yes", Usage: "Skip the confirmation prompt."},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ev := &models.Event{
				User:         e.user,
				Title:        c.String("title"),
				Description:  c.String("description"),
				Location:     c.String("location"),
				OriginalText: c.String("text"),
				ColorID:      c.String("color"),
				GuestEmails:  c.String("guests"),
			}

			if text := c.String("text"); text != "" {
				parsed, err := parseText(c.Context, e, text)
				if err != nil {
					return err
				}
				ev.Title = parsed.Title
				ev.Description = parsed.Description
				ev.Location = parsed.Location
				ev.GuestEmails = parsed.GuestEmails
				if ev.Start, err = parseLocalTime(parsed.Start); err != nil {
					return fmt.Errorf("parsed start time: %w", err)
				}
				if ev.End, err = parseLocalTime(parsed.End); err != nil {
					return fmt.Errorf("parsed end time: %w", err)
				}
			} else {
				if ev.Start, err = parseLocalTime(c.String("start")); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				if ev.End, err = parseLocalTime(c.String("end")); err != nil {
					return fmt.Errorf("--end: %w", err)
				}
			}
			if ev.ColorID == "" {
				ev.ColorID = "1"
			}

			printPreview(ev)
			if !c.Bool("yes") && !confirm("Create this event?") {
				fmt.Println("Cancelled.")
				return nil
			}

			result, err := e.mutator.Create(c.Context, ev)
			if err != nil {
				return err
			}
			reportMutation(result, "created")
			return nil
		},
	}
}

func parseText(ctx context.Context, e *env, text string) (*parser.Parsed, error) {
	config := parser.Config{
		Provider: getenvDefault("LLM_PROVIDER", "openai"),
		Model:    getenvDefault("LLM_MODEL", "gpt-4"),
		APIKey:   os.Getenv("OPENAI_API_KEY"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	}
	if config.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set to parse text")
	}
	return parser.New(config, e.store, e.logger).Parse(ctx, e.user, text)
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Reconcile with Google Calendar and show the unified timeline.",
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			result, err := e.engine.Reconcile(c.Context, e.user, time.Now())
			if err != nil {
				return err
			}

			if !result.Connected {
				fmt.Println("Google Calendar is not connected. Run 'eventra connect' to link it.")
			}
			fmt.Printf("Created by me (%d):\n", len(result.Own))
			for _, ev := range result.Own {
				fmt.Printf("  [%d] %s  %s", ev.ID, ev.Start.Local().Format("2006-01-02 15:04"), ev.Title)
				if ev.Location != "" {
					fmt.Printf("  @ %s", ev.Location)
				}
				fmt.Println()
			}
			fmt.Printf("\nUnified timeline (%d):\n", len(result.Timeline))
			for _, entry := range result.Timeline {
				source := "local"
				if entry.FromRemote {
					source = "google"
				}
				fmt.Printf("  %s  %-40s %-7s %s\n",
					entry.Start.Local().Format("2006-01-02 15:04"), entry.Title, source, entry.Color)
			}
			return nil
		},
	}
}

func editCommand() *cli.Command {
	return &cli.Command{
		Name:  "edit",
		Usage: "Edit an existing event.",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "id", Required: true},
			&cli.StringFlag{Name: "title"},
			&cli.StringFlag{Name: "description"},
			&cli.StringFlag{Name: "location"},
			&cli.StringFlag{Name: "start", Usage: "Start time (YYYY-MM-DDTHH:MM)."},
			&cli.StringFlag{Name: "end", Usage: "End time (YYYY-MM-DDTHH:MM)."},
			&cli.StringFlag{Name: "color"},
			&cli.StringFlag{Name: "guests"},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			current, err := e.store.GetEvent(e.user, c.Int64("id"))
			if err != nil {
				return err
			}

			fields := syncer.Fields{
				Title:       current.Title,
				Description: current.Description,
				Location:    current.Location,
				Start:       current.Start,
				End:         current.End,
				ColorID:     current.ColorID,
				GuestEmails: current.GuestEmails,
			}
			if c.IsSet("title") {
				fields.Title = c.String("title")
			}
			if c.IsSet("description") {
				fields.Description = c.String("description")
			}
			if c.IsSet("location") {
				fields.Location = c.String("location")
			}
			if c.IsSet("color") {
				fields.ColorID = c.String("color")
			}
			if c.IsSet("guests") {
				fields.GuestEmails = c.String("guests")
			}
			if c.IsSet("start") {
				if fields.Start, err = parseLocalTime(c.String("start")); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
			}
			if c.IsSet("end") {
				if fields.End, err = parseLocalTime(c.String("end")); err != nil {
					return fmt.Errorf("--end: %w", err)
				}
			}

			result, err := e.mutator.Update(c.Context, e.user, current.ID, fields)
			if errors.Is(err, syncer.ErrValidation) {
				fmt.Println("Rejected: end date/time must be after start date/time.")
				printPreview(result.Event)
				return nil
			}
			if err != nil {
				return err
			}
			reportMutation(result, "updated")
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete an event locally and from Google Calendar when synced.",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "id", Required: true},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			result, err := e.mutator.Delete(c.Context, e.user, c.Int64("id"))
			if err != nil {
				return err
			}
			reportMutation(result, "deleted")
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search past and future events, local and remote.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}},
			&cli.StringFlag{Name: "time", Value: "all", Usage: "all, upcoming, or past."},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			filter := store.TimeFilter(c.String("time"))
			switch filter {
			case store.FilterAll, store.FilterUpcoming, store.FilterPast:
			default:
				return fmt.Errorf("unknown time filter %q", filter)
			}

			results, err := e.engine.Search(c.Context, e.user, c.String("query"), filter, time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("%d result(s)\n", len(results))
			for _, entry := range results {
				source := "local"
				if entry.FromRemote {
					source = "google"
				}
				fmt.Printf("  %s  %-40s %s\n", entry.Start.Local().Format("2006-01-02 15:04"), entry.Title, source)
			}
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show text-extraction analytics over a trailing window.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Value: 30},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.store.ParseLogStats(c.Int("days"))
			if err != nil {
				return err
			}
			fmt.Printf("Last %d days: %d attempts, %d ok, %d failed (%.1f%% success, avg %.0f ms)\n",
				stats.PeriodDays, stats.Total, stats.Successful, stats.Failed,
				stats.SuccessRate, stats.AvgElapsedMS)
			for kind, count := range stats.ErrorBreakdown {
				fmt.Printf("  error %-20s %d\n", kind, count)
			}
			for _, p := range stats.Providers {
				fmt.Printf("  %s/%s: %d attempts, %d ok, avg %.0f ms\n",
					p.Provider, p.Model, p.Total, p.Successful, p.AvgElapsedMS)
			}
			for _, d := range stats.Daily {
				fmt.Printf("  %s: %d total, %d ok, %d failed\n", d.Day, d.Total, d.Successful, d.Failed)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export upcoming events to an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "eventra.ics"},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			events, err := e.store.ListUpcomingOwn(e.user, time.Now())
			if err != nil {
				return err
			}
			f, err := os.Create(c.String("out"))
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer f.Close()

			if err := ics.Export(f, events); err != nil {
				return err
			}
			fmt.Printf("Exported %d event(s) to %s\n", len(events), c.String("out"))
			return nil
		},
	}
}

// parseLocalTime accepts datetime-local style input, with or without
// seconds, interpreted in the local timezone.
func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLocalTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("missing date/time")
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date/time %q", value)
}

func printPreview(ev *models.Event) {
	fmt.Printf("  Title:       %s\n", ev.Title)
	if ev.Description != "" {
		fmt.Printf("  Description: %s\n", ev.Description)
	}
	if ev.Location != "" {
		fmt.Printf("  Location:    %s\n", ev.Location)
	}
	fmt.Printf("  Start:       %s\n", ev.Start.Local().Format("January 02, 2006 at 3:04 PM"))
	fmt.Printf("  End:         %s\n", ev.End.Local().Format("January 02, 2006 at 3:04 PM"))
	if ev.GuestEmails != "" {
		fmt.Printf("  Guests:      %s\n", ev.GuestEmails)
	}
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func reportMutation(result *syncer.Result, verb string) {
	switch result.Status {
	case syncer.Committed:
		fmt.Printf("Event %q %s.\n", result.Event.Title, verb)
	case syncer.CommittedWithSyncWarning:
		fmt.Printf("Event %q %s locally, but: %s.\n", result.Event.Title, verb, result.Warning)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

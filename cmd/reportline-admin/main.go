// Command reportline-admin manages identities directly in the Reportline
// database. It is meant for operators on the host, e.g. to create the
// first analyst accounts or to recover a locked-out admin.
//
// Usage:
//
//	reportline-admin [-config path] [-db path] <command> [flags]
//
// Commands:
//
//	create-identity -email addr -role admin|analyst|viewer [-no-password]
//	set-password    -email addr
//	set-status      -email addr -status active|inactive
//	revoke-sessions -email addr
//	migrate-status
//	migrate-down
//
// Every command except the migrate-* ones first applies pending migrations.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	_ "github.com/reportline/reportline-core/migrations"

	"github.com/reportline/reportline-core/internal/audit"
	"github.com/reportline/reportline-core/internal/auth"
	"github.com/reportline/reportline-core/internal/infrastructure/config"
	"github.com/reportline/reportline-core/internal/infrastructure/database"
)

const defaultConfigPath = "configs/config.yaml"

// minPasswordLength applies to passwords set from the CLI.
const minPasswordLength = 12

// Audit events written by the CLI, in addition to auth.EventSessionRevoke.
const (
	eventIdentityCreate = "identity_create"
	eventPasswordSet    = "password_set"
	eventStatusSet      = "status_set"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the opened stores and I/O for one command.
type cli struct {
	identities *auth.SQLiteIdentityRepository
	renewals   *auth.SQLiteRenewalStore
	audit      audit.Repository
	in         *bufio.Reader
	stdin      *os.File
	out        io.Writer
}

func run(ctx context.Context, args []string, stdin *os.File, out io.Writer) error {
	global := flag.NewFlagSet("reportline-admin", flag.ContinueOnError)
	global.SetOutput(out)
	configPath := global.String("config", getConfigPath(), "path to config file")
	dbPath := global.String("db", "", "path to the SQLite database (overrides config)")
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		usage(out)
		return errors.New("no command given")
	}
	cmd, cmdArgs := rest[0], rest[1:]

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	switch cmd {
	case "migrate-status":
		return migrateStatus(ctx, db, out)
	case "migrate-down":
		return migrateDown(ctx, db, out)
	}

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	c := &cli{
		identities: auth.NewIdentityRepository(db.DB, cfg.Auth.StoreTimeout),
		renewals:   auth.NewRenewalStore(db.DB, cfg.Auth.StoreTimeout),
		audit:      audit.NewSQLiteRepository(db.DB),
		in:         bufio.NewReader(stdin),
		stdin:      stdin,
		out:        out,
	}

	switch cmd {
	case "create-identity":
		return c.createIdentity(ctx, cmdArgs)
	case "set-password":
		return c.setPassword(ctx, cmdArgs)
	case "set-status":
		return c.setStatus(ctx, cmdArgs)
	case "revoke-sessions":
		return c.revokeSessions(ctx, cmdArgs)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: reportline-admin [-config path] [-db path] <command> [flags]")
	fmt.Fprintln(w, "commands: create-identity, set-password, set-status, revoke-sessions, migrate-status, migrate-down")
}

func migrateStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	status, err := db.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, r := range status.Applied {
		fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range status.Pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	fmt.Fprintf(out, "%d applied, %d pending\n", len(status.Applied), len(status.Pending))
	return nil
}

// migrateDown rolls back only the latest migration; run it again to go
// further.
func migrateDown(ctx context.Context, db *database.DB, out io.Writer) error {
	m, err := db.MigrateDown(ctx)
	if err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}
	if m == nil {
		fmt.Fprintln(out, "no migrations applied")
		return nil
	}
	fmt.Fprintf(out, "rolled back %s %s\n", m.Version, m.Name)
	return nil
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist so the CLI works against a bare database path.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Defaults(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func getConfigPath() string {
	if path := os.Getenv("REPORTLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (c *cli) createIdentity(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-identity", flag.ContinueOnError)
	fs.SetOutput(c.out)
	email := fs.String("email", "", "email address")
	roleName := fs.String("role", "viewer", "role: admin, analyst or viewer")
	noPassword := fs.Bool("no-password", false, "create a federated-only identity without a password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	normalized := auth.NormalizeEmail(*email)
	if !auth.IsValidEmail(normalized) {
		return fmt.Errorf("invalid email %q", *email)
	}
	role, ok := auth.ParseRole(*roleName)
	if !ok {
		return fmt.Errorf("unknown role %q", *roleName)
	}

	identity := &auth.Identity{Email: normalized, RoleID: role, Status: auth.StatusActive}
	if !*noPassword {
		hash, err := c.promptPassword()
		if err != nil {
			return err
		}
		identity.PasswordHash = hash
	}

	if err := c.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			return fmt.Errorf("an identity with email %s already exists", normalized)
		}
		return fmt.Errorf("creating identity: %w", err)
	}

	c.record(ctx, eventIdentityCreate, identity.ID)
	fmt.Fprintf(c.out, "created %s identity %s (%s)\n", role, identity.Email, identity.ID)
	return nil
}

func (c *cli) setPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-password", flag.ContinueOnError)
	fs.SetOutput(c.out)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	identity, err := c.find(ctx, *email)
	if err != nil {
		return err
	}
	hash, err := c.promptPassword()
	if err != nil {
		return err
	}

	if err := c.identities.UpdatePassword(ctx, identity.ID, hash); err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, err := c.renewals.RevokeAllForIdentity(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}

	c.record(ctx, eventPasswordSet, identity.ID)
	fmt.Fprintf(c.out, "password updated for %s, %d session(s) revoked\n", identity.Email, n)
	return nil
}

func (c *cli) setStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ContinueOnError)
	fs.SetOutput(c.out)
	email := fs.String("email", "", "email address")
	statusName := fs.String("status", "", "active or inactive")
	if err := fs.Parse(args); err != nil {
		return err
	}

	status := auth.Status(strings.ToLower(*statusName))
	if status != auth.StatusActive && status != auth.StatusInactive {
		return fmt.Errorf("status must be %q or %q", auth.StatusActive, auth.StatusInactive)
	}

	identity, err := c.find(ctx, *email)
	if err != nil {
		return err
	}
	if err := c.identities.SetStatus(ctx, identity.ID, status); err != nil {
		return fmt.Errorf("setting status: %w", err)
	}

	// A deactivated identity can no longer rotate; revoke anyway so the
	// session list is accurate.
	if status == auth.StatusInactive {
		if _, err := c.renewals.RevokeAllForIdentity(ctx, identity.ID); err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
	}

	c.record(ctx, eventStatusSet, identity.ID)
	fmt.Fprintf(c.out, "%s is now %s\n", identity.Email, status)
	return nil
}

func (c *cli) revokeSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke-sessions", flag.ContinueOnError)
	fs.SetOutput(c.out)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	identity, err := c.find(ctx, *email)
	if err != nil {
		return err
	}
	n, err := c.renewals.RevokeAllForIdentity(ctx, identity.ID)
	if err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}

	c.record(ctx, auth.EventSessionRevoke, identity.ID)
	fmt.Fprintf(c.out, "%d session(s) revoked for %s\n", n, identity.Email)
	return nil
}

// record adds a successful CLI action to the audit trail. The change has
// already been committed, so a failed write only produces a warning.
func (c *cli) record(ctx context.Context, event, identityID string) {
	err := c.audit.Create(ctx, &audit.Entry{
		Event:      event,
		Outcome:    audit.OutcomeSuccess,
		IdentityID: identityID,
		Source:     audit.SourceCLI,
	})
	if err != nil {
		fmt.Fprintf(c.out, "warning: audit entry not written: %v\n", err)
	}
}

func (c *cli) find(ctx context.Context, email string) (*auth.Identity, error) {
	if email == "" {
		return nil, errors.New("-email is required")
	}
	identity, err := c.identities.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, auth.ErrIdentityNotFound) {
			return nil, fmt.Errorf("no identity with email %s", auth.NormalizeEmail(email))
		}
		return nil, fmt.Errorf("finding identity: %w", err)
	}
	return identity, nil
}

// promptPassword reads and confirms a new password and returns its hash.
// On a terminal input is not echoed; otherwise two lines are read from
// stdin so the CLI can be scripted.
func (c *cli) promptPassword() (string, error) {
	first, err := c.readSecret("New password: ")
	if err != nil {
		return "", err
	}
	if len(first) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	second, err := c.readSecret("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}

	hash, err := auth.HashPassword(first)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return hash, nil
}

func (c *cli) readSecret(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)

	if c.stdin != nil && term.IsTerminal(int(c.stdin.Fd())) {
		b, err := readPassword(int(c.stdin.Fd()))
		fmt.Fprintln(c.out)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}

	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

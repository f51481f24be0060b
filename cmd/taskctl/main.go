// Command taskctl is the operator CLI: account management, token minting and one-off
// maintenance runs against the configured backends.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/providentiaww/taskflow/internal/app"
	"github.com/providentiaww/taskflow/internal/cleanup"
	"github.com/providentiaww/taskflow/internal/config"
	"github.com/providentiaww/taskflow/internal/metrics"
	"github.com/providentiaww/taskflow/internal/models"
	"github.com/providentiaww/taskflow/internal/storage"
	"github.com/providentiaww/taskflow/internal/token"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const usage = `usage: taskctl <command> [flags]

commands:
  create-user   create an account
  issue-token   mint an access and refresh token for an account
  commit        run the deferred commit of a task now
  sweep         delete completed tasks older than the retention
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	config.LoadEnv(ctx, ".env", log)
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(logrus.WarnLevel)

	if err := run(ctx, cfg, os.Args[1], os.Args[2:], os.Stdout, log); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string, out io.Writer, log logrus.FieldLogger) error {
	switch cmd {
	case "create-user", "issue-token", "commit", "sweep":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backends.Close()

	switch cmd {
	case "create-user":
		return createUser(ctx, backends.Store, args, out)
	case "issue-token":
		return issueToken(ctx, cfg.TokenConfig, backends.Store, args, out)
	case "commit":
		return commit(ctx, cfg, backends, args, out, log)
	default:
		return sweep(ctx, cfg, backends.Store, out, log)
	}
}

func createUser(ctx context.Context, users storage.UserStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	email := fs.String("email", "", "e-mail address")
	role := fs.String("role", models.RoleUser, "Admin, Manager or User")
	password := fs.String("password", "", "password")
	accessStart := fs.String("access-start", "", "optional HH:MM start of the token access window")
	accessEnd := fs.String("access-end", "", "optional HH:MM end of the token access window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return fmt.Errorf("-username and -password are required")
	}
	switch *role {
	case models.RoleAdmin, models.RoleManager, models.RoleUser:
	default:
		return fmt.Errorf("unknown role %q", *role)
	}
	for _, bound := range []string{*accessStart, *accessEnd} {
		if bound == "" {
			continue
		}
		if _, err := token.ParseTimeOfDay(bound); err != nil {
			return err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u := &models.User{
		Username:     *username,
		Email:        *email,
		Role:         *role,
		PasswordHash: string(hash),
		AccessStart:  *accessStart,
		AccessEnd:    *accessEnd,
	}
	if err := users.CreateUser(ctx, u); err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(u)
}

func issueToken(ctx context.Context, cfg config.TokenConfig, users storage.UserStore, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	username := fs.String("username", "", "account to issue for")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := users.GetUserByUsername(ctx, *username)
	if err != nil {
		return fmt.Errorf("user %q: %w", *username, err)
	}
	key, err := token.LoadRSAKeyFromEnv()
	if err != nil {
		return err
	}
	codec, err := token.NewCodec(token.Config{Secret: cfg.Secret, PrivateKey: key, Issuer: cfg.Issuer, RefreshTokenTTL: cfg.RefreshTokenTTL})
	if err != nil {
		return err
	}

	now := time.Now()
	sub := token.Subject{UserID: u.ID, Username: u.Username, Email: u.Email}
	access, err := codec.Issue(sub, []string{u.Role}, u.AccessStart, u.AccessEnd, now)
	if err != nil {
		return err
	}
	refresh, err := codec.IssueRefresh(sub, now)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(map[string]string{"access": access, "refresh": refresh})
}

func commit(ctx context.Context, cfg *config.Config, b *app.Backends, args []string, out io.Writer, log logrus.FieldLogger) error {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	taskID := fs.Int64("task", 0, "task id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *taskID <= 0 {
		return fmt.Errorf("-task is required")
	}

	outcome, err := app.NewApprovalService(cfg, b, metrics.Noop{}, log).Commit(ctx, *taskID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, outcome)
	return err
}

func sweep(ctx context.Context, cfg *config.Config, tasks storage.TaskStore, out io.Writer, log logrus.FieldLogger) error {
	s := cleanup.NewSweeper(tasks, cleanup.Config{Retention: cfg.CleanupConfig.Retention()}, log, nil)
	n, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "deleted %d completed tasks\n", n)
	return err
}

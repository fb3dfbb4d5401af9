package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskroom/internal/app"
	"taskroom/internal/engine"
	"taskroom/internal/engine/auth"
	"taskroom/internal/logging"
)

const envFile = ".env"

var rootCmd = &cobra.Command{
	Use:   "taskroom",
	Short: "Taskroom CLI",
	Long: `Taskroom tracks project tasks and the chat around them.
- Org: the tenant. Users join an org as member or super_admin.
- Project: a set of tasks and one chat room. Only project members see them.
- Tasks: OPEN, IN_PROGRESS, BLOCKED, DONE, CANCELED. Only the creator closes a
  task; everyone else files a closure request.
- Chat: @username mentions notify org members. Read state is tracked per user.
- Event log: every change, view with 'taskroom log tail'.

Commands act as --user in --org. 'taskroom init' stores both in the
workspace .env file.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(exitCode(err))
	}
}

// initConfig layers TASKROOM_* variables and the workspace .env file under
// the flags. Variables already set in the environment win over .env.
func initConfig() {
	viper.SetEnvPrefix("TASKROOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	path := filepath.Join(viper.GetString("workspace"), envFile)
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", path, err)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("driver", "sqlite", "database driver (sqlite or postgres)")
	flags.String("dsn", "", "database DSN (required for postgres)")
	flags.String("org", "", "organization id")
	flags.StringP("user", "u", "", "acting user id or username")
	flags.Bool("json", false, "output JSON")
	flags.String("log-level", "warn", "log level")
	flags.String("log-format", "text", "log format (text or json)")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens")
	flags.Duration("tx-timeout", 0, "upper bound for one transaction (default 10s)")
	for _, name := range []string{"workspace", "driver", "dsn", "org", "user", "json", "log-level", "log-format", "jwt-secret", "tx-timeout"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func newLogger() (*logrus.Logger, error) {
	return logging.New(logging.Config{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
	})
}

func openRuntime() (*app.Runtime, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}
	return app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("driver"),
		DSN:       viper.GetString("dsn"),
		TxTimeout: viper.GetDuration("tx-timeout"),
		Log:       log,
	})
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// withActor resolves --org and --user into the acting principal.
func withActor(ctx context.Context, fn func(context.Context, *app.Runtime, engine.Actor) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		actor, err := rt.Admin.Actor(ctx, viper.GetString("org"), viper.GetString("user"))
		if err != nil {
			return fmt.Errorf("acting as %q in org %q: %w", viper.GetString("user"), viper.GetString("org"), err)
		}
		return fn(ctx, rt, actor)
	})
}

// resolveUserIDs maps usernames or ids to user ids.
func resolveUserIDs(ctx context.Context, rt *app.Runtime, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		u, err := rt.Admin.ResolveUser(ctx, strings.TrimPrefix(ref, "@"))
		if err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func requireOrg() (string, error) {
	org := strings.TrimSpace(viper.GetString("org"))
	if org == "" {
		return "", fmt.Errorf("--org (or TASKROOM_ORG) is required")
	}
	return org, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows unless --json is set, in which case v is printed.
func printTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func exitCode(err error) int {
	var (
		verr  engine.ValidationError
		uerr  engine.UnauthorizedError
		ferr  auth.ForbiddenError
		nferr engine.NotFoundError
		cerr  engine.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		return 2
	case errors.As(err, &uerr):
		return 3
	case errors.As(err, &ferr):
		return 3
	case errors.As(err, &nferr):
		return 4
	case errors.As(err, &cerr):
		return 5
	}
	return 1
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
)

const usage = `usage: migrate <command> [args]

commands:
  up                 apply all pending migrations
  down               roll back the latest migration
  to <version>       migrate up or down to version
  status             list migrations and whether they are applied
  create <name>      write a new migration into -dir
  validate           check migration files in -dir
`

func main() {
	_ = godotenv.Load()

	flags := flag.NewFlagSet("migrate", flag.ExitOnError)
	dir := flags.String("dir", migrate.SourceDir, "migration source directory (create, validate, and -from-disk)")
	fromDisk := flags.Bool("from-disk", false, "read migrations from -dir instead of the embedded set")
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage); flags.PrintDefaults() }
	_ = flags.Parse(os.Args[1:])

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, args, *dir, *fromDisk); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, args []string, dir string, fromDisk bool) error {
	cmd := args[0]
	switch cmd {
	case "create":
		if len(args) < 2 {
			return errors.New("create needs a name")
		}
		path, err := migrate.Create(dir, args[1], time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "created", path)
		return nil
	case "validate":
		if err := migrate.Validate(os.DirFS(dir)); err != nil {
			return err
		}
		fmt.Fprintln(out, "migrations valid")
		return nil
	case "up", "down", "to", "status":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": cmd})

	db, err := migrate.Open(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	var source = migrate.Embedded()
	if fromDisk {
		source = os.DirFS(dir)
	}
	runner, err := migrate.NewRunner(db, source)
	if err != nil {
		return err
	}

	var results []migrate.Result
	switch cmd {
	case "up":
		results, err = runner.Up(ctx)
	case "down":
		results, err = runner.Down(ctx)
	case "to":
		if len(args) < 2 {
			return errors.New("to needs a version")
		}
		version, perr := strconv.ParseInt(args[1], 10, 64)
		if perr != nil {
			return fmt.Errorf("version %q: %w", args[1], perr)
		}
		results, err = runner.To(ctx, version)
	case "status":
		statuses, serr := runner.Status(ctx)
		if serr != nil {
			return serr
		}
		return printStatus(out, statuses)
	}

	for _, res := range results {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     res.Version,
			"migration":   res.Name,
			"direction":   res.Direction,
			"duration_ms": res.Duration.Milliseconds(),
		}), "migration finished")
	}
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "count", len(results)), "migrate done")
	return nil
}

func printStatus(out io.Writer, statuses []migrate.Status) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, s := range statuses {
		state, at := "pending", "-"
		if s.Applied {
			state, at = "applied", s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, state, at, s.Name)
	}
	return tw.Flush()
}

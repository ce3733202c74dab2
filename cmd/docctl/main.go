// docctl drives the document core from a terminal. A login stores the
// bearer token locally and the principal snapshot in Redis, so later
// invocations restore the same session until it expires or logout revokes it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"deptdocs/core/internal/config"
	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/logger"
	"github.com/spf13/pflag"
)

const usage = `usage: docctl [global flags] <command> [flags] [args]

commands:
  login           sign in and persist the session
  logout          revoke the persisted session
  whoami          print the signed-in principal
  docs            list documents (filter, sort and paginate)
  get <id>        show one document
  create          create a document
  update <id>     change fields of a document
  delete <id>     delete a document
  search <text>   full-text search
  attach <id> <file>    upload an attachment
  download <id>   fetch the attachment of a document
  summary         dashboard counts and recent documents
  departments     list departments
  my-departments  list the departments of the signed-in user
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func run(args []string) error {
	cfg := config.Load()

	flagSet := pflag.NewFlagSet("docctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "document API base URL")
	flagSet.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "redis URL for session persistence")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	tokenFile := flagSet.String("token-file", defaultTokenFile(), "where the bearer token is kept between runs")
	paginated := flagSet.Bool("paginated", false, "let the server paginate instead of paging in memory")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nglobal flags:")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return fmt.Errorf("missing command")
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Development: cfg.LogDev, File: cfg.LogFile})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, log, *tokenFile, *paginated)
	if err != nil {
		return err
	}
	defer a.Close()

	command, rest := flagSet.Arg(0), flagSet.Args()[1:]
	handler, ok := a.commands()[command]
	if !ok {
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
	return handler(ctx, rest)
}

func exitCode(err error) int {
	switch domain.KindOf(err) {
	case domain.KindUnauthenticated:
		return 3
	case domain.KindForbidden:
		return 4
	case domain.KindNotFound:
		return 5
	case domain.KindValidationFailed:
		return 6
	case domain.KindRemoteUnavailable:
		return 7
	}
	return 1
}

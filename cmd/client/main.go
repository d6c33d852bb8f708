// Command plmsync is the check-in/check-out client of the PLMSync registry.
//
// Usage:
//
//	plmsync [-config file] <command> [flags]
//
// Exit codes: 0 success, 1 success with warnings, 2 failure, 3 registry
// unreachable or identity rejected.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/client/registry"
	"github.com/atinyakov/PLMSync/internal/client/session"
	"github.com/atinyakov/PLMSync/internal/config"
	"github.com/atinyakov/PLMSync/internal/engine"
	"github.com/atinyakov/PLMSync/internal/logger"
)

var (
	version   string
	buildDate string
)

// errUsage marks invalid invocations. The message was already printed.
var errUsage = errors.New("usage")

// dialFunc connects to the registry with a certificate identity.
type dialFunc func(serverURL, certFile, keyFile, caFile string, log *zap.Logger) (*registry.Client, error)

func dialTLS(serverURL, certFile, keyFile, caFile string, log *zap.Logger) (*registry.Client, error) {
	tlsCfg, err := registry.LoadClientTLS(certFile, keyFile, caFile)
	if err != nil {
		return nil, err
	}
	return registry.New(serverURL, tlsCfg, registry.WithLogger(log)), nil
}

// registerFunc asks the registry to issue a certificate for login.
type registerFunc func(ctx context.Context, serverURL, login, caFile string) (*registry.Credentials, error)

// app carries the process environment of one CLI invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	opts     *config.ClientOptions
	log      *zap.Logger
	sessions *session.Store

	dial     dialFunc
	register registerFunc
}

type command struct {
	summary string
	run     func(a *app, ctx context.Context, args []string) int
}

var commands = map[string]command{
	"register":   {"request a certificate for a new user", (*app).cmdRegister},
	"login":      {"verify the certificate identity and start a session", (*app).cmdLogin},
	"logout":     {"end the session", (*app).cmdLogout},
	"status":     {"show the current session", (*app).cmdStatus},
	"checkout":   {"lock an item and download its file", (*app).cmdCheckOut},
	"get-latest": {"download an item's file read-only without locking", (*app).cmdGetLatest},
	"checkin":    {"upload working copies and release their locks", (*app).cmdCheckIn},
	"unlock":     {"release an item lock without uploading", (*app).cmdUnlock},
	"search":     {"list items matching property filters", (*app).cmdSearch},
}

var commandOrder = []string{"register", "login", "logout", "status", "checkout", "get-latest", "checkin", "unlock", "search"}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	a := &app{
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		getenv:   getenv,
		dial:     dialTLS,
		register: registry.Register,
	}
	return a.main(ctx, args)
}

func (a *app) main(ctx context.Context, args []string) int {
	global := flag.NewFlagSet("plmsync", flag.ContinueOnError)
	global.SetOutput(a.stderr)
	configPath := global.String("config", "", "path to config file")
	showVer := global.Bool("version", false, "show build version and date")
	global.Usage = a.usage(global)
	if err := global.Parse(args); err != nil {
		return engine.ExitFailure
	}

	if *showVer {
		fmt.Fprintf(a.stdout, "PLMSync Client\nVersion: %s\nBuild Date: %s\n", orNA(version), orNA(buildDate))
		return engine.ExitOK
	}
	if global.NArg() == 0 {
		global.Usage()
		return engine.ExitFailure
	}
	name, rest := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(a.stderr, "unknown command: %s\n", name)
		global.Usage()
		return engine.ExitFailure
	}

	opts, err := config.LoadClient(config.DefaultClientOptions(session.DefaultPath()), *configPath, a.getenv)
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return engine.ExitFailure
	}
	a.opts = opts
	a.sessions = session.NewStore(opts.SessionFile)

	log, err := logger.Build(logger.Config{Level: opts.LogLevel, Format: opts.LogFormat})
	if err != nil {
		fmt.Fprintln(a.stderr, err)
		return engine.ExitFailure
	}
	defer func() { _ = log.Sync() }()
	a.log = log

	return cmd.run(a, ctx, rest)
}

func (a *app) usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintln(a.stderr, "Usage: plmsync [-config file] <command> [flags]")
		fmt.Fprintln(a.stderr, "\nCommands:")
		for _, name := range commandOrder {
			fmt.Fprintf(a.stderr, "  %-11s %s\n", name, commands[name].summary)
		}
		fmt.Fprintln(a.stderr, "\nGlobal flags:")
		fs.PrintDefaults()
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

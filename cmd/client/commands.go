package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/atinyakov/PLMSync/internal/client/cad"
	"github.com/atinyakov/PLMSync/internal/client/prompt"
	"github.com/atinyakov/PLMSync/internal/client/session"
	"github.com/atinyakov/PLMSync/internal/client/workspace"
	"github.com/atinyakov/PLMSync/internal/engine"
	"github.com/atinyakov/PLMSync/internal/models"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(a.stderr, "%s: unexpected arguments: %s\n", fs.Name(), strings.Join(fs.Args(), " "))
		return errUsage
	}
	return nil
}

func (a *app) itemType(cmd, v string) (models.ItemType, error) {
	t := models.ItemType(v)
	if !t.Valid() {
		fmt.Fprintf(a.stderr, "%s: --type must be one of %v\n", cmd, models.ItemTypes)
		return "", errUsage
	}
	return t, nil
}

func (a *app) required(cmd string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			fmt.Fprintf(a.stderr, "%s: --%s is required\n", cmd, pairs[i])
			return errUsage
		}
	}
	return nil
}

// errorExit maps a failed call onto an exit code and reports it.
func (a *app) errorExit(op string, err error) int {
	if errors.Is(err, errUsage) {
		return engine.ExitFailure
	}
	fmt.Fprintf(a.stderr, "%s failed [%s]: %v\n", op, engine.CodeOf(err), err)
	if engine.IsConnectivity(err) || errors.Is(err, session.ErrNoSession) {
		return engine.ExitConnectivity
	}
	return engine.ExitFailure
}

// newEngine connects with the stored session and wires the engine ports.
func (a *app) newEngine() (*engine.Engine, error) {
	sess, err := a.sessions.Load()
	if err != nil {
		return nil, err
	}
	client, err := a.dial(sess.ServerURL, sess.CertFile, sess.KeyFile, sess.CAFile, a.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrAuthExpired, err)
	}

	var cadSession engine.CadSession = cad.Unavailable{}
	if len(a.opts.CadOpenCommand) > 0 {
		cadSession = cad.NewLauncher(a.opts.CadOpenCommand, a.log)
	}
	strategies, err := a.opts.Strategies()
	if err != nil {
		return nil, err
	}

	return engine.New(client, cadSession, workspace.NewOS(), sess,
		engine.WithLogger(a.log),
		engine.WithCallTimeout(a.opts.CallTimeout),
		engine.WithEditableState(a.opts.EditableState),
		engine.WithLinkStrategies(strategies),
		engine.WithCadExtensions(a.opts.CadExtensions),
		engine.WithFileChooser(prompt.FileChooser(a.stdin, a.stdout)),
	), nil
}

func absPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return filepath.Abs(p)
}

func (a *app) cmdRegister(ctx context.Context, args []string) int {
	fs := a.flagSet("register")
	a.opts.BindConnection(fs)
	login := fs.String("login", "", "username to register")
	if err := a.parse(fs, args); err != nil {
		return engine.ExitFailure
	}
	if err := a.required("register", "login", *login); err != nil {
		return engine.ExitFailure
	}

	creds, err := a.register(ctx, a.opts.ServerURL, *login, a.opts.CAFile)
	if err != nil {
		return a.errorExit("register", err)
	}
	if err := creds.Save(a.opts.CertFile, a.opts.KeyFile); err != nil {
		return a.errorExit("register", err)
	}
	fmt.Fprintf(a.stdout, "Registered %s. Certificate saved to %s, key to %s\n", *login, a.opts.CertFile, a.opts.KeyFile)
	return engine.ExitOK
}

func (a *app) cmdLogin(ctx context.Context, args []string) int {
	fs := a.flagSet("login")
	a.opts.BindConnection(fs)
	if err := a.parse(fs, args); err != nil {
		return engine.ExitFailure
	}

	client, err := a.dial(a.opts.ServerURL, a.opts.CertFile, a.opts.KeyFile, a.opts.CAFile, a.log)
	if err != nil {
		return a.errorExit("login", fmt.Errorf("%w: %v", engine.ErrAuthExpired, err))
	}
	callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
	defer cancel()
	user, err := client.Login(callCtx)
	if err != nil {
		return a.errorExit("login", err)
	}

	certFile, _ := absPath(a.opts.CertFile)
	keyFile, _ := absPath(a.opts.KeyFile)
	caFile, _ := absPath(a.opts.CAFile)
	sess := &session.Session{
		ServerURL:  a.opts.ServerURL,
		User:       user,
		CertFile:   certFile,
		KeyFile:    keyFile,
		CAFile:     caFile,
		LoggedInAt: time.Now().UTC(),
	}
	if err := a.sessions.Save(sess); err != nil {
		return a.errorExit("login", err)
	}
	fmt.Fprintf(a.stdout, "Logged in as %s at %s\n", user, a.opts.ServerURL)
	return engine.ExitOK
}

func (a *app) cmdLogout(_ context.Context, args []string) int {
	if err := a.parse(a.flagSet("logout"), args); err != nil {
		return engine.ExitFailure
	}
	if err := a.sessions.Clear(); err != nil {
		return a.errorExit("logout", err)
	}
	fmt.Fprintln(a.stdout, "Logged out")
	return engine.ExitOK
}

func (a *app) cmdStatus(_ context.Context, args []string) int {
	if err := a.parse(a.flagSet("status"), args); err != nil {
		return engine.ExitFailure
	}
	sess, err := a.sessions.Load()
	if errors.Is(err, session.ErrNoSession) {
		fmt.Fprintln(a.stdout, "Not logged in")
		return engine.ExitConnectivity
	}
	if err != nil {
		return a.errorExit("status", err)
	}
	fmt.Fprintf(a.stdout, "User:      %s\nServer:    %s\nSince:     %s\nSession:   %s\n",
		sess.User, sess.ServerURL, sess.LoggedInAt.Local().Format(time.RFC1123), a.sessions.Path())
	return engine.ExitOK
}

type fetchFlags struct {
	item, typ, dest string
	open            bool
}

func (a *app) parseFetch(name string, args []string) (engine.FetchRequest, error) {
	var f fetchFlags
	fs := a.flagSet(name)
	fs.StringVar(&f.item, "item", "", "item id or item number")
	fs.StringVar(&f.typ, "type", string(models.ItemDocument), "item type: Document | CAD | Part")
	fs.StringVar(&f.dest, "dest", ".", "destination folder")
	fs.BoolVar(&f.open, "open", false, "open the downloaded file in the CAD tool")
	a.opts.BindEngine(fs)
	if err := a.parse(fs, args); err != nil {
		return engine.FetchRequest{}, err
	}
	if err := a.required(name, "item", f.item); err != nil {
		return engine.FetchRequest{}, err
	}
	t, err := a.itemType(name, f.typ)
	if err != nil {
		return engine.FetchRequest{}, err
	}
	dest, err := absPath(f.dest)
	if err != nil {
		return engine.FetchRequest{}, err
	}
	return engine.FetchRequest{ItemID: f.item, ItemType: t, DestFolder: dest, OpenInCad: f.open}, nil
}

func (a *app) cmdCheckOut(ctx context.Context, args []string) int {
	req, err := a.parseFetch("checkout", args)
	if err != nil {
		return a.errorExit("checkout", err)
	}
	eng, err := a.newEngine()
	if err != nil {
		return a.errorExit("checkout", err)
	}
	res := eng.CheckOut(ctx, req)
	printResult(a.stdout, res)
	return engine.ExitCode(res)
}

func (a *app) cmdGetLatest(ctx context.Context, args []string) int {
	req, err := a.parseFetch("get-latest", args)
	if err != nil {
		return a.errorExit("get-latest", err)
	}
	eng, err := a.newEngine()
	if err != nil {
		return a.errorExit("get-latest", err)
	}
	res := eng.GetLatest(ctx, req)
	printResult(a.stdout, res)
	return engine.ExitCode(res)
}

func (a *app) cmdCheckIn(ctx context.Context, args []string) int {
	var items, files listFlag
	fs := a.flagSet("checkin")
	fs.Var(&items, "item", "item id or item number; repeat for a batch")
	fs.Var(&files, "file", "working copy of the matching --item; optional")
	typ := fs.String("type", string(models.ItemDocument), "item type: Document | CAD | Part")
	dest := fs.String("dest", ".", "folder searched for working copies")
	closeCad := fs.Bool("close-cad", false, "close the document in the CAD tool afterwards")
	a.opts.BindEngine(fs)
	if err := a.parse(fs, args); err != nil {
		return engine.ExitFailure
	}
	if len(items) == 0 {
		fmt.Fprintln(a.stderr, "checkin: --item is required")
		return engine.ExitFailure
	}
	if len(files) > 0 && len(files) != len(items) {
		fmt.Fprintln(a.stderr, "checkin: give one --file per --item or none")
		return engine.ExitFailure
	}
	t, err := a.itemType("checkin", *typ)
	if err != nil {
		return engine.ExitFailure
	}
	folder, err := absPath(*dest)
	if err != nil {
		return a.errorExit("checkin", err)
	}

	reqs := make([]engine.CheckInRequest, len(items))
	for i, id := range items {
		reqs[i] = engine.CheckInRequest{ItemID: id, ItemType: t, DestFolder: folder, CloseInCad: *closeCad}
		if len(files) > 0 {
			if reqs[i].LocalPath, err = absPath(files[i]); err != nil {
				return a.errorExit("checkin", err)
			}
		}
	}

	eng, err := a.newEngine()
	if err != nil {
		return a.errorExit("checkin", err)
	}
	if len(reqs) == 1 {
		res := eng.CheckIn(ctx, reqs[0])
		printResult(a.stdout, res)
		return engine.ExitCode(res)
	}
	batch := eng.CheckInBatch(ctx, reqs)
	printBatch(a.stdout, batch)
	return engine.BatchExitCode(batch)
}

func (a *app) cmdUnlock(ctx context.Context, args []string) int {
	fs := a.flagSet("unlock")
	item := fs.String("item", "", "item id or item number")
	typ := fs.String("type", string(models.ItemDocument), "item type: Document | CAD | Part")
	yes := fs.Bool("yes", false, "do not ask for confirmation")
	a.opts.BindEngine(fs)
	if err := a.parse(fs, args); err != nil {
		return engine.ExitFailure
	}
	if err := a.required("unlock", "item", *item); err != nil {
		return engine.ExitFailure
	}
	t, err := a.itemType("unlock", *typ)
	if err != nil {
		return engine.ExitFailure
	}

	if !*yes && !prompt.Confirm(a.stdin, a.stdout, fmt.Sprintf("Release the lock on %s %s? Local changes will not be uploaded.", t, *item)) {
		fmt.Fprintln(a.stdout, "Cancelled")
		return engine.ExitOK
	}

	eng, err := a.newEngine()
	if err != nil {
		return a.errorExit("unlock", err)
	}
	if _, err := eng.Unlock(ctx, *item, t); err != nil {
		return a.errorExit("unlock", err)
	}
	fmt.Fprintf(a.stdout, "Unlocked %s %s\n", t, *item)
	return engine.ExitOK
}

func (a *app) cmdSearch(ctx context.Context, args []string) int {
	var where listFlag
	fs := a.flagSet("search")
	typ := fs.String("type", string(models.ItemDocument), "item type: Document | CAD | Part")
	fs.Var(&where, "where", "filter as key=value, % is a wildcard; repeatable")
	a.opts.BindEngine(fs)
	if err := a.parse(fs, args); err != nil {
		return engine.ExitFailure
	}
	t, err := a.itemType("search", *typ)
	if err != nil {
		return engine.ExitFailure
	}
	filter := make(map[string]string, len(where))
	for _, w := range where {
		k, v, ok := strings.Cut(w, "=")
		if !ok || strings.TrimSpace(k) == "" {
			fmt.Fprintf(a.stderr, "search: bad filter %q, want key=value\n", w)
			return engine.ExitFailure
		}
		filter[strings.TrimSpace(k)] = v
	}

	eng, err := a.newEngine()
	if err != nil {
		return a.errorExit("search", err)
	}
	items, err := eng.Search(ctx, t, filter)
	if err != nil {
		return a.errorExit("search", err)
	}
	printItems(a.stdout, items)
	return engine.ExitOK
}

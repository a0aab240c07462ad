// Package main is the entry point for the kvfile tool.
//
// kvfile is a single-file key-value store: each named store is one JSON
// file, reads are served from memory, and writes are coalesced through a
// debounced flush. The tool exposes get/set/del/keys/clear/flush plus a
// watch mode that follows a store for changes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/maruel/kvfile/internal/config"
	"github.com/maruel/kvfile/internal/kvdb"
	"github.com/maruel/kvfile/internal/storage"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const usage = `usage: kvfile [flags] <command> <store> [args]

Commands:
  get <store> <key>          Print the value for key
  set <store> <key> <value>  Set key to value (value parsed as JSON, else string)
  del <store> <key>          Delete key
  keys <store>               List keys in insertion order
  clear <store>              Remove all entries
  flush <store>              Force an immediate write to disk
  dump <store>               Print the full mapping
  watch <store>              Follow the store and print every change
`

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "kvfile: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (default: <data-dir>/config.yaml)")
	dataDir := flag.String("dir", "", "Directory for store files (default: platform config dir)")
	storePath := flag.String("path", "", "Explicit backing file path for the store (first use only)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flushDelay := flag.Duration("flush-delay", 0, "Debounce window for coalesced writes (0 = default)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	dir := *dataDir
	if dir == "" {
		var err error
		if dir, err = storage.DefaultDir(); err != nil {
			return err
		}
	}
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dir, "config.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if *dataDir == "" && cfg.DataDir != "" {
		dir = cfg.DataDir
	}
	if *logLevel == "" {
		*logLevel = cfg.LogLevel
	}
	if *flushDelay == 0 {
		*flushDelay = cfg.FlushDelay()
	}

	ll := &slog.LevelVar{}
	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "", "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		return errors.New("missing command or store name")
	}
	command, name := args[0], args[1]
	args = args[2:]

	var opts []kvdb.Option
	if *flushDelay > 0 {
		opts = append(opts, kvdb.WithFlushDelay(*flushDelay))
	}
	reg := kvdb.NewRegistry(storage.Opener(dir), opts...)
	st, err := reg.Get(name, *storePath, nil)
	if err != nil {
		return err
	}
	if err := st.WaitReady(ctx); err != nil {
		// A failed load leaves the store usable; report and continue.
		slog.WarnContext(ctx, "Store loaded with error", "store", name, "err", err)
	}

	switch command {
	case "get":
		if len(args) != 1 {
			return errors.New("get requires a key")
		}
		v, ok := st.Get(args[0])
		if !ok {
			return fmt.Errorf("key %q not found in store %q", args[0], name)
		}
		return printJSON(v)
	case "set":
		if len(args) != 2 {
			return errors.New("set requires a key and a value")
		}
		if err := st.Set(args[0], parseValue(args[1])); err != nil {
			return err
		}
		// Durability point before the process exits.
		return reg.Flush()
	case "del":
		if len(args) != 1 {
			return errors.New("del requires a key")
		}
		if err := st.Delete(args[0]); err != nil {
			return err
		}
		return reg.Flush()
	case "keys":
		for _, k := range st.Keys() {
			fmt.Println(k)
		}
		return nil
	case "clear":
		if err := st.Clear(); err != nil {
			return err
		}
		return reg.Flush()
	case "flush":
		return st.Flush()
	case "dump":
		return printJSON(st.Snapshot())
	case "watch":
		return watch(ctx, st)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %q", command)
	}
}

// parseValue interprets raw as JSON when possible, else as a plain string,
// then normalizes it for storage.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	normalized, err := kvdb.Normalize(v)
	if err != nil {
		// Unreachable for values built by json.Unmarshal, but keep the
		// adaptation layer on the caller side where it belongs.
		slog.Error("Failed to normalize value", "err", err)
		return raw
	}
	return normalized
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// watch prints every change published by the store. It also watches the
// backing file so edits made by another process show up; the engine itself
// assumes a single writer, so an external write is re-read and printed
// rather than merged into the in-memory state.
func watch(ctx context.Context, st *kvdb.Store) error {
	events, cancel := st.Subscribe()
	defer cancel()
	errs, cancelErrs := st.WatchErrors()
	defer cancelErrs()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(filepath.Dir(st.Path())); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Watching store", "store", st.Name(), "path", st.Path())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Printf("%s %s\n", time.Now().Format("15:04:05.000"), formatEvent(ev))
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Store error", "store", st.Name(), "err", err)
		case fev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if fev.Name == st.Path() && (fev.Has(fsnotify.Write) || fev.Has(fsnotify.Create)) {
				m, err := readExternal(fev.Name)
				if err != nil {
					slog.WarnContext(ctx, "Failed to re-read backing file", "path", fev.Name, "err", err)
					continue
				}
				out, _ := json.Marshal(m)
				fmt.Printf("%s external %s\n", time.Now().Format("15:04:05.000"), out)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching backing file", "err", err)
		}
	}
}

// readExternal loads the backing file as another process wrote it. The
// resulting mapping is only printed, never folded back into the store.
func readExternal(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid store file %s: %w", path, err)
	}
	return m, nil
}

func formatEvent(ev kvdb.Event) string {
	out, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Sprintf("%v %v", ev.ID, ev.Data)
	}
	return fmt.Sprintf("%v %s", ev.ID, out)
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("kvfile %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// Command logify-agent runs the LOGify host agent: it tails the log files
// named by the -watch flag, classifies and enriches each line, evaluates threats,
// persists records locally, and periodically syncs unsynced records to the
// configured aggregator. Flag parsing, structured logging, and shutdown
// ordering are adapted from the teacher's cmd/agent entrypoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DM-Mulani-963/LOGify/internal/activity"
	"github.com/DM-Mulani-963/LOGify/internal/config"
	"github.com/DM-Mulani-963/LOGify/internal/detector"
	"github.com/DM-Mulani-963/LOGify/internal/pipeline"
	"github.com/DM-Mulani-963/LOGify/internal/rulesconfig"
	"github.com/DM-Mulani-963/LOGify/internal/store"
)

func main() {
	var (
		home          = flag.String("home", defaultHome(), "LOGify state directory (config, activity log, database)")
		rulesPath     = flag.String("rules", "", "path to rules.yaml (defaults to <home>/.logify/rules.yaml)")
		watch         = flag.String("watch", "/var/log/auth.log,/var/log/syslog", "comma-separated list of log file paths to tail")
		logLevel      = flag.String("log-level", "info", "diagnostic log level: debug, info, warn, error")
		listenAddr    = flag.String("listen", "127.0.0.1:9090", "address for the local /healthz and /stats introspection surface")
		uploadSeconds = flag.Int("upload-interval", 300, "seconds between sync-uploader cycles")
		shellHistory  = flag.Bool("shell-history", true, "enable the shell-history watcher")
		includeRoot   = flag.Bool("include-root-history", false, "also tail /root's shell history (requires running privileged)")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if err := run(*home, *rulesPath, *watch, *listenAddr, *uploadSeconds, *shellHistory, *includeRoot); err != nil {
		logger.Error("logify-agent exited with error", "error", err)
		os.Exit(1)
	}
}

func run(home, rulesPath, watchList, listenAddr string, uploadSeconds int, shellHistory, includeRoot bool) error {
	if rulesPath == "" {
		rulesPath = filepath.Join(home, ".logify", "rules.yaml")
	}

	rules, err := rulesconfig.Load(rulesPath)
	if err != nil {
		return err
	}

	cfg, err := config.Open(home)
	if err != nil {
		return err
	}

	act, err := activity.Open(filepath.Join(home, ".logify", "activity.log"))
	if err != nil {
		return err
	}
	defer act.Close()
	act.Info(activity.ComponentLogify, "starting logify-agent")

	st, err := store.Open(filepath.Join(home, ".logify", "server.db"))
	if err != nil {
		act.Error(activity.ComponentLogify, "store open failed: %v", err)
		return err
	}
	defer st.Close()

	paths := splitAndClean(watchList)

	if _, err := pipeline.CheckResources(rules.Scheduler, len(paths)); err != nil {
		act.Error(activity.ComponentLogify, "resource guard failed: %v", err)
		return err
	}

	det := detector.New(rules.Detector)

	var opts []pipeline.Option
	opts = append(opts, pipeline.WithUploadInterval(time.Duration(uploadSeconds)*time.Second))
	if shellHistory {
		homes, herr := userHomes()
		if herr != nil {
			act.Warn(activity.ComponentShellHist, "could not enumerate user homes: %v", herr)
		} else {
			opts = append(opts, pipeline.WithShellWatch(homes, includeRoot, 2*time.Second))
		}
	}

	p, err := pipeline.New(rules, cfg, st, det, act, paths, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Start(ctx)
	act.Info(activity.ComponentLogify, "pipeline started, tracking %d paths", len(paths))

	srv := newIntrospectionServer(listenAddr, p)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			act.Warn(activity.ComponentLogify, "introspection server error: %v", err)
		}
	}()

	<-ctx.Done()
	act.Info(activity.ComponentLogify, "shutdown signal received")

	p.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		act.Warn(activity.ComponentLogify, "introspection server shutdown: %v", err)
	}

	act.Info(activity.ComponentLogify, "shutdown complete")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func newIntrospectionServer(addr string, p *pipeline.Pipeline) *http.Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h := p.HealthSnapshot()
		if !h.Running {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.HealthSnapshot())
	})
	return &http.Server{Addr: addr, Handler: r}
}

func defaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

func splitAndClean(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// userHomes enumerates known user home directories for the shell-history
// watcher: every entry under /home, plus the invoking user's own home. The
// system user database is not read, so other users whose homes lie outside
// /home are not found. /root is added separately, gated by
// -include-root-history.
func userHomes() (map[string]string, error) {
	homes := make(map[string]string)

	entries, err := os.ReadDir("/home")
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			homes[e.Name()] = filepath.Join("/home", e.Name())
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if u, err := user.Current(); err == nil {
		if _, ok := homes[u.Username]; !ok && u.HomeDir != "" {
			homes[u.Username] = u.HomeDir
		}
	}

	return homes, nil
}

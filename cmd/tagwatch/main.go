// Command tagwatch listens for RFID reader connections in notification mode
// and reports every event the reader pushes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/tagwatch/internal/auth"
	"github.com/HerbHall/tagwatch/internal/config"
	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/internal/listener"
	"github.com/HerbHall/tagwatch/internal/mqtt"
	"github.com/HerbHall/tagwatch/internal/natspub"
	"github.com/HerbHall/tagwatch/internal/netsession"
	"github.com/HerbHall/tagwatch/internal/recent"
	"github.com/HerbHall/tagwatch/internal/registry"
	"github.com/HerbHall/tagwatch/internal/server"
	"github.com/HerbHall/tagwatch/internal/sink"
	"github.com/HerbHall/tagwatch/internal/version"
	"github.com/HerbHall/tagwatch/internal/webhook"
	"github.com/HerbHall/tagwatch/internal/ws"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	// Subcommand dispatch (before flag parsing).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Println(version.Info())
			return
		case "token":
			os.Exit(runToken(os.Args[2:], os.Stdout, os.Stderr))
		}
	}
	os.Exit(run(os.Args[1:], os.Stderr))
}

// flags holds command-line overrides of the listener section.
type flags struct {
	configPath string
	port       string
	bind       string
	variant    string
	set        map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{set: make(map[string]bool)}
	fs := flag.NewFlagSet("tagwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "path to configuration file")
	fs.StringVar(&f.port, "port", "", "TCP port readers connect to (1-65535)")
	fs.StringVar(&f.bind, "bind", "", "address to bind the reader listener to (empty = any)")
	fs.StringVar(&f.variant, "variant", "", "reader variant: notify or brm")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// apply writes explicit flags over the loaded configuration. An invalid port
// is rejected here and never reaches the listener.
func (f *flags) apply(v *viper.Viper) error {
	if f.set["port"] {
		p, err := listener.ParsePort(f.port)
		if err != nil {
			return err
		}
		v.Set("listener.port", p)
	}
	if f.set["bind"] {
		v.Set("listener.bind_address", f.bind)
	}
	if f.set["variant"] {
		v.Set("listener.variant", f.variant)
	}
	return nil
}

func run(args []string, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	// Load configuration (before logger, so log level/format can be configured).
	v, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitFailure
	}
	if err := f.apply(v); err != nil {
		fmt.Fprintf(stderr, "invalid argument: %v\n", err)
		return exitUsage
	}
	lcfg := config.Listener(v)
	if err := lcfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid listener configuration: %v\n", err)
		return exitUsage
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("tagwatch starting", zap.String("version", version.Short()))
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", used))
	} else {
		logger.Warn("no configuration file found, using defaults", zap.String("component", "config"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus(logger.Named("event"))

	reg, err := startPlugins(ctx, v, bus, logger)
	if err != nil {
		logger.Error("failed to start plugins", zap.Error(err))
		return exitFailure
	}

	out, async, err := buildSink(v, bus, logger)
	if err != nil {
		logger.Error("invalid sink configuration", zap.Error(err))
		reg.StopAll(context.Background())
		return exitUsage
	}

	ctrl, err := listener.New(lcfg,
		listener.Opener(netsession.Opener(logger.Named("netsession"),
			netsession.WithMaxPending(v.GetInt("listener.max_pending")),
		)),
		out,
		logger.Named("listener"),
		listener.WithBus(bus),
	)
	if err != nil {
		logger.Error("failed to create listener", zap.Error(err))
		shutdown(nil, async, reg, nil, nil, logger)
		return exitFailure
	}

	var srv *server.Server
	var wsHandler *ws.Handler
	scfg := server.ConfigFrom(v)
	if scfg.Enabled {
		tokens, err := tokenService(v)
		if err != nil {
			logger.Error("invalid auth configuration", zap.Error(err))
			shutdown(ctrl, async, reg, nil, nil, logger)
			return exitUsage
		}
		if tokens == nil {
			logger.Warn("auth.secret not set, HTTP API is unauthenticated", zap.String("component", "auth"))
		}
		opts := scfg.Options()
		opts.Tokens = tokens
		wsHandler = ws.NewHandler(bus, logger.Named("ws"), scfg.AllowedOrigins...)
		srv = server.New(scfg.Addr(), reg, logger.Named("server"), readiness(ctrl),
			opts,
			listener.NewHandler(ctrl, logger.Named("listener")),
			wsHandler,
		)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("server error", zap.Error(err))
				stop()
			}
		}()
	}

	if v.GetBool("listener.autostart") {
		if err := ctrl.Start(); err != nil {
			logger.Error("listener failed to start", zap.Error(err))
			if srv == nil {
				shutdown(ctrl, async, reg, wsHandler, nil, logger)
				return exitFailure
			}
		}
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")
	shutdown(ctrl, async, reg, wsHandler, srv, logger)
	return exitOK
}

// startPlugins registers every integration, disables the ones switched off
// in configuration, then initializes and starts the rest.
func startPlugins(ctx context.Context, v *viper.Viper, bus plugin.EventBus, logger *zap.Logger) (*registry.Registry, error) {
	cfg := config.New(v)
	reg := registry.New(logger.Named("registry"))
	for _, p := range []plugin.Plugin{webhook.New(), mqtt.New(), natspub.New(), recent.New()} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
		name := p.Info().Name
		if !v.GetBool("plugins." + name + ".enabled") {
			if err := reg.Disable(name); err != nil {
				return nil, err
			}
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("validate plugins: %w", err)
	}
	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		return nil, fmt.Errorf("init plugins: %w", err)
	}
	if err := reg.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("start plugins: %w", err)
	}
	if targets := notifiers(reg); len(targets) > 0 {
		logger.Info("notification targets active", zap.Strings("plugins", targets))
	} else {
		logger.Info("no notification targets enabled; tag observations stay local")
	}
	return reg, nil
}

// notifiers names the active plugins that forward observations off-host.
func notifiers(r plugin.PluginResolver) []string {
	var out []string
	for _, p := range r.ResolveByRole("notification") {
		out = append(out, p.Info().Name)
	}
	return out
}

// buildSink assembles the listener output chain: the log sink inline, and
// the console writer plus the event bus behind an Async buffer so that
// integrations never slow the dispatch loop.
func buildSink(v *viper.Viper, bus plugin.Publisher, logger *zap.Logger) (sink.Sink, *sink.Async, error) {
	downstream := sink.Multi{sink.NewBus(bus, "listener")}
	if v.GetBool("sink.console") {
		minLevel, err := sink.ParseLevel(v.GetString("sink.min_level"))
		if err != nil {
			return nil, nil, err
		}
		downstream = append(downstream, sink.NewWriter(os.Stdout, minLevel))
	}
	async := sink.NewAsync(downstream, v.GetInt("sink.buffer"))
	return sink.Multi{sink.NewLogger(logger.Named("sink")), async}, async, nil
}

func tokenService(v *viper.Viper) (*auth.TokenService, error) {
	secret := v.GetString("auth.secret")
	if secret == "" {
		return nil, nil
	}
	return auth.NewTokenService([]byte(secret), v.GetDuration("auth.token_ttl"))
}

func readiness(ctrl *listener.Controller) server.ReadinessChecker {
	return func(context.Context) error {
		if st := ctrl.State(); st != listener.StateListening {
			return fmt.Errorf("listener is %s", st)
		}
		return nil
	}
}

// shutdown stops the listener first so no new output is produced, then
// flushes the sink buffer before the integrations go away. Components that
// were never built are passed as nil.
func shutdown(ctrl *listener.Controller, async *sink.Async, reg *registry.Registry, wsHandler *ws.Handler, srv *server.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ctrl != nil {
		if err := ctrl.Stop(); err != nil {
			logger.Warn("listener teardown reported errors", zap.Error(err))
		}
	}
	async.Close()
	if wsHandler != nil {
		wsHandler.Close()
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	reg.StopAll(ctx)
	logger.Info("tagwatch stopped")
}

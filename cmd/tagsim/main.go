// Command tagsim plays a scripted reader session against a running tagwatch
// listener. It dials the listener like a reader in notification mode would
// and writes one netsession frame per scenario step.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/tagwatch/internal/netsession"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("tagsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	scenarioPath := fs.String("scenario", "", "path to a YAML scenario (required)")
	addr := fs.String("addr", "", "listener address, overrides the scenario")
	verbose := fs.Bool("v", false, "log every frame")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *scenarioPath == "" {
		fmt.Fprintln(stderr, "tagsim: -scenario is required")
		return 2
	}

	sc, err := LoadScenario(*scenarioPath)
	if err != nil {
		fmt.Fprintf(stderr, "tagsim: %v\n", err)
		return 1
	}
	if *addr != "" {
		sc.Address = *addr
	}

	cfg := zap.NewDevelopmentConfig()
	if !*verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(stderr, "tagsim: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sent, err := Play(ctx, sc, logger)
	logger.Info("scenario finished", zap.Int("frames", sent))
	if err != nil {
		logger.Error("scenario failed", zap.Error(err))
		return 1
	}
	return 0
}

// Play runs the scenario and returns the number of frames written.
func Play(ctx context.Context, sc *Scenario, logger *zap.Logger) (int, error) {
	var d net.Dialer
	sent := 0
	for c := 0; c < sc.Connections; c++ {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, err := d.DialContext(dialCtx, "tcp", sc.Address)
		cancel()
		if err != nil {
			return sent, fmt.Errorf("dial %s: %w", sc.Address, err)
		}
		logger.Info("connected", zap.String("addr", sc.Address), zap.Int("connection", c+1))

		n, err := playSteps(ctx, conn, sc.Steps, logger)
		sent += n
		_ = conn.Close()
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func playSteps(ctx context.Context, w io.Writer, steps []Step, logger *zap.Logger) (int, error) {
	sent := 0
	for _, st := range steps {
		repeat := max(st.Repeat, 1)
		for i := 0; i < repeat; i++ {
			f, err := st.Frame(time.Now())
			if err != nil {
				return sent, err
			}
			if err := netsession.WriteFrame(w, f); err != nil {
				return sent, fmt.Errorf("write %s frame: %w", st.Event, err)
			}
			sent++
			logger.Debug("frame sent", zap.String("event", st.Event), zap.String("tag_id", st.TagID))

			if st.Delay > 0 {
				select {
				case <-ctx.Done():
					return sent, ctx.Err()
				case <-time.After(st.Delay):
				}
			}
		}
	}
	return sent, nil
}

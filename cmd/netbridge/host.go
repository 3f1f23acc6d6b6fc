package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/netbridge/internal/discovery"
	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/obs"
	"github.com/muurk/netbridge/internal/ui"
)

// errReported is returned once a failure has already been shown to the user.
var errReported = errors.New("failed")

// session is what a command runs inside the host.
type session struct {
	// done, if non-nil, ends the host when closed.
	done <-chan struct{}
	stop func()
	// status, if set, replaces hostSpec.status once started.
	status string
}

type hostSpec struct {
	title   string
	command string
	params  map[string]string
	status  string
	handler ui.Handler

	// start creates and starts the endpoints. It runs before the host
	// begins taking deliveries.
	start func(bridge *host.Bridge) (*session, error)

	// troubleshooting is shown when start fails.
	troubleshooting []string
}

// runHost runs spec inside the monitor when --tui is set and stdout is a
// terminal, otherwise inside the console.
func runHost(spec hostSpec) error {
	if useTUI && ui.IsTerminal() {
		return runMonitor(spec)
	}
	return runConsole(spec)
}

func runConsole(spec hostSpec) error {
	console := ui.NewConsole(os.Stdout, spec.handler)
	bridge := host.NewBridge(console)
	console.PrintHeader(spec.title, spec.command, spec.params)

	sess, err := spec.start(bridge)
	if err != nil {
		bridge.Shutdown()
		console.PrintError(spec.title+" failed", err, spec.troubleshooting)
		return errReported
	}

	if sess.status != "" {
		console.Println(ui.StatusStyle.Render(sess.status))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
	case <-sess.done:
	}

	// The host goes away first so no worker blocks on it while being joined.
	bridge.Shutdown()
	sess.stop()
	return nil
}

func runMonitor(spec hostSpec) error {
	mon := ui.NewMonitor(ui.MonitorConfig{
		Title:   spec.title,
		Command: spec.command,
		Params:  spec.params,
		Status:  spec.status,
		Handler: spec.handler,
	})
	bridge := host.NewBridge(mon)

	sess, err := spec.start(bridge)
	if err != nil {
		bridge.Shutdown()
		ui.NewPrinter(os.Stdout).PrintError(spec.title+" failed", err, spec.troubleshooting)
		return errReported
	}

	if sess.status != "" {
		mon.SetStatus(sess.status)
	}

	if sess.done != nil {
		go func() {
			select {
			case <-sess.done:
				mon.Quit()
			case <-mon.Done():
			}
		}()
	}

	runErr := mon.Run()
	bridge.Shutdown()
	sess.stop()
	return runErr
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

// changed returns flagVal if the flag was set on the command line and
// cfgVal otherwise.
func changed[T any](cmd *cobra.Command, flag string, flagVal, cfgVal T) T {
	if cmd.Flags().Changed(flag) {
		return flagVal
	}
	return cfgVal
}

// backendName is bound by every command that touches discovery.
var backendName string

func addBackendFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&backendName, "backend", "zeroconf",
		"mDNS backend ("+strings.Join(discovery.Backends(), ", ")+")")
}

func selectedBackend(cmd *cobra.Command) (discovery.Backend, error) {
	return discovery.NewBackend(changed(cmd, "backend", backendName, cfg.Discovery.Backend))
}

// serveMetrics exposes the Prometheus registry on addr until the returned
// function is called. An empty addr disables it.
func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics listener failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logging.Info("Serving metrics", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

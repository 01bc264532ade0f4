// Command wsecho runs a WebSocket echo server or talks to one.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wsengine/websocket/internal/wsecho"
)

func main() {
	cmd := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	cfg        wsecho.Config
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{
		cfg: wsecho.DefaultConfig(),
	}

	root := &cobra.Command{
		Use:           "wsecho",
		Short:         "wsecho is a WebSocket echo server and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML config file; flags override its values")
	pf.StringSliceVar(&opts.cfg.Subprotocols, "subprotocol", opts.cfg.Subprotocols, "subprotocols to negotiate")
	pf.Int64Var(&opts.cfg.ReadLimit, "read-limit", opts.cfg.ReadLimit, "max message size in bytes, 0 for 32 MiB")
	pf.StringVar(&opts.cfg.Log.Level, "log-level", opts.cfg.Log.Level, "debug, info, warn or error")
	pf.StringVar(&opts.cfg.Log.Format, "log-format", opts.cfg.Log.Format, "text or json")

	root.AddCommand(newServeCmd(opts), newDialCmd(opts))
	return root
}

// load applies the config file under the flags the user set.
func (o *options) load(cmd *cobra.Command) (wsecho.Config, error) {
	if o.configPath == "" {
		return o.cfg, o.cfg.Validate()
	}

	cfg, err := wsecho.LoadConfig(o.configPath)
	if err != nil {
		return wsecho.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = o.cfg.Addr
	}
	if flags.Changed("subprotocol") {
		cfg.Subprotocols = o.cfg.Subprotocols
	}
	if flags.Changed("read-limit") {
		cfg.ReadLimit = o.cfg.ReadLimit
	}
	if flags.Changed("insecure-skip-verify") {
		cfg.InsecureSkipVerify = o.cfg.InsecureSkipVerify
	}
	if flags.Changed("origin") {
		cfg.OriginPatterns = o.cfg.OriginPatterns
	}
	if flags.Changed("rate-every") {
		cfg.Rate.Every = o.cfg.Rate.Every
	}
	if flags.Changed("rate-burst") {
		cfg.Rate.Burst = o.cfg.Rate.Burst
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.cfg.Log.Level
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.cfg.Log.Format
	}
	return cfg, cfg.Validate()
}

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			return serve(ctx, l, cfg, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.cfg.Addr, "addr", opts.cfg.Addr, "address to listen on")
	f.BoolVar(&opts.cfg.InsecureSkipVerify, "insecure-skip-verify", false, "accept any Origin")
	f.StringSliceVar(&opts.cfg.OriginPatterns, "origin", nil, "authorized Origin host patterns")
	f.DurationVar(&opts.cfg.Rate.Every, "rate-every", opts.cfg.Rate.Every, "minimum interval between echoed messages per session, 0 to disable")
	f.IntVar(&opts.cfg.Rate.Burst, "rate-burst", opts.cfg.Rate.Burst, "messages allowed in a burst per session")
	return cmd
}

// serve runs the echo server on l until ctx is done.
func serve(ctx context.Context, l net.Listener, cfg wsecho.Config, logOut io.Writer) error {
	log := wsecho.NewLogger(cfg.Log, logOut)
	ws := wsecho.NewServer(cfg, log)

	hs := &http.Server{
		Handler:           ws,
		ReadHeaderTimeout: time.Second * 10,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- hs.Serve(l)
	}()
	log.Info("listening", "addr", l.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	err := hs.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	err = ws.Shutdown(shutdownCtx)
	if err != nil {
		return err
	}
	err = <-errc
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newDialCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "dial <url>",
		Short: "Send each line of stdin to an echo server and print the replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return wsecho.Dial(ctx, args[0], cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall time limit")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-authsession/chooser"
	"github.com/smnsjas/go-authsession/internal/config"
	"github.com/smnsjas/go-authsession/provider/httpauth"
	"github.com/smnsjas/go-authsession/session"
	"github.com/smnsjas/go-authsession/transport"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath  string
	envFiles    []string
	logLevel    string
	logFile     string
	metricsAddr string
}

// loginFlags control interactive login.
type loginFlags struct {
	ui     bool
	choose bool
	scope  []string
}

func (f *loginFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.ui, "ui", false, "Allow interactive login (credential prompt)")
	cmd.Flags().BoolVar(&f.choose, "choose", false, "Ask which stored account to use when several exist")
	cmd.Flags().StringSliceVar(&f.scope, "scope", nil, "Permission scopes to request")
}

func (f *loginFlags) options(stderr io.Writer) session.Options {
	var c session.Chooser
	if f.choose || f.ui {
		c = chooser.NewSelect()
	}
	progress := func(p session.Progress) {
		if p != session.ProgressAuthorizing {
			fmt.Fprintf(stderr, "%s...\n", p)
		}
	}
	if !f.ui {
		return session.Options{Chooser: c, Progress: progress}
	}
	return session.WithUIAndChoice(c, progress, chooser.NewTermForm().PresentUI)
}

// newRootCmd builds the command tree. The returned function releases what
// the executed command opened.
func newRootCmd() (*cobra.Command, func()) {
	g := &globalFlags{}
	var a *app

	root := &cobra.Command{
		Use:           "authsession",
		Short:         "Authenticated sessions against HTTP services",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath, g.envFiles...)
			if err != nil {
				return err
			}
			if g.logLevel != "" {
				cfg.Log.Level = g.logLevel
			}
			if g.logFile != "" {
				cfg.Log.File = g.logFile
			}
			if g.metricsAddr != "" {
				cfg.Metrics.Addr = g.metricsAddr
			}
			a, err = newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Metrics.Addr != "" {
				return a.serveMetrics(cfg.Metrics.Addr)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultPath(), "Configuration file")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "Environment files to load")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "Write logs to this file (rotated)")
	root.PersistentFlags().StringVar(&g.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	appFn := func() *app { return a }
	root.AddCommand(
		newLoginCmd(appFn),
		newStatusCmd(appFn),
		newCallCmd(appFn),
		newLogoutCmd(appFn),
		newForgetCmd(appFn),
	)
	cleanup := func() {
		if a != nil {
			a.close(context.Background())
			a = nil
		}
	}
	return root, cleanup
}

func newLoginCmd(appFn func() *app) *cobra.Command {
	lf := &loginFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			ctx := cmd.Context()
			s, err := a.manager.GetSession(ctx, lf.options(cmd.ErrOrStderr()), lf.scope)
			if err != nil {
				return err
			}
			if p := s.Provider(); p.SupportsSave() {
				if err := p.SaveAccount(ctx, s.Account()); err != nil {
					return fmt.Errorf("save account: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", s.Account().Username, s.Provider().Name())
			return nil
		},
	}
	lf.register(cmd)
	return cmd
}

func newStatusCmd(appFn func() *app) *cobra.Command {
	var showToken bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the account a silent login would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := a.manager.GetSession(ctx, session.NoUI, nil)
			if err != nil {
				fmt.Fprintf(out, "State: %s\n", a.manager.State())
				return err
			}
			fmt.Fprintf(out, "State:    %s\n", a.manager.State())
			fmt.Fprintf(out, "Provider: %s\n", s.Provider().Name())
			fmt.Fprintf(out, "Account:  %s\n", session.AccountLabel(s.Account()))
			if d := s.Account().Property(httpauth.PropDomain); d != "" {
				fmt.Fprintf(out, "Domain:   %s\n", d)
			}
			if !showToken {
				return nil
			}

			data, err := httpauth.TokenData(ctx, s)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		},
	}
	cmd.Flags().BoolVar(&showToken, "token", false, "Print the token description served by the provider")
	return cmd
}

func newCallCmd(appFn func() *app) *cobra.Command {
	lf := &loginFlags{}
	var method, data string
	var headers []string
	cmd := &cobra.Command{
		Use:   "call PATH",
		Short: "Make an authenticated request, reauthorizing once on 401",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFn()
			req := transport.Request{Method: strings.ToUpper(method), URL: args[0], Header: http.Header{}}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("invalid header %q, want Name: value", h)
				}
				req.Header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
			}
			if data != "" {
				body, err := readData(data, cmd.InOrStdin())
				if err != nil {
					return err
				}
				req.Body = body
			}

			resp, err := session.WithSession(cmd.Context(), a.manager, lf.options(cmd.ErrOrStderr()), lf.scope,
				func(ctx context.Context, s *session.Session) (*transport.Response, error) {
					return httpauth.Do(ctx, s, req)
				})
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(resp.Body)
			return err
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "Request body; @file reads a file, @- reads stdin")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra header, e.g. 'Accept: application/json'")
	lf.register(cmd)
	return cmd
}

func readData(data string, stdin io.Reader) ([]byte, error) {
	switch {
	case data == "@-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		return os.ReadFile(data[1:])
	default:
		return []byte(data), nil
	}
}

func newLogoutCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out of the current account and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			s, err := a.manager.GetSession(cmd.Context(), session.NoUI, nil)
			if err != nil {
				var lerr *session.LoginError
				if errors.As(err, &lerr) {
					fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
					return nil
				}
				return err
			}
			if err := a.manager.CloseSession(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged out %s\n", s.Account().Username)
			return nil
		},
	}
}

func newForgetCmd(appFn func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Delete every stored account of the configured providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFn()
			if err := a.manager.CloseSession(); err != nil {
				return err
			}
			for _, id := range a.cfg.ServiceIDs() {
				if err := a.store.DeleteService(cmd.Context(), id); err != nil {
					return fmt.Errorf("forget %s: %w", id, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot accounts of %s\n", strings.Join(a.cfg.ServiceIDs(), ", "))
			return nil
		},
	}
}

// exitCode maps errors onto process exit codes.
func exitCode(err error) int {
	switch {
	case session.IsCancellation(err):
		return 130
	case errors.Is(err, session.ErrOffline):
		return 3
	case errors.Is(err, session.ErrNotLoggedIn), errors.As(err, new(*session.LoginError)):
		return 2
	default:
		return 1
	}
}

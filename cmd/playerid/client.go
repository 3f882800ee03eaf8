// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pickiss/playerid/internal/identity"
	"github.com/pickiss/playerid/internal/identityclient"
	"github.com/pickiss/playerid/internal/prefs"
	"github.com/pickiss/playerid/internal/xdg"
)

// clientSession is one CLI invocation's identity stack.
type clientSession struct {
	store   *prefs.Store
	backend *identityclient.Client
	manager *identity.Manager
	out     io.Writer
	errOut  io.Writer
	in      *bufio.Reader
	yes     bool
}

func (s *clientSession) Close() error {
	return s.store.Close()
}

// NewClientCmd creates the client subcommand.
func NewClientCmd(root *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Sign in to a playerid backend as this device",
		Long: `Sign in to a playerid backend as this device. The session token and
login marker are kept in the local preference database between runs.`,
	}
	cmd.PersistentFlags().String("server-url", "", "backend base URL (default http://localhost:8080)")
	cmd.PersistentFlags().String("prefs", "", "preference database path (default: XDG_DATA_HOME/playerid/prefs.db)")

	run := func(fn func(ctx context.Context, s *clientSession, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := openClientSession(cmd, root, args, yes)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := s.Close(); closeErr != nil {
					fmt.Fprintln(s.errOut, "warning: close preferences:", closeErr)
				}
			}()
			return fn(cmd.Context(), s, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "anonymous",
		Short: "Sign in, resuming the cached session when possible",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, s *clientSession, _ []string) error {
			if err := s.signIn(ctx); err != nil {
				return err
			}
			s.printState()
			return nil
		}),
	})

	link := &cobra.Command{
		Use:   "link PROVIDER CREDENTIAL",
		Short: "Link an Apple or Google Play Games account to this player",
		Long: `Link an Apple identity token (PROVIDER apple.com) or a Google Play Games
server auth code (PROVIDER google-play-games) to this player. When the
account already belongs to another player you are asked whether to switch
to it.`,
		Args: cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, s *clientSession, args []string) error {
			if err := s.signIn(ctx); err != nil {
				return err
			}
			var (
				out identity.Outcome
				err error
			)
			switch identity.Provider(strings.ToLower(args[0])) {
			case identity.ProviderApple:
				out, err = s.manager.LinkApple(ctx)
			case identity.ProviderGooglePlayGames:
				out, err = s.manager.LinkGooglePlayGames(ctx)
			}
			if err != nil {
				return err
			}
			if out == identity.OutcomeSuccess {
				s.printState()
			}
			return nil
		}),
	}
	link.Flags().BoolVarP(&yes, "yes", "y", false, "switch accounts without asking")
	cmd.AddCommand(link)

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the signed-in player",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, s *clientSession, _ []string) error {
			if err := s.signIn(ctx); err != nil {
				return err
			}
			s.printState()
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sign-out",
		Short: "End the session and forget the cached session token",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, s *clientSession, _ []string) error {
			if s.backend.SessionTokenExists() {
				if err := s.signIn(ctx); err != nil {
					return err
				}
				if err := s.backend.SignOut(ctx); err != nil {
					return err
				}
			}
			if err := s.backend.ClearSessionToken(); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "signed out")
			return nil
		}),
	})

	return cmd
}

func openClientSession(cmd *cobra.Command, root *rootOptions, args []string, yes bool) (*clientSession, error) {
	cfg, err := root.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := setupLogging(cmd, cfg)

	path := cfg.Client.PrefsPath
	if path == "" {
		if path, err = xdg.PrefsFile(); err != nil {
			return nil, err
		}
	}
	store, err := prefs.Open(cmd.Context(), path)
	if err != nil {
		return nil, err
	}

	s := &clientSession{
		store:  store,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		in:     bufio.NewReader(cmd.InOrStdin()),
		yes:    yes,
	}

	s.backend, err = identityclient.New(cfg.Client.BaseURL,
		identityclient.WithTokenStore(prefs.TokenStore{Store: store}),
		identityclient.WithVersion(clientVersion()),
		identityclient.WithLogger(logger),
		identityclient.WithHTTPClient(&http.Client{Timeout: cfg.ClientTimeout()}),
	)
	if err != nil {
		_ = store.Close() //nolint:errcheck // construction error takes precedence
		return nil, err
	}

	managerOpts := []identity.Option{
		identity.WithLogger(logger),
		identity.WithLoginMarker(prefs.LoginMarker{Store: store}),
	}
	if cmd.Name() == "link" && len(args) == 2 {
		provider, err := parseProvider(args[0])
		if err != nil {
			_ = store.Close() //nolint:errcheck // validation error takes precedence
			return nil, err
		}
		managerOpts = append(managerOpts, identity.WithCredentialSource(&promptCredential{
			provider: provider,
			first:    args[1],
			session:  s,
		}))
	}

	s.manager, err = identity.New(s.backend, managerOpts...)
	if err != nil {
		_ = store.Close() //nolint:errcheck // construction error takes precedence
		return nil, err
	}
	return s, nil
}

// signIn runs the manager's startup sign-in with terminal callbacks.
func (s *clientSession) signIn(ctx context.Context) error {
	_, err := s.manager.Init(ctx, identity.Callbacks{
		OnError:   s.onError,
		OnRefresh: s.printState,
		OnConfirm: func(action identity.SwitchAction) { s.onConfirm(ctx, action) },
	})
	return err
}

func (s *clientSession) onError(msg string) {
	fmt.Fprintln(s.errOut, "error:", msg)
}

func (s *clientSession) onConfirm(ctx context.Context, action identity.SwitchAction) {
	if !s.yes {
		fmt.Fprintf(s.out, "This %s account is already linked to another player. Switch to it? [y/N] ", action.Provider)
		if !s.readYes() {
			fmt.Fprintln(s.out, "kept the current player")
			return
		}
	}
	if _, err := action.Run(ctx); err != nil {
		slog.Debug("account switch failed", "provider", string(action.Provider), "error", err)
	}
}

func (s *clientSession) readYes() bool {
	line, err := s.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (s *clientSession) printState() {
	st := s.manager.State()
	ids := st.ExternalIDs
	if ids == "" {
		ids = "none"
	}
	fmt.Fprintf(s.out, "player_id: %s\n", s.manager.PlayerID())
	fmt.Fprintf(s.out, "identities: %s\n", ids)
}

// promptCredential hands out the credential from the command line first.
// Play Games auth codes are single use, so later requests prompt for a new
// code.
type promptCredential struct {
	provider identity.Provider
	first    string
	used     bool
	session  *clientSession
}

func (p *promptCredential) Provider() identity.Provider { return p.provider }

func (p *promptCredential) Credential(context.Context) (string, error) {
	if !p.used {
		p.used = true
		return p.first, nil
	}
	if p.provider != identity.ProviderGooglePlayGames {
		return p.first, nil
	}
	fmt.Fprint(p.session.out, "Enter a new Google Play Games server auth code: ")
	line, err := p.session.in.ReadString('\n')
	code := strings.TrimSpace(line)
	if code == "" {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return "", oops.Code("CLIENT_CREDENTIAL_MISSING").Wrap(err)
	}
	return code, nil
}

func parseProvider(s string) (identity.Provider, error) {
	switch p := identity.Provider(strings.ToLower(s)); p {
	case identity.ProviderApple, identity.ProviderGooglePlayGames:
		return p, nil
	default:
		return "", oops.Code("CLIENT_PROVIDER_UNKNOWN").
			With("provider", s).
			Errorf("unknown provider %q (want %s or %s)", s, identity.ProviderApple, identity.ProviderGooglePlayGames)
	}
}

// clientVersion is the build version when it is semver, else the client
// default, so the backend's minimum version check can parse it.
func clientVersion() string {
	if _, err := semver.NewVersion(version); err != nil {
		return identityclient.DefaultVersion
	}
	return version
}

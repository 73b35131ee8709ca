// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/stacklok/umakit/pkg/logger"
	"github.com/stacklok/umakit/pkg/networking"
	"github.com/stacklok/umakit/pkg/oauth"
)

const (
	defaultLoginTimeout = 5 * time.Minute
	shutdownTimeout     = 5 * time.Second
)

// openBrowser is replaced in tests.
var openBrowser = browser.OpenURL

type callbackResult struct {
	tokens *oauth.TokenSet
	err    error
}

type loginOutput struct {
	Subject  string       `json:"subject,omitempty"`
	Username string       `json:"preferred_username,omitempty"`
	Tokens   tokenSummary `json:"tokens"`
}

func newLoginCmd(rt *runtime) *cobra.Command {
	var (
		scopes    []string
		noBrowser bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log a user in with the authorization code flow",
		Long: `Start the authorization code flow for the configured client and wait for the
provider to redirect back. A local listener is bound to the host and port of the
configured redirect_uri, which must point at this machine.

The state returned by the provider must match the one this login issued; PKCE is
used when use_pkce is set in the settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := rt.newClient(cmd)
			if err != nil {
				return err
			}
			defer closeClient(c)

			callback, err := url.Parse(c.Config().RedirectURI)
			if err != nil || callback.Host == "" {
				return fmt.Errorf("redirect_uri %q is not usable for a local login", c.Config().RedirectURI)
			}
			if !networking.IsLocalhost(callback.Hostname()) {
				return fmt.Errorf("redirect_uri %q does not point at this machine", c.Config().RedirectURI)
			}

			listener, err := net.Listen("tcp", callback.Host)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", callback.Host, err)
			}

			session := c.NewSession()
			results := make(chan callbackResult, 1)

			path := callback.Path
			if path == "" {
				path = "/"
			}
			router := chi.NewRouter()
			router.Get(path, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				var res callbackResult
				if code := q.Get("error"); code != "" {
					res.err = fmt.Errorf("provider returned %s: %s", code, q.Get("error_description"))
				} else {
					res.tokens, res.err = session.Callback(r.Context(), q.Get("state"), q.Get("code"))
				}

				if res.err != nil {
					http.Error(w, "Login failed. You may close this window.", http.StatusBadRequest)
				} else {
					_, _ = fmt.Fprintln(w, "Login complete. You may close this window.")
				}

				select {
				case results <- res:
				default:
				}
			})

			server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Errorf("callback listener failed: %v", err)
				}
			}()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = server.Shutdown(ctx)
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if len(scopes) == 0 {
				scopes = c.Config().Scopes
			}
			authURL, err := session.Login(ctx, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Open the following URL to log in:\n\n  %s\n\n", authURL)
			if !noBrowser {
				if err := openBrowser(authURL); err != nil {
					logger.Warnf("failed to open browser: %v", err)
				}
			}

			var res callbackResult
			select {
			case res = <-results:
			case <-ctx.Done():
				return fmt.Errorf("no login callback received: %w", ctx.Err())
			}
			if res.err != nil {
				return res.err
			}

			out := loginOutput{Tokens: summarize(res.tokens)}
			if info, err := c.Authenticator.UserInfo(ctx, res.tokens.AccessToken); err != nil {
				logger.Warnf("failed to fetch user info: %v", err)
			} else {
				out.Subject = info.Subject
				out.Username = info.PreferredUsername
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to request (defaults to the configured scopes)")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the login URL without opening a browser")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultLoginTimeout, "How long to wait for the callback")

	return cmd
}

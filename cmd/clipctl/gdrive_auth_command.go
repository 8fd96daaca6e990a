package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"clipmill/internal/storage"
)

func newGDriveAuthCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Obtain a Google Drive refresh token for the gdrive storage provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
			clientSecret := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
			if clientID == "" || clientSecret == "" {
				return errors.New("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET must be set")
			}
			out := cmd.OutOrStdout()

			// 1) Levanta un callback local en un puerto libre
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			defer ln.Close()

			port := ln.Addr().(*net.TCPAddr).Port
			redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", port)
			conf := storage.DriveOAuthConfig(clientID, clientSecret, redirectURL)

			state := randomState()
			codeCh := make(chan string, 1)
			errCh := make(chan error, 1)

			srv := &http.Server{
				Handler:      callbackHandler(state, codeCh, errCh),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			go func() {
				_ = srv.Serve(ln)
			}()
			defer srv.Close()

			// 2) URL de autorización (offline => refresh token)
			authURL := conf.AuthCodeURL(
				state,
				oauth2.AccessTypeOffline,
				oauth2.SetAuthURLParam("prompt", "consent"),
			)
			fmt.Fprintf(out, "\nOpen this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", authURL, redirectURL)

			// 3) Espera code o error
			var code string
			select {
			case code = <-codeCh:
			case err := <-errCh:
				return err
			case <-time.After(wait):
				return errors.New("timed out waiting for authorization")
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			// 4) Intercambia code por tokens
			tok, err := conf.Exchange(cmd.Context(), code)
			if err != nil {
				return fmt.Errorf("token exchange: %w", err)
			}

			// Sin prompt=consent el refresh token puede venir vacío si ya se autorizó antes.
			if strings.TrimSpace(tok.RefreshToken) == "" {
				fmt.Fprintln(out, "\nNo refresh_token was returned.")
				fmt.Fprintln(out, "Revoke the app's previous access at https://myaccount.google.com/permissions and run this again.")
				return nil
			}

			fmt.Fprintf(out, "\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 3*time.Minute, "How long to wait for the browser callback")
	return cmd
}

// report never blocks; only the first callback counts.
func report[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "invalid state", http.StatusBadRequest)
			report(errCh, errors.New("invalid state"))
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "auth error: "+e, http.StatusBadRequest)
			report(errCh, fmt.Errorf("auth error: %s", e))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			report(errCh, errors.New("missing code"))
			return
		}

		fmt.Fprintln(w, "OK. You can close this window and return to the terminal.")
		report(codeCh, code)
	})
	return mux
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

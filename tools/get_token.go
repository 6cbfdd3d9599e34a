// Command get_token performs the one-time OAuth2 consent flow and prints the
// refresh token the reconciler needs for Gmail API access. It listens on a
// local callback port so the authorization code is captured without any
// copy-pasting from the browser.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

func main() {
	port := flag.Int("port", 8080, "local port for the OAuth2 callback")
	timeout := flag.Duration("timeout", 5*time.Minute, "how long to wait for the browser consent")
	flag.Parse()

	clientID := os.Getenv("GMAIL_CLIENT_ID")
	clientSecret := os.Getenv("GMAIL_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal("GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET must be set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  fmt.Sprintf("http://localhost:%d/callback", *port),
	}

	codes := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorization received, you can close this tab.")
		codes <- code
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", *port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Callback server failed: %v", err)
		}
	}()

	fmt.Println("Open this URL in your browser and grant read-only inbox access:")
	fmt.Println()
	fmt.Println(conf.AuthCodeURL("topup-reconciler", oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	var code string
	select {
	case code = <-codes:
	case <-time.After(*timeout):
		log.Fatal("Timed out waiting for the OAuth2 callback")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		log.Fatalf("Code exchange failed: %v", err)
	}
	if tok.RefreshToken == "" {
		log.Fatal("No refresh token in the response; revoke the app's access and run the flow again")
	}

	fmt.Println()
	fmt.Println("Add this to the reconciler's environment:")
	fmt.Printf("export GMAIL_REFRESH_TOKEN=%q\n", tok.RefreshToken)
	fmt.Printf("\nAccess token (expires %s): %s\n", tok.Expiry.Format(time.RFC3339), tok.AccessToken)
}

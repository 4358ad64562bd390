package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pendergraft/whichdex/pkg/client"
)

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var serverFlag string
	var apiKeyFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with server",
		Long: `Save an API key for a whichdex server.

The key is stored in ~/.whichdex/credentials with owner-only permissions.

EXAMPLES:
  # Interactive login (prompts for API key)
  whichdex auth login

  # Login to a specific server
  whichdex auth login --server https://whichdex.example.com

  # Non-interactive login (for CI)
  whichdex auth login --api-key $WHICHDEX_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(cmd.OutOrStdout(), serverFlag, apiKeyFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key (prompts if not provided)")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var serverFlag string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear credentials",
		Long: `Remove saved credentials for a server.

EXAMPLES:
  # Logout from default server
  whichdex auth logout

  # Clear all credentials
  whichdex auth logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(cmd.OutOrStdout(), serverFlag, allFlag)
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "", "server URL (default from config)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd.OutOrStdout())
		},
	}
}

func runAuthLogin(w io.Writer, serverURL, apiKeyInput string) error {
	if serverURL == "" {
		serverURL = getServer()
	}

	key := apiKeyInput
	if key == "" {
		fmt.Fprintf(w, "Enter API key for %s: ", serverURL)

		// Read without echo when attached to a terminal
		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			byteKey, err := term.ReadPassword(stdinFd)
			fmt.Fprintln(w)
			if err != nil {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			key = string(byteKey)
		} else {
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			key = line
		}
		key = strings.TrimSpace(key)
	}

	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	fmt.Fprintf(w, "Validating credentials with %s...\n", serverURL)
	valid, err := validateAPIKey(context.Background(), serverURL, key)
	if err != nil {
		return fmt.Errorf("failed to validate credentials: %w", err)
	}
	if !valid {
		return fmt.Errorf("invalid API key")
	}

	if err := saveCredential(serverURL, key); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(w, "Authenticated to %s (key: %s)\n", serverURL, maskAPIKey(key))
	fmt.Fprintf(w, "Credentials saved to %s\n", credentialsFilePath())

	return nil
}

func runAuthLogout(w io.Writer, serverURL string, all bool) error {
	if all {
		if err := os.Remove(credentialsFilePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Fprintln(w, "All credentials cleared")
		return nil
	}

	if serverURL == "" {
		serverURL = getServer()
	}

	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(w, "No credentials found for %s\n", serverURL)
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, exists := creds.Servers[credentialKey(serverURL)]; !exists {
		fmt.Fprintf(w, "No credentials found for %s\n", serverURL)
		return nil
	}

	delete(creds.Servers, credentialKey(serverURL))

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(w, "Logged out from %s\n", serverURL)
	return nil
}

func runAuthStatus(w io.Writer) error {
	creds, err := loadCredentials()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if creds == nil || len(creds.Servers) == 0 {
		fmt.Fprintln(w, "Not authenticated to any servers")
		fmt.Fprintln(w, "\nRun 'whichdex auth login' to authenticate")
		return nil
	}

	servers := make([]string, 0, len(creds.Servers))
	for s := range creds.Servers {
		servers = append(servers, s)
	}
	sort.Strings(servers)

	fmt.Fprintln(w, "Authenticated servers:")
	for _, s := range servers {
		cred := creds.Servers[s]
		line := fmt.Sprintf("  - %s (key: %s", s, maskAPIKey(cred.APIKey))
		if cred.Name != "" {
			line += ", " + cred.Name
		}
		if !cred.SavedAt.IsZero() {
			line += ", saved " + cred.SavedAt.Format("2006-01-02")
		}
		fmt.Fprintln(w, line+")")
	}

	return nil
}

// validateAPIKey probes an authenticated route. Reads are public, so a
// DELETE of a reference id that cannot exist is used: a valid key gets 404,
// an invalid one 401.
func validateAPIKey(ctx context.Context, serverURL, key string) (bool, error) {
	err := client.New(serverURL, key).DeleteReference(ctx, "00000000-0000-0000-0000-000000000000")
	if err == nil {
		return true, nil
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return false, nil
		case http.StatusNotFound:
			return true, nil
		}
	}
	return false, err
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

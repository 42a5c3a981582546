package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"feedkeeper/pkg/auth"
	"feedkeeper/pkg/config"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage feed access tokens",
	Long: `Manage stored feed access tokens.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - FEEDKEEPER_ACCESS_TOKEN (read only)

Obtain an access token from the feed's developer portal and paste it
into 'feedkeeper auth login'.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [account]",
	Short: "Store an access token",
	Example: `  feedkeeper auth login
  feedkeeper auth login work`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [account]",
	Short: "Remove a stored access token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored accounts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)
}

// accountArg picks the account from the argument, --account or the config
func accountArg(a *app, args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if a.cfg.Feed.Account != "" {
		return a.cfg.Feed.Account
	}
	return auth.DefaultAccount
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := accountArg(a, args)
	fmt.Fprintf(cmd.ErrOrStderr(), "Access token for %s (input is hidden): ", name)
	token, err := readSecret(cmd.InOrStdin())
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return errors.New("access token is required")
	}

	if err := manager.Store(&auth.Account{Name: name, AccessToken: token}); err != nil {
		return err
	}
	a.out.Success("Token stored for %s (%s)", name, auth.MaskToken(token))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := accountArg(a, args)
	if err := manager.Delete(name); err != nil {
		return err
	}
	a.out.Success("Token removed for %s", name)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		a.out.Warning("No stored tokens. Run '%s auth login'.", config.AppName)
		return nil
	}

	for _, account := range accounts {
		fmt.Fprintf(a.out.Out, "%s\t%s\t%s\n", account.Name, auth.MaskToken(account.AccessToken),
			account.LastModified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// readSecret reads a line without echo when in is a terminal
func readSecret(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

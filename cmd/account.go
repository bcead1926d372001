package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/lokseva/internal/auth"
	"github.com/fakeyudi/lokseva/internal/identity"
	"github.com/fakeyudi/lokseva/internal/logging"
)

var (
	flagEmail    string
	flagPassword string
	flagName     string
	flagPhone    string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store credentials for the client",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, _, err := newController(cfg, logging.New(cmd.ErrOrStderr(), cfg.LogLevel))
		if err != nil {
			return err
		}
		password, err := readPassword(cmd, flagPassword)
		if err != nil {
			return err
		}
		id, err := ctrl.Login(cmd.Context(), flagEmail, password)
		if err != nil {
			return authFailure(err)
		}
		cmd.Printf("Signed in as %s <%s>\n", id.Name, id.Email)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, _, err := newController(cfg, logging.New(cmd.ErrOrStderr(), cfg.LogLevel))
		if err != nil {
			return err
		}
		password, err := readPassword(cmd, flagPassword)
		if err != nil {
			return err
		}
		id, err := ctrl.Register(cmd.Context(), identity.Profile{
			Name:     flagName,
			Email:    flagEmail,
			Phone:    flagPhone,
			Password: password,
		})
		if err != nil {
			return authFailure(err)
		}
		cmd.Printf("Account created. Signed in as %s <%s>\n", id.Name, id.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, store, err := newController(cfg, logging.New(cmd.ErrOrStderr(), cfg.LogLevel))
		if err != nil {
			return err
		}
		creds, err := store.Load()
		if err != nil {
			if errors.Is(err, identity.ErrNoCredentials) {
				cmd.Println("not signed in")
				return nil
			}
			return err
		}
		ctrl.Resume(*creds)
		if err := ctrl.Logout(cmd.Context()); err != nil {
			// Local credentials are gone either way.
			cmd.PrintErrf("warning: server logout failed: %v\n", err)
		}
		cmd.Println("Signed out.")
		return nil
	},
}

// readPassword returns flagValue when set, otherwise prompts without echo
// on a terminal or reads one line from stdin.
func readPassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if in, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(in.Fd()) {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		b, err := term.ReadPassword(in.Fd())
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// authFailure turns an auth error into the message the user should see.
func authFailure(err error) error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return errors.New(authErr.Message)
	}
	return err
}

func init() {
	loginCmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&flagPassword, "password", "", "password (prompted when omitted)")

	registerCmd.Flags().StringVar(&flagName, "name", "", "full name")
	registerCmd.Flags().StringVar(&flagEmail, "email", "", "account email")
	registerCmd.Flags().StringVar(&flagPhone, "phone", "", "phone number (optional)")
	registerCmd.Flags().StringVar(&flagPassword, "password", "", "password (prompted when omitted)")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd)
}

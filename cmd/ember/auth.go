package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/ember/internal/models"
	"golang.org/x/term"
)

func newLoginCmd() *cobra.Command {
	var (
		configPath string
		token      string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a backend API token",
		Long:  "Validates a dev-dash API token against the backend and stores it in the local store. Without --token the token is read from the terminal without echo.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				t, err := readToken(cmd)
				if err != nil {
					return err
				}
				token = t
			}

			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			user, err := e.session().Login(cmd.Context(), token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s as %s\n", e.cfg.APIURL, displayName(user.DisplayName, user.Username))
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&token, "token", "", "API token (prompted for when omitted)")
	return cmd
}

// readToken prompts for a token. Terminal input is read without echo;
// piped input is read up to the first newline.
func readToken(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	fmt.Fprint(cmd.ErrOrStderr(), "API token: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func displayName(name, username string) string {
	if name == "" {
		return username
	}
	return fmt.Sprintf("%s (%s)", name, username)
}

func newLogoutCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.session().Logout(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", e.cfg.APIURL)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newWhoamiCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the user behind the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, configPath)
			if err != nil {
				return err
			}
			defer e.Close()

			user, err := e.whoami(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:     %s\n", displayName(user.DisplayName, user.Username))
			if user.Email != "" {
				fmt.Fprintf(out, "Email:    %s\n", user.Email)
			}
			fmt.Fprintf(out, "Backend:  %s\n", e.cfg.APIURL)
			if e.cfg.Project != "" {
				fmt.Fprintf(out, "Project:  %s\n", e.cfg.Project)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// whoami resolves the current user. An EMBER_TOKEN override is checked
// directly since it never lands in the store.
func (e *env) whoami(cmd *cobra.Command) (*models.User, error) {
	if e.cfg.Token != "" {
		return e.client.Me(cmd.Context())
	}
	return e.session().Whoami(cmd.Context())
}

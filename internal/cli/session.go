package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"

	"github.com/spf13/cobra"
)

func newLoginCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in to the dashboard. The session is stored in the session file
and reused by later commands until logout.

Without --password the password is read from the first line of stdin.

Examples:
  dsctl login --email admin@dynamicsolutions.digital
  echo "$PASSWORD" | dsctl login --email admin@dynamicsolutions.digital`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")

			email = strings.TrimSpace(email)
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if password == "" {
				p, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = p
			}
			if password == "" {
				return fmt.Errorf("a password is required")
			}

			s, err := o.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			account, err := s.resolver.SignIn(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			state, err := s.await(cmd.Context(), func(st domain.SessionState) bool {
				return st.Account != nil && st.Account.ID == account.ID
			})
			if err != nil {
				return fmt.Errorf("resolve session: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", account.Email, describeRole(state))
			return nil
		},
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (read from stdin when empty)")
	return cmd
}

func newWhoamiCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account, role and company",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			s, err := o.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			state := s.resolver.State()
			out := cmd.OutOrStdout()
			if format == "json" {
				return json.NewEncoder(out).Encode(state.View())
			}
			if !state.Authenticated() {
				fmt.Fprintln(out, "Not signed in.")
				return nil
			}

			fmt.Fprintf(out, "Email:    %s\n", state.Account.Email)
			fmt.Fprintf(out, "Account:  %s\n", state.Account.ID)
			fmt.Fprintf(out, "Role:     %s\n", state.Role)
			if state.Tenant != nil {
				fmt.Fprintf(out, "Company:  %s (%s)\n", state.Tenant.Name, state.Tenant.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", "text", "Output format (text or json)")
	return cmd
}

func newLogoutCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			if !s.resolver.State().Authenticated() {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
				return nil
			}
			if err := s.resolver.SignOut(cmd.Context()); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}
			if _, err := s.await(cmd.Context(), func(st domain.SessionState) bool {
				return !st.Authenticated()
			}); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Get the application's version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dsctl version: %s\n", Version)
		},
	}
}

func describeRole(s domain.SessionState) string {
	if s.Tenant != nil {
		return fmt.Sprintf("%s at %s", s.Role, s.Tenant.Name)
	}
	return string(s.Role)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coursemart/authclient/identity"
	"github.com/coursemart/authclient/session"
)

var (
	password    string
	remember    bool
	firstName   string
	lastName    string
	role        string
	acceptTerms bool
	jsonOutput  bool
)

var errNotSignedIn = errors.New("not signed in; run coursectl login --remember to keep a session")

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in; --remember keeps the session across invocations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
			user, err := a.store.Login(cmd.Context(), args[0], pw, remember)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", user.DisplayName(), user.Role)
			if !remember {
				fmt.Fprintln(cmd.OutOrStdout(), "Session ends with this process; use --remember to keep it.")
			}
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and sign in when the server allows it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
			user, err := a.store.Register(cmd.Context(), session.RegisterInput{
				Email:       args[0],
				Password:    pw,
				FirstName:   firstName,
				LastName:    lastName,
				Role:        identity.Role(role),
				AcceptTerms: acceptTerms,
				Remember:    remember,
			})
			if err != nil {
				return err
			}
			if user == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Account created. Check your email and run coursectl verify <email> <code>.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created, signed in as %s\n", user.DisplayName())
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <email> <code>",
	Short: "Confirm an email address with the emailed code",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
			user, err := a.store.VerifyEmailCode(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Email verified, signed in as %s\n", user.DisplayName())
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
			view := a.store.View()
			if view.User == nil {
				return errNotSignedIn
			}
			return printIdentity(cmd.OutOrStdout(), view.User, view.State)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
			a.store.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Send an authenticated GET and print the JSON response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), cmd.ErrOrStderr(), func(a *app) error {
			var raw json.RawMessage
			if err := a.api.Get(cmd.Context(), args[0], &raw); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		})
	},
}

func readPassword(cmd *cobra.Command) (string, error) {
	if password != "" {
		return password, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required: pass --password or pipe it on stdin")
	}
	return pw, nil
}

func printIdentity(w io.Writer, user *identity.Identity, state session.State) error {
	if jsonOutput {
		return json.NewEncoder(w).Encode(user)
	}
	fmt.Fprintf(w, "%s <%s>\n", user.DisplayName(), user.Email)
	fmt.Fprintf(w, "  id:       %s\n", user.ID)
	fmt.Fprintf(w, "  role:     %s\n", user.Role)
	fmt.Fprintf(w, "  verified: %t\n", user.EmailVerified)
	fmt.Fprintf(w, "  session:  %s\n", state)
	return nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&password, "password", "", "Password; read from stdin when empty")
		c.Flags().BoolVar(&remember, "remember", false, "Keep the session across invocations")
	}
	registerCmd.Flags().StringVar(&firstName, "first-name", "", "First name")
	registerCmd.Flags().StringVar(&lastName, "last-name", "", "Last name")
	registerCmd.Flags().StringVar(&role, "role", string(identity.RoleStudent), "Account role: student or tutor")
	registerCmd.Flags().BoolVar(&acceptTerms, "accept-terms", false, "Accept the terms of service")
	whoamiCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the identity as JSON")

	rootCmd.AddCommand(loginCmd, registerCmd, verifyCmd, whoamiCmd, logoutCmd, getCmd)
}

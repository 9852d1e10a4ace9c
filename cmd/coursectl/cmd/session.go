package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/coursemart/authclient/config"
	"github.com/coursemart/authclient/persist"
	bboltstorage "github.com/coursemart/authclient/storage/bbolt"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Local session store tools",
	Long:  `Commands for inspecting the session store kept in the data directory.`,
}

var inspectJSON bool

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Check the stored session without contacting the server",
	Long: `Opens the session store read-only and reports whether the remembered
identity and refresh cookies can be restored on the next start. Token and
cookie values are never printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		report, err := inspectStore(cfg, time.Now())
		if err != nil {
			return err
		}
		if inspectJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), cfg, report)
		}
		if !report.Valid {
			return errors.New("session store has failing checks")
		}
		return nil
	},
}

func inspectStore(cfg config.Config, now time.Time) (persist.Report, error) {
	if _, err := os.Stat(cfg.SessionDBPath()); err != nil {
		return persist.Report{}, fmt.Errorf("no session store at %s: %w", cfg.SessionDBPath(), err)
	}
	var key []byte
	if cfg.SealRecords {
		if _, err := os.Stat(cfg.DeviceKeyPath()); err == nil {
			secret, err := persist.LoadOrCreateDeviceSecret(cfg.DeviceKeyPath())
			if err != nil {
				return persist.Report{}, err
			}
			if key, err = persist.SealKey(secret); err != nil {
				return persist.Report{}, err
			}
		}
	}
	db, err := bboltstorage.NewRepositoryFromFile(cfg.SessionDBPath(), &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return persist.Report{}, fmt.Errorf("failed to open session storage: %w", err)
	}
	defer db.Close()
	return persist.Inspect(db, key, now), nil
}

func printReport(w io.Writer, cfg config.Config, r persist.Report) {
	fmt.Fprintf(w, "Store:   %s\n", cfg.SessionDBPath())
	if r.UserID != "" {
		fmt.Fprintf(w, "User:    %s <%s> (%s)\n", r.UserID, r.Email, r.Role)
	}
	fmt.Fprintf(w, "Cookies: %d live, %d expired\n\n", r.Cookies, r.ExpiredCookie)
	for _, c := range r.Checks {
		line := fmt.Sprintf("  [%s] %s", c.Status, c.Name)
		if c.Detail != "" {
			line += ": " + c.Detail
		}
		fmt.Fprintln(w, line)
	}
	if r.Valid {
		fmt.Fprintln(w, "\nResult: OK")
	} else {
		fmt.Fprintln(w, "\nResult: FAILED")
	}
}

func init() {
	sessionInspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print the report as JSON")
	sessionCmd.AddCommand(sessionInspectCmd)
	rootCmd.AddCommand(sessionCmd)
}

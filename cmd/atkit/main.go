// atkit is a command-line client for AT Protocol personal data servers.
// It works against remote servers (https://) and local filesystem
// stores (file://) through the same commands.
//
// Usage:
//
//	atkit login --pds https://bsky.social alice.bsky.social
//	atkit create-record app.bsky.feed.post '{"text":"hello"}'
//	atkit subscribe --pds file:///tmp/pds
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atkit-dev/atkit"
)

var (
	flagPDS     string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "atkit",
		Short:         "Client for AT Protocol personal data servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagPDS, "pds", "", "PDS URL (https://host or file:///path); defaults to the configured or last-used server")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newCreateAccountCmd(),
		newRemoveAccountCmd(),
		newCreateRecordCmd(),
		newGetRecordCmd(),
		newListRecordsCmd(),
		newDeleteRecordCmd(),
		newSubscribeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "atkit:", err)
		os.Exit(1)
	}
}

// openPDS resolves the target URL from the flag, the config file, or
// the persisted session, in that order.
func openPDS() (atkit.Pds, error) {
	target := flagPDS
	if target == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		target = cfg.PDS
	}
	if target == "" {
		if sess, err := loadSession(); err == nil {
			target = sess.PDS
		}
	}
	if target == "" {
		return nil, fmt.Errorf("no PDS configured; pass --pds or run 'atkit login --pds <url>'")
	}

	opts := []atkit.Option{}
	if flagVerbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		opts = append(opts, atkit.WithLogger(logger))
	}
	return atkit.Open(target, opts...)
}

// currentSession restores the persisted session against its PDS.
func currentSession() (atkit.Session, error) {
	stored, err := loadSession()
	if err != nil {
		return nil, fmt.Errorf("not logged in (run 'atkit login'): %w", err)
	}
	if flagPDS != "" && flagPDS != stored.PDS {
		return nil, fmt.Errorf("session belongs to %s, not %s; log in again", stored.PDS, flagPDS)
	}

	pds, err := atkit.Open(stored.PDS)
	if err != nil {
		return nil, err
	}
	did, err := stored.did()
	if err != nil {
		return nil, err
	}
	return atkit.RestoreSession(pds, did, stored.AccessToken, stored.RefreshToken), nil
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atkit-dev/atkit"
	"github.com/atkit-dev/atkit/auth"
	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// readPassword returns the flag value or prompts on stderr and reads a
// line from stdin.
func readPassword(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLoginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <identifier>",
		Short: "Authenticate and persist the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			pw, err := readPassword(password)
			if err != nil {
				return err
			}
			creds, err := auth.NewCredentials(args[0], pw)
			if err != nil {
				return err
			}

			pds, err := openPDS()
			if err != nil {
				return err
			}
			session, err := pds.Login(ctx, creds)
			if err != nil {
				return err
			}

			err = saveSession(storedSession{
				DID:          session.DID().String(),
				PDS:          session.PDS().String(),
				AccessToken:  session.AccessToken().Raw(),
				RefreshToken: session.RefreshToken().Raw(),
			})
			if err != nil {
				return err
			}
			fmt.Printf("logged in as %s on %s\n", session.DID(), session.PDS())
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted if omitted)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearSession()
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account behind the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			session, err := currentSession()
			if err != nil {
				return err
			}
			info, err := session.Describe(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s) on %s\n", info.Handle, info.DID, session.PDS())
			return nil
		},
	}
}

func newCreateAccountCmd() *cobra.Command {
	var password, email, inviteCode string
	cmd := &cobra.Command{
		Use:   "create-account <handle>",
		Short: "Register a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			pw, err := readPassword(password)
			if err != nil {
				return err
			}
			pds, err := openPDS()
			if err != nil {
				return err
			}
			out, err := pds.CreateAccount(ctx, auth.CreateAccountParams{
				Handle:     args[0],
				Password:   pw,
				Email:      email,
				InviteCode: inviteCode,
			})
			if err != nil {
				return err
			}
			fmt.Printf("created %s (%s)\n", out.Handle, out.DID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted if omitted)")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&inviteCode, "invite-code", "", "invite code, if the server requires one")
	return cmd
}

func newRemoveAccountCmd() *cobra.Command {
	var password, token string
	cmd := &cobra.Command{
		Use:   "remove-account <did>",
		Short: "Delete an account and all its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			did, err := syntax.ParseDID(args[0])
			if err != nil {
				return err
			}
			pw, err := readPassword(password)
			if err != nil {
				return err
			}
			pds, err := openPDS()
			if err != nil {
				return err
			}
			if err := pds.DeleteAccount(ctx, did, pw, token); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", did)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted if omitted)")
	cmd.Flags().StringVar(&token, "token", "", "deletion confirmation token, if the server requires one")
	return cmd
}

func newCreateRecordCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "create-record <collection> <json>",
		Short: "Create a record in the session's repo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			collection, err := syntax.ParseNSID(args[0])
			if err != nil {
				return err
			}
			session, err := currentSession()
			if err != nil {
				return err
			}

			if raw {
				uri, cid, err := session.CreateRecordRaw(ctx, collection, []byte(args[1]))
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", uri, cid)
				return nil
			}

			var fields map[string]any
			if err := json.Unmarshal([]byte(args[1]), &fields); err != nil {
				return fmt.Errorf("record body is not a JSON object: %w", err)
			}
			value := repo.ValueWithType(collection, fields)
			uri, err := session.CreateRecord(ctx, collection, value)
			if err != nil {
				return err
			}
			fmt.Println(uri)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "send the body as-is; requires an explicit $type field")
	return cmd
}

func newGetRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-record <at-uri>",
		Short: "Fetch a record by AT URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			uri, err := syntax.ParseATURI(args[0])
			if err != nil {
				return err
			}
			session, err := currentSession()
			if err != nil {
				return err
			}
			rec, err := session.GetRecord(ctx, uri)
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

func newListRecordsCmd() *cobra.Command {
	var repoDID, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "list-records <collection>",
		Short: "List one page of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			collection, err := syntax.ParseNSID(args[0])
			if err != nil {
				return err
			}
			session, err := currentSession()
			if err != nil {
				return err
			}

			target := session.DID()
			if repoDID != "" {
				target, err = syntax.ParseDID(repoDID)
				if err != nil {
					return err
				}
			}

			out, err := session.ListRecords(ctx, target, collection, limit, cursor)
			if err != nil {
				return err
			}
			for _, rec := range out.Records {
				if err := printJSON(rec); err != nil {
					return err
				}
			}
			if out.Cursor != "" {
				fmt.Fprintf(os.Stderr, "next cursor: %s\n", out.Cursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repoDID, "repo", "", "repo DID (defaults to the session's own repo)")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (server default if 0)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "page cursor from a previous listing")
	return cmd
}

func newDeleteRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-record <at-uri>",
		Short: "Delete a record from the session's repo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			uri, err := syntax.ParseATURI(args[0])
			if err != nil {
				return err
			}
			session, err := currentSession()
			if err != nil {
				return err
			}
			if err := session.DeleteRecord(ctx, uri); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", uri)
			return nil
		},
	}
}

func newSubscribeCmd() *cobra.Command {
	var cursor int64
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Stream repository events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			pds, err := openPDS()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("cursor") {
				err = atkit.SubscribeReposFrom(ctx, pds, cursor, printEvent)
			} else {
				err = atkit.SubscribeRepos(ctx, pds, printEvent)
			}
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "replay from this sequence number")
	return cmd
}

func printJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// printEvent renders one firehose event as a JSON line.
func printEvent(event *repo.Event) error {
	switch {
	case event.Commit != nil:
		return printJSON(map[string]any{"kind": "commit", "commit": event.Commit})
	case event.Identity != nil:
		return printJSON(map[string]any{"kind": "identity", "identity": event.Identity})
	case event.HandleChange != nil:
		return printJSON(map[string]any{"kind": "handle", "handle": event.HandleChange})
	case event.AccountStatus != nil:
		return printJSON(map[string]any{"kind": "account", "account": event.AccountStatus})
	case event.Tombstone != nil:
		return printJSON(map[string]any{"kind": "tombstone", "tombstone": event.Tombstone})
	case event.Info != nil:
		return printJSON(map[string]any{"kind": "info", "info": event.Info})
	}
	return nil
}

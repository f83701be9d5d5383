// Command historyctl inspects and seeds conversation history in the bridge's
// DynamoDB table.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"linebot-bridge/internal/domain"
	"linebot-bridge/internal/repository"
	"linebot-bridge/internal/usecase"
)

// maxRetentionSeconds is the largest retention a time.Duration can hold.
const maxRetentionSeconds = math.MaxInt64 / int64(time.Second)

type storeOptions struct {
	table     string
	ttlAttr   string
	retention time.Duration
}

// openStoreFunc builds the history store once flags are parsed.
type openStoreFunc func(ctx context.Context, opts storeOptions) (usecase.HistoryStore, error)

func main() {
	if err := newRootCmd(openDynamoStore, os.Getenv).Execute(); err != nil {
		os.Exit(1)
	}
}

func openDynamoStore(ctx context.Context, opts storeOptions) (usecase.HistoryStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return repository.New(awsdynamodb.NewFromConfig(cfg), opts.table, opts.ttlAttr, opts.retention)
}

func newRootCmd(open openStoreFunc, getenv func(string) string) *cobra.Command {
	opts := storeOptions{retention: defaultRetention(getenv)}

	root := &cobra.Command{
		Use:          "historyctl",
		Short:        "Inspect and seed LINE conversation history",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.table, "table", getenv("DDB_TABLE_NAME"), "DynamoDB table name")
	root.PersistentFlags().StringVar(&opts.ttlAttr, "ttl-attr", getenv("TTL_ATTR_NAME"), "TTL attribute name")
	root.PersistentFlags().DurationVar(&opts.retention, "retention", opts.retention, "retention applied to appended turns")

	root.AddCommand(newShowCmd(open, &opts), newAppendCmd(open, &opts))
	return root
}

func newShowCmd(open openStoreFunc, opts *storeOptions) *cobra.Command {
	var asMessages bool
	cmd := &cobra.Command{
		Use:   "show <conversation-key>",
		Short: "Print every stored turn of a conversation, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			turns, err := store.LoadAll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asMessages {
				// Context the model would see, without the next user turn.
				messages := usecase.BuildMessages(turns, "", 0)
				return writeJSONLines(cmd.OutOrStdout(), messages[:len(messages)-1])
			}
			return writeJSONLines(cmd.OutOrStdout(), turns)
		},
	}
	cmd.Flags().BoolVar(&asMessages, "messages", false, "print the assembled model context instead of raw turns")
	return cmd
}

func newAppendCmd(open openStoreFunc, opts *storeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "append <conversation-key> <user|assistant> <text>",
		Short: "Append one turn to a conversation",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := domain.Role(args[1])
			if role != domain.RoleUser && role != domain.RoleAssistant {
				return fmt.Errorf("role must be %q or %q, got %q", domain.RoleUser, domain.RoleAssistant, args[1])
			}
			if args[2] == "" {
				return errors.New("text must not be empty")
			}
			store, err := open(cmd.Context(), *opts)
			if err != nil {
				return err
			}
			if err := store.Append(cmd.Context(), args[0], role, args[2]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "appended %s turn to %s\n", role, args[0])
			return err
		},
	}
}

func defaultRetention(getenv func(string) string) time.Duration {
	n, err := strconv.ParseInt(getenv("TTL_KEEP_SECONDS"), 10, 64)
	if err != nil || n <= 0 || n > maxRetentionSeconds {
		return 0
	}
	return time.Duration(n) * time.Second
}

func writeJSONLines[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

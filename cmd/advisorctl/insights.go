package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/store"
	"github.com/ashureev/shsh-guard/internal/usage"
)

var errConversationNotFound = errors.New("conversation not found")

func newInsightsCmd(root *rootOptions) *cobra.Command {
	var (
		dbPath    string
		userID    string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Show tool usage insights for a stored session",
		Long: `Load a persisted conversation from the server database and print the
success rate of every tool used at least three times.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			repo, err := store.NewSQLite(dbPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer repo.Close()

			conv, err := repo.GetConversation(cmd.Context(), userID, sessionID)
			if err != nil {
				return fmt.Errorf("load conversation: %w", err)
			}
			if conv == nil {
				return fmt.Errorf("%w: %s/%s", errConversationNotFound, userID, sessionID)
			}

			s := convo.RestoreOrDefault([]byte(conv.ContextJSON), slog.Default())
			insights := usage.FromContext(nil, s.Snapshot(), usage.DefaultCapacity).LearningInsights()
			if insights == nil {
				insights = []usage.Insight{}
			}
			return root.writeJSON(cmd.OutOrStdout(), map[string]any{
				"user_id":    userID,
				"session_id": sessionID,
				"insights":   insights,
			})
		},
	}

	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/guard.db"
	}
	cmd.Flags().StringVar(&dbPath, "db", defaultDB, "SQLite database path")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "default", "Session ID")
	return cmd
}

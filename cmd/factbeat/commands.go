package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adesege/factbeat/internal/config"
	"github.com/adesege/factbeat/internal/transcript"
)

// --- messages ---

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Manage stored chat messages",
}

var messagesAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store a chat message and queue fact extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		direction, _ := cmd.Flags().GetString("direction")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/messages", map[string]any{
			"user_id":   userID,
			"direction": direction,
			"content":   args[0],
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored message %s (%s)", result["id"], result["status"])
		return nil
	},
}

func init() {
	messagesAddCmd.Flags().String("user", "", "user the message belongs to")
	messagesAddCmd.Flags().String("direction", "inbound", "inbound (user speaking) or outbound (assistant)")
	messagesCmd.AddCommand(messagesAddCmd)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a chat export and queue fact extraction",
	Long: `Import a chat export and queue fact extraction.

Supported formats: WhatsApp .txt export, Telegram Desktop .html export,
and print-to-PDF chat transcripts.

Examples:
  factbeat import chat.txt --user ada
  factbeat import messages.html --user ada --assistant "Tax Bot"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		assistant, _ := cmd.Flags().GetString("assistant")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		messages, err := transcript.ParseFile(args[0], transcript.Options{
			UserID:        userID,
			AssistantName: assistant,
		})
		if err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}
		if len(messages) == 0 {
			printWarning("No messages found in %s", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Importing %d messages...", len(messages))
		imported := 0
		for _, m := range messages {
			resp, err := client.post(cmd.Context(), "/messages", map[string]any{
				"user_id":    m.UserID,
				"direction":  m.Direction,
				"content":    m.Content,
				"created_at": m.CreatedAt.Format(time.RFC3339),
			})
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			imported++
		}

		printSuccess("Imported %d messages for %s", imported, userID)
		return nil
	},
}

func init() {
	importCmd.Flags().String("user", "", "user the transcript belongs to")
	importCmd.Flags().String("assistant", "", "sender name recorded as outbound (the assistant)")
}

// --- facts ---

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Inspect extracted facts",
}

var factsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active facts for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		layer, _ := cmd.Flags().GetString("layer")
		asJSON, _ := cmd.Flags().GetBool("json")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/users/" + url.PathEscape(userID) + "/facts"
		if layer != "" {
			path += "?layer=" + url.QueryEscape(layer)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var facts []struct {
			EntityName      string    `json:"entity_name"`
			Layer           string    `json:"layer"`
			FactContent     string    `json:"fact_content"`
			Confidence      float64   `json:"confidence"`
			LastConfirmedAt time.Time `json:"last_confirmed_at"`
		}
		if err := decodeJSON(resp, &facts); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(facts)
		}

		if len(facts) == 0 {
			fmt.Println("No active facts.")
			return nil
		}
		for _, f := range facts {
			fmt.Printf("%s  %s = %s  (%.2f, confirmed %s)\n",
				colorize(colorCyan, f.Layer),
				colorize(colorBold, f.EntityName),
				f.FactContent,
				f.Confidence,
				f.LastConfirmedAt.Format("2006-01-02"),
			)
		}
		return nil
	},
}

var factsHistoryCmd = &cobra.Command{
	Use:   "history <entity>",
	Short: "Show the supersession chain for one entity, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/users/" + url.PathEscape(userID) + "/facts/" + url.PathEscape(args[0]) + "/history"
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var history []struct {
			ID           string  `json:"id"`
			FactContent  string  `json:"fact_content"`
			Confidence   float64 `json:"confidence"`
			IsSuperseded bool    `json:"is_superseded"`
			CreatedAt    string  `json:"created_at"`
		}
		if err := decodeJSON(resp, &history); err != nil {
			return err
		}

		for _, f := range history {
			marker := colorize(colorGreen, "active    ")
			if f.IsSuperseded {
				marker = colorize(colorYellow, "superseded")
			}
			fmt.Printf("%s  %s  %s  (%.2f)\n", marker, f.CreatedAt, f.FactContent, f.Confidence)
		}
		return nil
	},
}

func init() {
	factsListCmd.Flags().String("user", "", "user to list facts for")
	factsListCmd.Flags().String("layer", "", "filter by layer: project, area, resource, archive")
	factsListCmd.Flags().Bool("json", false, "output raw JSON")
	factsHistoryCmd.Flags().String("user", "", "user to show history for")
	factsCmd.AddCommand(factsListCmd)
	factsCmd.AddCommand(factsHistoryCmd)
}

// --- heartbeat ---

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Run fact extraction heartbeats",
}

var heartbeatRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a heartbeat for a user now and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		since, _ := cmd.Flags().GetString("since")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/users/" + url.PathEscape(userID) + "/heartbeat"
		if since != "" {
			path += "?since=" + url.QueryEscape(since)
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var summary map[string]any
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	heartbeatRunCmd.Flags().String("user", "", "user to run the heartbeat for")
	heartbeatRunCmd.Flags().String("since", "", "override window start (RFC3339); default resumes from the cursor")
	heartbeatCmd.AddCommand(heartbeatRunCmd)
}

// --- rejected ---

var rejectedCmd = &cobra.Command{
	Use:   "rejected",
	Short: "List candidates that lost confidence arbitration",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/users/%s/rejected?limit=%d", url.PathEscape(userID), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var rejected []struct {
			EntityName  string  `json:"entity_name"`
			FactContent string  `json:"fact_content"`
			Confidence  float64 `json:"confidence"`
			Reason      string  `json:"reason"`
			CreatedAt   string  `json:"created_at"`
		}
		if err := decodeJSON(resp, &rejected); err != nil {
			return err
		}

		if len(rejected) == 0 {
			fmt.Println("No rejected candidates.")
			return nil
		}
		for _, rc := range rejected {
			fmt.Printf("%s  %s = %s  (%.2f)\n    %s\n",
				rc.CreatedAt,
				colorize(colorBold, rc.EntityName),
				rc.FactContent,
				rc.Confidence,
				rc.Reason,
			)
		}
		return nil
	},
}

func init() {
	rejectedCmd.Flags().String("user", "", "user to list rejected candidates for")
	rejectedCmd.Flags().Int("limit", 50, "maximum number of rejected candidates")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

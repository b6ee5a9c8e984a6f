package main

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/tutord/internal/config"
	"github.com/kalambet/tutord/internal/objectstore"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Upload a textbook and index it for a subject",
	Long: `Upload a textbook and index it for a subject.

The file is written to the configured object store and the server is asked
to extract and chunk it.

Examples:
  tutord ingest --user u1 --subject history --file ./egypt.pdf
  tutord ingest --user u1 --subject geography --file ./rivers.txt --title "Rivers"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		userID, _ := cmd.Flags().GetString("user")
		subject, _ := cmd.Flags().GetString("subject")
		title, _ := cmd.Flags().GetString("title")

		if file == "" || userID == "" || subject == "" {
			return fmt.Errorf("--file, --user and --subject are required")
		}
		if title == "" {
			title = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}
		objects, err := objectstore.Open(cmd.Context(), objectstore.Options{
			Backend:        cfg.ObjectStore.Backend,
			Bucket:         cfg.ObjectStore.Bucket,
			LocalDir:       cfg.ObjectStore.LocalDir,
			SupabaseURL:    cfg.ObjectStore.SupabaseURL,
			SupabaseKey:    cfg.ObjectStore.SupabaseKey,
			GCSCredentials: cfg.ObjectStore.GCSCredentials,
		})
		if err != nil {
			return fmt.Errorf("opening object store: %w", err)
		}

		client, err := newAPIClient(userID)
		if err != nil {
			return err
		}

		printStep("Uploading %s (%d bytes)", filepath.Base(file), len(data))
		result, err := ingestFile(cmd.Context(), client, objects, ingestArgs{
			userID:  userID,
			subject: subject,
			title:   title,
			file:    file,
			data:    data,
		})
		if err != nil {
			return err
		}

		printSuccess("Textbook %s indexed into %d chunks", result.TextbookID, result.ChunksCreated)
		return nil
	},
}

type ingestArgs struct {
	userID  string
	subject string
	title   string
	file    string
	data    []byte
}

type ingestResult struct {
	Success       bool   `json:"success"`
	TextbookID    string `json:"textbookId"`
	ChunksCreated int    `json:"chunksCreated"`
}

func objectName(userID, file string) string {
	return userID + "/" + filepath.Base(file)
}

func ingestFile(ctx context.Context, client *apiClient, objects objectstore.Store, a ingestArgs) (ingestResult, error) {
	name := objectName(a.userID, a.file)
	contentType := mime.TypeByExtension(filepath.Ext(a.file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	fileURL, err := objects.Put(ctx, name, a.data, contentType)
	if err != nil {
		return ingestResult{}, fmt.Errorf("uploading %s: %w", name, err)
	}

	resp, err := client.post(ctx, "/functions/v1/process-textbook", map[string]string{
		"userId":    a.userID,
		"subjectId": a.subject,
		"title":     a.title,
		"fileName":  name,
		"fileUrl":   fileURL,
	})
	if err != nil {
		return ingestResult{}, err
	}
	var result ingestResult
	if err := decodeJSON(resp, &result); err != nil {
		return ingestResult{}, err
	}
	return result, nil
}

func init() {
	ingestCmd.Flags().String("file", "", "textbook file to upload (PDF or plain text)")
	ingestCmd.Flags().String("user", "", "owner user ID")
	ingestCmd.Flags().String("subject", "", "subject ID or name")
	ingestCmd.Flags().String("title", "", "textbook title (default: file name)")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the tutor a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		subject, _ := cmd.Flags().GetString("subject")
		persona, _ := cmd.Flags().GetString("persona")
		conversation, _ := cmd.Flags().GetString("conversation")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient(userID)
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/functions/v1/chat", map[string]any{
			"message":        strings.Join(args, " "),
			"persona":        persona,
			"subject":        subject,
			"userId":         userID,
			"conversationId": conversation,
		})
		if err != nil {
			return err
		}

		var reply struct {
			Message        string   `json:"message"`
			Images         []string `json:"images"`
			ConversationID string   `json:"conversationId"`
		}
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}

		fmt.Println(reply.Message)
		if len(reply.Images) > 0 {
			printStatus("Images", "%d generated", len(reply.Images))
		}
		printStatus("Conversation", "%s", reply.ConversationID)
		return nil
	},
}

func init() {
	askCmd.Flags().String("user", "", "user ID")
	askCmd.Flags().String("subject", "history", "subject ID or name")
	askCmd.Flags().String("persona", "normal", "genz, personal or normal")
	askCmd.Flags().String("conversation", "", "continue an existing conversation")
}

// --- leaderboard ---

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show a user's leaderboard among friends",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		sortBy, _ := cmd.Flags().GetString("sort")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient(userID)
		if err != nil {
			return err
		}

		q := url.Values{"userId": {userID}, "sort": {sortBy}}
		resp, err := client.get(cmd.Context(), "/v1/leaderboard?"+q.Encode())
		if err != nil {
			return err
		}

		var entries []struct {
			Name          string `json:"name"`
			TotalPoints   int    `json:"total_points"`
			Rank          int    `json:"rank"`
			IsCurrentUser bool   `json:"isCurrentUser"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		for _, e := range entries {
			line := fmt.Sprintf("%3d  %-24s %6d", e.Rank, e.Name, e.TotalPoints)
			if e.IsCurrentUser {
				line = colorize(colorBold, line)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	leaderboardCmd.Flags().String("user", "", "user ID")
	leaderboardCmd.Flags().String("sort", "total", "total, content or activity")
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
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}

		verbose, _ := cmd.Flags().GetBool("env")
		for _, s := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, s.Key), s.Value)
			if verbose {
				fmt.Printf("      %s\n", colorize(colorCyan, strings.Join(append([]string{s.Env}, s.Aliases...), ", ")))
			}
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
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
	configShowCmd.Flags().Bool("env", false, "also print the environment variables for each key")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ibarra/escucha/internal/composer"
	"github.com/ibarra/escucha/internal/config"
)

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add <url-or-video-id>",
	Short: "Fetch, structure, and ingest a video lesson",
	Long: `Fetch the video's transcript, structure it into a bilingual lesson,
and queue it for ingestion into the vector store.

Examples:
  escucha add https://www.youtube.com/watch?v=dQw4w9WgXcQ
  escucha add dQw4w9WgXcQ --languages es,en`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		languagesStr, _ := cmd.Flags().GetString("languages")

		req := map[string]any{}
		if strings.Contains(args[0], "/") || strings.Contains(args[0], "=") {
			req["url"] = args[0]
		} else {
			req["video_id"] = args[0]
		}
		if languagesStr != "" {
			var languages []string
			for _, l := range strings.Split(languagesStr, ",") {
				if l = strings.TrimSpace(l); l != "" {
					languages = append(languages, l)
				}
			}
			req["languages"] = languages
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Fetching and structuring transcript...")
		resp, err := client.post("/lessons", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Lesson %s queued for ingestion", result["video_id"])
		return nil
	},
}

func init() {
	addCmd.Flags().String("languages", "", "comma-separated transcript language preference")
}

// --- lessons ---

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "List ingested lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/lessons")
		if err != nil {
			return err
		}

		var result struct {
			Lessons []struct {
				VideoID    string `json:"video_id"`
				Language   string `json:"language"`
				Status     string `json:"status"`
				ChunkCount int    `json:"chunk_count"`
			} `json:"lessons"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Lessons) == 0 {
			fmt.Println("no lessons yet; use `escucha add` to ingest one")
			return nil
		}
		for _, l := range result.Lessons {
			fmt.Printf("  %s  %s  %s  (%d chunks)\n",
				colorize(colorBold, l.VideoID), l.Language, l.Status, l.ChunkCount)
		}
		return nil
	},
}

var lessonsShowCmd = &cobra.Command{
	Use:   "show <video-id>",
	Short: "Show a structured lesson as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/lessons/" + args[0])
		if err != nil {
			return err
		}

		var l any
		if err := decodeJSON(resp, &l); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	},
}

var lessonsDeleteCmd = &cobra.Command{
	Use:   "delete <video-id>",
	Short: "Delete a lesson and its vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/lessons/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted lesson %s", args[0])
		return nil
	},
}

func init() {
	lessonsCmd.AddCommand(lessonsShowCmd)
	lessonsCmd.AddCommand(lessonsDeleteCmd)
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about a lesson",
	Long: `Ask a question, answered under one of the stage modes.

Examples:
  escucha ask "¿Qué significa 'hola'?" --video dQw4w9WgXcQ
  escucha ask "How do greetings work?" --mode base
  escucha ask "What is said first?" --video dQw4w9WgXcQ --mode raw_transcript`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID, _ := cmd.Flags().GetString("video")
		mode, _ := cmd.Flags().GetString("mode")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/ask", map[string]any{
			"mode":     mode,
			"video_id": videoID,
			"query":    strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var result struct {
			Answer     string   `json:"answer"`
			ChunkIDs   []string `json:"chunk_ids"`
			Ungrounded bool     `json:"ungrounded"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		if result.Ungrounded {
			printWarning("answered without lesson material")
		} else if len(result.ChunkIDs) > 0 {
			printStatus("Sources", "%s", strings.Join(result.ChunkIDs, ", "))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("video", "", "restrict to this video's lesson")
	askCmd.Flags().String("mode", string(composer.ModeRAG), "stage mode: base, raw_transcript, structured, rag")
}

// --- quiz ---

var quizCmd = &cobra.Command{
	Use:   "quiz <topic>",
	Short: "Generate a multiple choice question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID, _ := cmd.Flags().GetString("video")
		mode, _ := cmd.Flags().GetString("mode")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/quiz", map[string]any{
			"mode":     mode,
			"video_id": videoID,
			"topic":    strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var result struct {
			Question   questionPayload `json:"question"`
			Ungrounded bool            `json:"ungrounded"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printQuestion(result.Question)
		if result.Ungrounded {
			printWarning("generated without lesson material")
		}
		return nil
	},
}

func init() {
	quizCmd.Flags().String("video", "", "source video for grounding")
	quizCmd.Flags().String("mode", string(composer.ModeRAG), "base or rag")
}

// --- exercise ---

var exerciseCmd = &cobra.Command{
	Use:   "exercise <video-id>",
	Short: "Generate a practice conversation with a comprehension question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/exercise", map[string]any{
			"video_id": args[0],
			"topic":    topic,
		})
		if err != nil {
			return err
		}

		var result struct {
			Conversation string          `json:"conversation"`
			Question     questionPayload `json:"question"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(colorize(colorBold, "Conversation:"))
		fmt.Println(result.Conversation)
		fmt.Println()
		printQuestion(result.Question)
		return nil
	},
}

func init() {
	exerciseCmd.Flags().String("topic", "", "optional topic hint")
}

type questionPayload struct {
	QuestionTarget  string `json:"question_target"`
	QuestionEnglish string `json:"question_english"`
	Options         []struct {
		TextTarget  string `json:"text_target"`
		TextEnglish string `json:"text_english"`
		IsCorrect   bool   `json:"is_correct"`
	} `json:"options"`
}

func printQuestion(q questionPayload) {
	fmt.Printf("%s\n%s\n\n", colorize(colorBold, q.QuestionTarget), q.QuestionEnglish)
	for i, o := range q.Options {
		marker := " "
		if o.IsCorrect {
			marker = colorize(colorGreen, "*")
		}
		fmt.Printf("  %s %c) %s (%s)\n", marker, 'a'+i, o.TextTarget, o.TextEnglish)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

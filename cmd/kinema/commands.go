package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/spf13/cobra"

	"github.com/kinemalab/kinema/internal/config"
)

// maxConceptChars bounds what one explain request sends to the model. file
// inputs (papers, notes) routinely exceed a sensible prompt size.
const maxConceptChars = 8000

// --- explain ---

var explainCmd = &cobra.Command{
	Use:   "explain [text...]",
	Short: "Generate an animated explanation for a concept",
	Long: `Generate an animated explanation video for a concept and get a
comprehension question about it.

Examples:
  kinema explain "the doppler effect"
  kinema explain how does a binary search tree stay balanced
  kinema explain --file ./paper.pdf
  kinema explain --file ./notes.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		text := strings.TrimSpace(strings.Join(args, " "))
		if file != "" {
			if text != "" {
				return fmt.Errorf("provide either text arguments or --file, not both")
			}
			content, err := readSourceFile(file)
			if err != nil {
				return err
			}
			text = content
		}
		if text == "" {
			return fmt.Errorf("provide a concept as arguments or use --file")
		}

		if utf8.RuneCountInString(text) > maxConceptChars {
			runes := []rune(text)
			text = string(runes[:maxConceptChars])
			printWarning("input truncated to %d characters", maxConceptChars)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Generating explanation (this can take a minute)...")
		resp, err := client.post(cmd.Context(), "/explain", map[string]any{"text": text})
		if err != nil {
			return err
		}

		var result struct {
			TaskID   string `json:"task_id"`
			VideoURL string `json:"video_url"`
			Question string `json:"question"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Lesson ready")
		fmt.Printf("\n  Video:    %s%s\n", client.baseURL, result.VideoURL)
		fmt.Printf("  Question: %s\n", colorize(colorBold, result.Question))
		fmt.Printf("\nAnswer with: kinema answer %s \"<your answer>\"\n", result.TaskID)
		return nil
	},
}

func init() {
	explainCmd.Flags().String("file", "", "read the concept text from a file (PDF or plain text)")
}

// readSourceFile loads explain input from disk, extracting text from PDFs.
func readSourceFile(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDFText(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("file %s is empty", path)
	}
	return text, nil
}

func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, reader); err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("no extractable text in %s", path)
	}
	return text, nil
}

// --- answer ---

var answerCmd = &cobra.Command{
	Use:   "answer <task-id> <answer...>",
	Short: "Answer the open quiz question for a lesson",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]
		userAnswer := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/answer", map[string]any{
			"task_id":     taskID,
			"user_answer": userAnswer,
		})
		if err != nil {
			return err
		}

		var result struct {
			Result   string `json:"result"`
			TaskID   string `json:"task_id"`
			Question string `json:"question"`
			VideoURL string `json:"video_url"`
			Detail   string `json:"detail"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Result == "correct" {
			printSuccess("Correct!")
			return nil
		}

		printWarning("Not quite.")
		if result.Detail != "" {
			fmt.Printf("  %s\n", result.Detail)
		}
		if result.TaskID != "" {
			fmt.Printf("\n  Simpler video: %s%s\n", client.baseURL, result.VideoURL)
			fmt.Printf("  New question:  %s\n", colorize(colorBold, result.Question))
			fmt.Printf("\nAnswer with: kinema answer %s \"<your answer>\"\n", result.TaskID)
		}
		return nil
	},
}

// --- regenerate ---

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <task-id>",
	Short: "Re-explain a pending lesson in simpler terms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Regenerating a simpler explanation...")
		resp, err := client.post(cmd.Context(), "/regenerate", map[string]any{"task_id": args[0]})
		if err != nil {
			return err
		}

		var result struct {
			TaskID   string `json:"task_id"`
			VideoURL string `json:"video_url"`
			Question string `json:"question"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Simpler lesson ready")
		fmt.Printf("\n  Video:    %s%s\n", client.baseURL, result.VideoURL)
		fmt.Printf("  Question: %s\n", colorize(colorBold, result.Question))
		fmt.Printf("\nAnswer with: kinema answer %s \"<your answer>\"\n", result.TaskID)
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/history?limit=%d", limit))
		if err != nil {
			return err
		}

		var lessons []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Concept   string `json:"concept"`
			Kind      string `json:"kind"`
			Outcome   string `json:"outcome"`
		}
		if err := decodeJSON(resp, &lessons); err != nil {
			return err
		}

		if len(lessons) == 0 {
			fmt.Println("No lessons yet.")
			return nil
		}

		for _, l := range lessons {
			concept := l.Concept
			if len(concept) > 60 {
				concept = concept[:60] + "..."
			}
			fmt.Printf("%s  %s  %s  %s\n",
				colorize(colorCyan, l.ID),
				l.CreatedAt,
				outcomeLabel(l.Outcome),
				concept,
			)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 10, "maximum number of lessons to list")
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case "correct":
		return colorize(colorGreen, outcome)
	case "replaced":
		return colorize(colorYellow, outcome)
	default:
		return outcome
	}
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
		cfg, err := config.LoadUnvalidated()
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

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key>",
	Short: "Store a secret configuration value",
	Long: `Store a secret configuration value (currently only mistral.api_key) in
the platform secret store. The value is read from stdin so it stays out of
shell history.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stderr, "Enter value: ")
		value, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading value: %w", err)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return fmt.Errorf("empty value")
		}

		if err := config.SetSecret(args[0], value); err != nil {
			return err
		}

		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}

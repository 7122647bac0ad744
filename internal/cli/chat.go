package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var chatK int

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session with conversation history",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().IntVar(&chatK, "k", 0, "number of context documents (server default when 0)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	convID, err := createConversation()
	if err != nil {
		return fmt.Errorf("failed to start conversation: %w", err)
	}

	prompt := color.New(color.FgCyan, color.Bold)
	answer := color.New(color.FgGreen)
	errc := color.New(color.FgRed)

	cmd.Printf("conversation %s (exit with /quit)\n", convID)
	in := bufio.NewScanner(os.Stdin)
	for {
		prompt.Fprint(cmd.OutOrStdout(), "you> ")
		if !in.Scan() {
			cmd.Println()
			return in.Err()
		}
		q := strings.TrimSpace(in.Text())
		if q == "" {
			continue
		}
		if q == "/quit" || q == "/exit" {
			return nil
		}
		err := streamAsk(q, convID, chatK, func(f askFrame) {
			switch {
			case f.Answer != "":
				answer.Fprintln(cmd.OutOrStdout(), f.Answer)
			case f.Segment != "":
				answer.Fprintln(cmd.OutOrStdout(), f.Segment)
			}
		})
		if err != nil {
			errc.Fprintln(cmd.ErrOrStderr(), err)
		}
	}
}

func createConversation() (string, error) {
	title := "cli session"
	body, _ := json.Marshal(map[string]string{"title": title})
	resp, err := http.Post(serverURL()+"/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("server: status %d", resp.StatusCode)
	}
	var conv struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

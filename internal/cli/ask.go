package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var askK int

var askCmd = &cobra.Command{
	Use:   "ask \"<question>\"",
	Short: "Ask a question and print the streamed answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		return streamAsk(question, "", askK, func(f askFrame) {
			switch {
			case f.Answer != "":
				cmd.Println(f.Answer)
			case f.Segment != "":
				cmd.Println(f.Segment)
			}
		})
	},
}

func init() {
	askCmd.Flags().IntVarP(&askK, "k", "k", 0, "number of context documents (server default when 0)")
	rootCmd.AddCommand(askCmd)
}

type askFrame struct {
	Answer  string `json:"answer"`
	Segment string `json:"segment"`
	Error   string `json:"error"`
	Details string `json:"details"`
}

// streamAsk posts a question to /ask and feeds each SSE frame to fn. A
// terminal error frame stops the stream and is returned as an error.
func streamAsk(question, conversationID string, k int, fn func(askFrame)) error {
	payload := map[string]any{"question": question}
	if conversationID != "" {
		payload["conversationID"] = conversationID
	}
	if k > 0 {
		payload["k"] = k
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL()+"/ask", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("server: %s", e.Error)
		}
		return fmt.Errorf("server: status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var f askFrame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			continue
		}
		if f.Error != "" {
			if f.Details != "" {
				return fmt.Errorf("%s: %s", f.Error, f.Details)
			}
			return fmt.Errorf("%s", f.Error)
		}
		fn(f)
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

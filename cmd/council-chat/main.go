// Command council-chat is a terminal REPL against a running
// council-server: it posts each line as a new message and prints the
// streamed deliberation stage by stage, colored by stage so drafts,
// rounds, and the final synthesis stay visually distinct.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

var (
	serverURL      = flag.String("server", "http://127.0.0.1:8080", "council-server base URL")
	conversationID = flag.String("conversation", "", "existing conversation id; a new one is created if empty")
)

type event struct {
	Type    string `json:"type"`
	Model   string `json:"model,omitempty"`
	Round   int    `json:"round,omitempty"`
	Text    string `json:"text,omitempty"`
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}

func main() {
	flag.Parse()

	draftColor := color.New(color.FgCyan)
	roundColor := color.New(color.FgYellow)
	finalColor := color.New(color.FgGreen, color.Bold)
	warnColor := color.New(color.FgRed)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\ngoodbye")
		os.Exit(0)
	}()

	if *conversationID == "" {
		id, err := createConversation(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create conversation: %v\n", err)
			os.Exit(1)
		}
		*conversationID = id
		fmt.Printf("started conversation %s\n", id)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if err := streamMessage(*serverURL, *conversationID, line, draftColor, roundColor, finalColor, warnColor); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		fmt.Print("> ")
	}
}

func createConversation(base string) (string, error) {
	resp, err := http.Post(base+"/conversations", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.ID, nil
}

func streamMessage(base, conversationID, content string, draftColor, roundColor, finalColor, warnColor *color.Color) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/conversations/%s/messages?stream=1", base, conversationID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lastStage := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			fmt.Println()
			return nil
		}
		var ev event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		printEvent(ev, &lastStage, draftColor, roundColor, finalColor, warnColor)
	}
	return scanner.Err()
}

func printEvent(ev event, lastStage *string, draftColor, roundColor, finalColor, warnColor *color.Color) {
	switch ev.Type {
	case "draft_started":
		if *lastStage != ev.Model {
			*lastStage = ev.Model
			draftColor.Printf("\n[%s drafting]\n", ev.Model)
		}
	case "draft_delta":
		draftColor.Print(ev.Text)
	case "round_started":
		roundColor.Printf("\n[round %d ranking]\n", ev.Round)
	case "warning":
		warnColor.Printf("\n[warning: %s] %s\n", ev.Model, ev.Warning)
	case "synthesis_delta":
		finalColor.Print(ev.Text)
	case "error":
		warnColor.Printf("\n[error] %s\n", ev.Error)
	}
}

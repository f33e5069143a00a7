// Package main provides an interactive CLI client for the chat relay.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/anonymousbeing0001-cmyk/CasperAi/client"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket server address")
	apiBase := flag.String("api", "http://localhost:8080", "REST API base URL")
	model := flag.String("model", "gpt-5-mini", "Model to chat with")
	mode := flag.String("mode", "chat", "Conversation mode")
	conversationID := flag.String("conversation", "", "Existing conversation ID (created if empty)")
	flag.Parse()

	log.SetFlags(log.Ltime)

	convID := *conversationID
	if convID == "" {
		var err error
		convID, err = createConversation(*apiBase, *model, *mode)
		if err != nil {
			log.Fatalf("Failed to create conversation: %v", err)
		}
		fmt.Printf("Created conversation %s\n", convID)
	}

	// turnDone receives one value per terminal frame so the prompt
	// waits for the in-flight turn.
	turnDone := make(chan struct{}, 1)

	c := client.New(*addr, client.Handlers{
		OnState: func(state client.State) {
			if state == client.StateDisconnected {
				fmt.Println("\n[disconnected, retrying...]")
			}
		},
		OnChunk: func(fragment string) {
			fmt.Print(fragment)
		},
		OnComplete: func(content string, tokenUsage *int) {
			if tokenUsage != nil {
				fmt.Printf("\n[%d tokens]\n", *tokenUsage)
			} else {
				fmt.Println()
			}
			turnDone <- struct{}{}
		},
		OnError: func(code, message string) {
			fmt.Printf("\n[error %s] %s\n", code, message)
			turnDone <- struct{}{}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	fmt.Printf("Connecting to %s...\n", *addr)
	waitConnected(c)

	fmt.Println("Connected. Type a message and press Enter to send.")
	fmt.Println("Commands: /quit to exit")
	fmt.Println()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		fmt.Println("\nInterrupted")
		cancel()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" {
			fmt.Println("Bye!")
			return
		}

		if err := c.Send(convID, input, *model, *mode); err != nil {
			log.Printf("Send error: %v", err)
			continue
		}

		select {
		case <-turnDone:
		case <-ctx.Done():
			return
		}
	}
}

func waitConnected(c *client.Client) {
	for c.State() == client.StateDisconnected {
		time.Sleep(100 * time.Millisecond)
	}
}

func createConversation(apiBase, model, mode string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"title": "CLI session",
		"model": model,
		"mode":  mode,
	})

	resp, err := http.Post(apiBase+"/api/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("post conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var conv struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("decode conversation: %w", err)
	}
	return conv.ID, nil
}

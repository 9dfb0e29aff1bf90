// Tellerbot - interactive console client for the banking assistant.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nrudakov/tellerbot/internal/challenge"
	"github.com/nrudakov/tellerbot/internal/config"
	"github.com/nrudakov/tellerbot/internal/conversation"
	"github.com/nrudakov/tellerbot/internal/domain"
	"github.com/nrudakov/tellerbot/internal/nlu"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	gemini, err := nlu.NewGemini(ctx, nlu.GeminiConfig{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize language service:", err)
		os.Exit(1)
	}

	engine := conversation.NewEngine(gemini, gemini, challenge.DefaultBank(), conversation.Config{
		MaxAttempts: cfg.MaxAuthAttempts,
	}, logger)

	conv := domain.NewConversation("console", "local")

	fmt.Println("=== Tellerbot Banking Assistant ===")
	fmt.Println("I can help you check your account balance.")
	fmt.Println("Type 'quit' to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if conv.Terminal() {
			fmt.Println("\n[Session ended]")
			return
		}

		fmt.Print("\nYou: ")
		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "quit", "exit", "bye":
			fmt.Println("\nGoodbye!")
			return
		}

		reply, err := engine.ProcessMessage(ctx, conv, input)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println("\nAssistant:", reply)

		if conv.State == domain.StateSuccess {
			fmt.Println("\n[Account balance retrieved successfully]")
			return
		}
	}
}

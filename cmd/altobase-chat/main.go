// Command altobase-chat is a small end-to-end example: it signs in, joins a
// realtime channel and relays broadcast messages between the terminal and the
// room. Useful for smoke-testing a project's auth and realtime setup.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/altobase/altobase-go"
	"github.com/altobase/altobase-go/auth"
)

type chatMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	client, err := altobase.NewClientFromEnv()
	if err != nil {
		logger.Error("failed to configure client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	email := os.Getenv("ALTOBASE_CHAT_EMAIL")
	password := os.Getenv("ALTOBASE_CHAT_PASSWORD")
	room := os.Getenv("ALTOBASE_CHAT_ROOM")
	if room == "" {
		room = "lobby"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if email != "" {
		err := client.Auth.SignInWithPassword(ctx, auth.Credentials{Email: email, Password: password})
		if err != nil {
			logger.Error("sign-in failed", "error", err)
			os.Exit(1)
		}
		logger.Info("signed in", "email", email)
	}

	if err := client.Realtime.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	channel := client.Realtime.Channel(room)
	channel.OnBroadcast("message", func(payload json.RawMessage) {
		var msg chatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Warn("undecodable message", "error", err)
			return
		}
		fmt.Printf("<%s> %s\n", msg.From, msg.Body)
	})
	if err := channel.Join(ctx); err != nil {
		logger.Error("failed to join room", "room", room, "error", err)
		os.Exit(1)
	}
	logger.Info("joined room", "room", room)

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			body := scanner.Text()
			if body == "" {
				continue
			}
			msg := chatMessage{From: email, Body: body}
			if err := channel.Broadcast(ctx, "message", msg); err != nil {
				logger.Warn("failed to send", "error", err)
			}
		}
		stop()
	}()

	<-ctx.Done()
	logger.Info("shutting down")
}

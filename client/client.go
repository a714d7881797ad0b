package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL     string        `env:"RELAY_SERVER_URL,default=ws://localhost:4000/ws"`
	Room          string        `env:"RELAY_ROOM,default=lobby"`
	LogLevel      string        `env:"LOG_LEVEL,default=INFO"`
	MaxReconnect  int           `env:"RELAY_MAX_RECONNECT,default=5"`
	ReconnectWait time.Duration `env:"RELAY_RECONNECT_WAIT,default=2s"`
}

// connState models the client connection lifecycle:
// Idle -> Connecting -> Connected -> Reconnecting(attempt) -> Failed.
// A single timer drives the reconnection waits.
type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateReconnecting
	stateFailed
)

type wireEvent struct {
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := readStdin(ctx)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	state := stateIdle
	attempt := 0
	var conn *websocket.Conn

	for {
		switch state {
		case stateIdle:
			state = stateConnecting

		case stateConnecting:
			dialed, _, err := websocket.DefaultDialer.DialContext(ctx, config.ServerURL, nil)
			if err != nil {
				if ctx.Err() != nil {
					return exitOK, nil
				}
				log.Warn("Connection failed", "url", config.ServerURL, "err", err)
				state = stateReconnecting
				continue
			}
			conn = dialed
			attempt = 0
			state = stateConnected

		case stateConnected:
			color.Green.Printf("Connected to %s, joining '%s' (/quit to exit)\n",
				config.ServerURL, config.Room)

			quit, err := session(ctx, conn, config.Room, lines)
			_ = conn.Close()
			if quit {
				return exitOK, nil
			}
			if err != nil && ctx.Err() == nil {
				color.Red.Println("Connection lost")
				state = stateReconnecting
				continue
			}
			return exitOK, nil

		case stateReconnecting:
			attempt++
			if attempt > config.MaxReconnect {
				state = stateFailed
				continue
			}
			color.Yellow.Printf("Reconnecting (attempt %d/%d)...\n", attempt, config.MaxReconnect)
			timer.Reset(config.ReconnectWait)
			select {
			case <-ctx.Done():
				return exitOK, nil
			case <-timer.C:
				state = stateConnecting
			}

		case stateFailed:
			return exitRuntime, fmt.Errorf("gave up after %d reconnect attempts", config.MaxReconnect)
		}
	}
}

// session drives one live connection: it subscribes to the configured
// room, then multiplexes server events and stdin commands until the
// socket drops or the user quits.
func session(ctx context.Context, conn *websocket.Conn, room string, lines <-chan string) (quit bool, err error) {
	if err := send(conn, map[string]string{"action": "subscribe", "room": room}); err != nil {
		return false, err
	}

	events := make(chan wireEvent)
	readErr := make(chan error, 1)
	go func() {
		for {
			var evt wireEvent
			if err := conn.ReadJSON(&evt); err != nil {
				readErr <- err
				return
			}
			events <- evt
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err := <-readErr:
			return false, err
		case evt := <-events:
			printEvent(evt)
		case line := <-lines:
			switch {
			case line == "/quit":
				return true, nil
			case line == "/list":
				if err := send(conn, map[string]string{"action": "list_rooms"}); err != nil {
					return false, err
				}
			case line == "/leave":
				if err := send(conn, map[string]string{"action": "unsubscribe", "room": room}); err != nil {
					return false, err
				}
			case line != "":
				if err := send(conn, map[string]string{"action": "publish", "room": room, "message": line}); err != nil {
					return false, err
				}
			}
		}
	}
}

func send(conn *websocket.Conn, action map[string]string) error {
	return conn.WriteJSON(action)
}

func printEvent(evt wireEvent) {
	if evt.Error != "" {
		color.Red.Printf("error: %s\n", evt.Error)
		return
	}

	switch evt.Name {
	case "on_join":
		var data struct {
			Room     string   `json:"room"`
			Hash     string   `json:"hash"`
			Clients  []string `json:"clients"`
			Messages []struct {
				User      string `json:"user"`
				Message   string `json:"message"`
				CreatedAt int64  `json:"created_at"`
			} `json:"messages"`
		}
		if json.Unmarshal(evt.Data, &data) != nil {
			return
		}
		color.Green.Printf("Joined '%s' as %s (%d online)\n", data.Room, data.Hash, len(data.Clients))
		for _, msg := range data.Messages {
			color.Gray.Printf("[%s] %s: %s\n", formatTime(msg.CreatedAt), msg.User, msg.Message)
		}
	case "message":
		var data struct {
			User      string `json:"user"`
			Message   string `json:"message"`
			CreatedAt int64  `json:"created_at"`
		}
		if json.Unmarshal(evt.Data, &data) != nil {
			return
		}
		fmt.Printf("[%s] %s: %s\n", formatTime(data.CreatedAt), data.User, data.Message)
	case "on_user_join":
		var data struct {
			Hash string `json:"hash"`
		}
		if json.Unmarshal(evt.Data, &data) != nil {
			return
		}
		color.Yellow.Printf("%s joined\n", data.Hash)
	case "on_user_leave":
		var data struct {
			Hash string `json:"hash"`
		}
		if json.Unmarshal(evt.Data, &data) != nil {
			return
		}
		color.Yellow.Printf("%s left\n", data.Hash)
	case "list_rooms":
		var data struct {
			Rooms []struct {
				Name      string `json:"name"`
				CreatedAt int64  `json:"created_at"`
			} `json:"rooms"`
		}
		if json.Unmarshal(evt.Data, &data) != nil {
			return
		}
		color.Cyan.Printf("%d room(s):\n", len(data.Rooms))
		for _, room := range data.Rooms {
			fmt.Printf("  %s (created %s)\n", room.Name,
				time.UnixMilli(room.CreatedAt).Format(time.DateTime))
		}
	}
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Format(time.TimeOnly)
}

func readStdin(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case lines <- strings.TrimSpace(scanner.Text()):
			}
		}
	}()
	return lines
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
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
// An empty SIGNAL_ROOM_ID creates a new room, otherwise the client joins it.
type Config struct {
	ServerAddress string `env:"SIGNAL_SERVER_ADDR,default=localhost:5002"`
	RoomID        string `env:"SIGNAL_ROOM_ID"`
	Identity      string `env:"SIGNAL_IDENTITY,default=probe"`
	AudioOnly     bool   `env:"SIGNAL_AUDIO_ONLY,default=false"`
	LogLevel      string `env:"LOG_LEVEL,required=true"`
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run joins (or creates) a room and prints every event the coordinator pushes until Ctrl+C.
func run() (int, error) {
	// 1. Load configuration from environment variables.
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Setup context to handle termination signals (Ctrl+C).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Dial the coordinator.
	u := url.URL{Scheme: "ws", Host: config.ServerAddress, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to server at %s: %w", u.String(), err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	// 4. Enter a room.
	request, err := enterRoom(config)
	if err != nil {
		return exitConfig, err
	}
	if err := conn.WriteJSON(request); err != nil {
		return exitRuntime, fmt.Errorf("failed to send %s: %w", request.Event, err)
	}
	log.Info(">>> Connected (Ctrl+C to quit)", "server", config.ServerAddress, "event", request.Event)

	// 5. Reception loop. Closing the connection unblocks ReadJSON on shutdown.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		var msg frame
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return exitOK, nil
			}
			return exitRuntime, fmt.Errorf("read error: %w", err)
		}
		log.Info(fmt.Sprintf("[%s] %s %s", time.Now().Format(time.TimeOnly), msg.Event, string(msg.Data)))
	}
}

func enterRoom(config Config) (frame, error) {
	if config.RoomID == "" {
		data, err := json.Marshal(map[string]any{"identity": config.Identity, "audioOnly": config.AudioOnly})
		return frame{Event: "create-room", Data: data}, err
	}
	data, err := json.Marshal(map[string]any{
		"roomId":    config.RoomID,
		"identity":  config.Identity,
		"audioOnly": config.AudioOnly,
	})
	return frame{Event: "join-room", Data: data}, err
}

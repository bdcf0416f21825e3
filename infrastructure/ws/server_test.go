package ws

import (
	"encoding/json"
	"log/slog"
	"meet-signal/domain"
	"meet-signal/domain/event"
	"meet-signal/observability"
	"meet-signal/repositories"
	"meet-signal/runtime"
	"meet-signal/runtime/workers"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func startTestServer(t *testing.T) string {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	telemetry := make(chan event.Event, 100)
	coordinator := runtime.NewCoordinator(
		log,
		runtime.NewRegistry(),
		repositories.NewRoomRepository(db, log),
		workers.NewSupervisor(log, telemetry, 10*time.Millisecond),
		observability.NewMonitoringManager(log),
		telemetry,
		runtime.Options{
			CapacityPolicy: domain.AdmitOverCapacity,
			RoomQueueSize:  8,
			SinkTimeout:    50 * time.Millisecond,
			MetricInterval: time.Second,
		},
	)
	server := httptest.NewServer(NewServer(log, coordinator, 64, 64*1024))
	t.Cleanup(func() {
		server.Close()
		coordinator.Stop()
		_ = db.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Message{Event: name, Data: raw}))
}

func expect(t *testing.T, conn *websocket.Conn, name string, into any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, name, f.Event)
	if into != nil {
		require.NoError(t, json.Unmarshal(f.Data, into))
	}
}

func TestServer_CreateJoinSignalLeave(t *testing.T) {
	req := require.New(t)
	url := startTestServer(t)

	alice := dial(t, url)
	send(t, alice, CreateRoomEvent, CreateRoomPayload{Identity: "alice"})

	var assigned event.RoomIDAssigned
	expect(t, alice, event.RoomIDName, &assigned)
	req.NotEmpty(assigned.RoomID)

	var update event.RoomUpdated
	expect(t, alice, event.RoomUpdateName, &update)
	req.Len(update.Members, 1)
	aliceHandle := update.Members[0].ConnectionID

	bob := dial(t, url)
	send(t, bob, JoinRoomEvent, JoinRoomPayload{RoomID: string(assigned.RoomID), Identity: "bob"})

	var prepare event.PrepareIncoming
	expect(t, alice, event.PrepareIncomingName, &prepare)
	expect(t, alice, event.RoomUpdateName, &update)
	req.Len(update.Members, 2)
	expect(t, bob, event.RoomUpdateName, &update)
	req.Len(update.Members, 2)
	req.Equal(prepare.From, update.Members[1].ConnectionID)

	// Bob answers the prepare with init, alice receives it tagged with bob's handle
	send(t, bob, InitEvent, InitPayload{Target: string(aliceHandle)})
	var initEvt event.InitRelayed
	expect(t, alice, event.InitName, &initEvt)
	req.Equal(prepare.From, initEvt.From)

	send(t, alice, SignalEvent, SignalPayload{Target: string(prepare.From), Payload: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)})
	var signal event.SignalRelayed
	expect(t, bob, event.SignalName, &signal)
	req.JSONEq(`{"type":"offer","sdp":"v=0"}`, string(signal.Payload))
	req.Equal(aliceHandle, signal.From)

	// Malformed frames are skipped and the connection survives
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, alice, "teleport", map[string]string{})

	req.NoError(alice.Close())
	var gone event.UserDisconnected
	expect(t, bob, event.UserDisconnectedName, &gone)
	req.Equal(aliceHandle, gone.Connection)
	expect(t, bob, event.RoomUpdateName, &update)
	req.Len(update.Members, 1)
}

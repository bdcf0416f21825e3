package e2e

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type TwoPeersSuite struct {
	BaseSuite
}

func TestTwoPeersSuite(t *testing.T) {
	suite.Run(t, new(TwoPeersSuite))
}

type member struct {
	Identity   string `json:"identity"`
	Connection string `json:"connectionHandle"`
}

func (s *TwoPeersSuite) TestCreateJoinSignalLeave() {
	s.WithHealth("coordinator serving", func(ctx context.Context, client healthpb.HealthClient) {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "meet-signal.Coordinator"})
		s.Require().NoError(err)
		s.Require().Equal(healthpb.HealthCheckResponse_SERVING, resp.Status)
	})

	// Given Alice hosting a room
	alice := s.Dial("alice")
	alice.Send("create-room", map[string]any{"identity": "Alice"})

	var assigned struct {
		RoomID string `json:"roomId"`
	}
	alice.Expect("room-id", &assigned)
	s.Require().NotEmpty(assigned.RoomID)

	var update struct {
		Members []member `json:"members"`
	}
	alice.Expect("room-update", &update)
	s.Require().Len(update.Members, 1)
	aliceHandle := update.Members[0].Connection

	var status struct {
		RoomExists bool `json:"roomExists"`
		Full       bool `json:"full"`
	}
	s.GetJSON("/api/room-exists/"+assigned.RoomID, &status)
	s.Require().True(status.RoomExists)
	s.Require().False(status.Full)

	// When Bob joins
	bob := s.Dial("bob")
	bob.Send("join-room", map[string]any{"roomId": assigned.RoomID, "identity": "Bob"})
	bob.Expect("room-update", &update)
	s.Require().Len(update.Members, 2)

	var incoming struct {
		From string `json:"fromConnectionHandle"`
	}
	alice.Expect("prepare-incoming", &incoming)
	bobHandle := incoming.From
	s.Require().NotEqual(aliceHandle, bobHandle)

	// Then the offer/answer exchange goes through
	alice.Send("init", map[string]any{"targetConnectionHandle": bobHandle})
	bob.Expect("init", &incoming)
	s.Require().Equal(aliceHandle, incoming.From)

	offer := map[string]any{"type": "offer", "sdp": "v=0"}
	bob.Send("signal", map[string]any{"targetConnectionHandle": aliceHandle, "payload": offer})
	var relayed struct {
		From    string         `json:"fromConnectionHandle"`
		Payload map[string]any `json:"payload"`
	}
	alice.Expect("signal", &relayed)
	s.Require().Equal(bobHandle, relayed.From)
	s.Require().Equal("offer", relayed.Payload["type"])

	// And Bob leaving notifies Alice
	s.Require().NoError(bob.conn.Close())
	var gone struct {
		Connection string `json:"connectionHandle"`
	}
	alice.Expect("user-disconnected", &gone)
	s.Require().Equal(bobHandle, gone.Connection)
}

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const readTimeout = 5 * time.Second

type BaseSuite struct {
	suite.Suite
	Config Config
}

// Frame is the envelope as seen by a browser.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Peer is one websocket client of the coordinator.
type Peer struct {
	name string
	conn *websocket.Conn
	s    *BaseSuite
}

// SetupSuite loads the environment configuration and skips when no coordinator is reachable.
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.HTTPAddr == "" {
		s.T().Skip("SIGNAL_HTTP_ADDR not set, skipping end-to-end suite")
	}
}

func (s *BaseSuite) step(t *testing.T, name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)
}

// Dial opens a websocket on /ws, closed at the end of the test.
func (s *BaseSuite) Dial(name string) *Peer {
	s.step(s.T(), "dial "+name)
	u := url.URL{Scheme: "ws", Host: s.Config.HTTPAddr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	s.Require().NoError(err, "Failed to dial "+u.String())
	s.T().Cleanup(func() { _ = conn.Close() })
	return &Peer{name: name, conn: conn, s: s}
}

// GetJSON calls the public HTTP API and decodes its body into out.
func (s *BaseSuite) GetJSON(path string, out any) {
	resp, err := http.Get("http://" + s.Config.HTTPAddr + path)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode, path)
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

// WithHealth provides a grpc health client on the admin port.
func (s *BaseSuite) WithHealth(name string, fn func(ctx context.Context, client healthpb.HealthClient)) {
	if s.Config.AdminAddr == "" {
		s.T().Log("SIGNAL_ADMIN_ADDR not set, health step skipped")
		return
	}
	s.step(s.T(), name)
	conn, err := grpc.NewClient(s.Config.AdminAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err, "Failed to connect to gRPC server at "+s.Config.AdminAddr)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, healthpb.NewHealthClient(conn))
}

func (p *Peer) Send(event string, data any) {
	payload, err := json.Marshal(data)
	p.s.Require().NoError(err)
	p.s.Require().NoError(p.conn.WriteJSON(Frame{Event: event, Data: payload}))
}

// Expect reads frames until one named event arrives and decodes its data into out.
func (p *Peer) Expect(event string, out any) {
	deadline := time.Now().Add(readTimeout)
	for {
		_ = p.conn.SetReadDeadline(deadline)
		var frame Frame
		err := p.conn.ReadJSON(&frame)
		p.s.Require().NoError(err, "%s waiting for %s", p.name, event)
		if p.s.Config.DebugJSON {
			p.s.T().Logf("%s <- %s %s", p.name, frame.Event, string(frame.Data))
		}
		if frame.Event != event {
			continue
		}
		if out != nil {
			p.s.Require().NoError(json.Unmarshal(frame.Data, out))
		}
		return
	}
}

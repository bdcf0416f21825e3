// Package turn issues short-lived TURN credentials compatible with coturn's REST API.
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"meet-signal/errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Token is what a browser needs to configure its RTCPeerConnection.
type Token struct {
	Username   string             `json:"username"`
	Password   string             `json:"password"`
	TTL        int64              `json:"ttl"`
	ExpiresAt  int64              `json:"expiresAt"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	TurnURLs       []string
	StunURLs       []string
	Now            func() time.Time
}

type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string
	turnURLs       []string
	stunURLs       []string
	now            func() time.Time
}

// NewGenerator returns errors.ErrTurnNotConfigured when no shared secret or TURN url is set.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" || len(cfg.TurnURLs) == 0 {
		return nil, errors.ErrTurnNotConfigured
	}
	ttlSeconds := int64(cfg.TTL / time.Second)
	if ttlSeconds <= 0 {
		return nil, fmt.Errorf("TURN_TTL must be at least one second, got %s", cfg.TTL)
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, fmt.Errorf("TURN_USERNAME_PREFIX must be non empty without ':', got %q", cfg.UsernamePrefix)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     ttlSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		turnURLs:       cfg.TurnURLs,
		stunURLs:       cfg.StunURLs,
		now:            cfg.Now,
	}, nil
}

func (g *Generator) Generate(sessionID string) (Token, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Token{}, fmt.Errorf("%w: invalid session id %q", errors.ErrInvalidPayload, sessionID)
	}
	expiresAt := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiresAt, g.usernamePrefix, sessionID)
	password := sign(g.sharedSecret, username)

	servers := make([]webrtc.ICEServer, 0, 2)
	if len(g.stunURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: g.stunURLs})
	}
	servers = append(servers, webrtc.ICEServer{
		URLs:           g.turnURLs,
		Username:       username,
		Credential:     password,
		CredentialType: webrtc.ICECredentialTypePassword,
	})

	return Token{
		Username:   username,
		Password:   password,
		TTL:        g.ttlSeconds,
		ExpiresAt:  expiresAt,
		ICEServers: servers,
	}, nil
}

// GenerateRandom issues credentials for a fresh random session.
func (g *Generator) GenerateRandom() (Token, error) {
	return g.Generate(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func sign(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

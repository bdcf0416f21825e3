package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"meet-signal/contract"
	"meet-signal/domain"
	"meet-signal/domain/event"
	"meet-signal/observability"

	"github.com/pion/webrtc/v4"
)

const (
	signalKindCandidate = "candidate"
	signalKindUnknown   = "unknown"
)

// Relay forwards peer-to-peer traffic by connection handle.
// Handles are trusted as given: no room membership check on signal or init.
type Relay struct {
	log        *slog.Logger
	registry   contract.IRegistry
	notifier   contract.INotifier
	monitoring *observability.MonitoringManager
}

func NewRelay(
	log *slog.Logger,
	registry contract.IRegistry,
	notifier contract.INotifier,
	monitoring *observability.MonitoringManager,
) *Relay {
	return &Relay{log: log, registry: registry, notifier: notifier, monitoring: monitoring}
}

// RelaySignal delivers the payload untouched to the target, tagged with the source handle.
// An unknown target is dropped silently.
func (r *Relay) RelaySignal(ctx context.Context, cmd domain.SignalCommand) {
	delivered := r.notifier.NotifyOne(ctx, cmd.Target, event.SignalRelayed{
		Payload: cmd.Payload,
		From:    cmd.Source,
	})
	r.log.Debug("signal relayed",
		"from", cmd.Source,
		"to", cmd.Target,
		"kind", classifySignal(cmd.Payload),
		"delivered", delivered)
	if delivered {
		r.monitoring.IncrSignalsRelayed()
	}
}

// RelayInit tells target that source is ready to start negotiating.
func (r *Relay) RelayInit(ctx context.Context, target, source domain.ConnectionID) {
	if r.notifier.NotifyOne(ctx, target, event.InitRelayed{From: source}) {
		r.monitoring.IncrInitsRelayed()
	}
}

// RelayDirectMessage sends the message to the target participant and echoes it to the author.
// Nothing is sent when the target is not a registered participant.
func (r *Relay) RelayDirectMessage(ctx context.Context, cmd domain.DirectMessageCommand) {
	if _, ok := r.registry.Lookup(cmd.Target); !ok {
		r.log.Debug("direct message target is not a participant", "target", cmd.Target)
		return
	}
	r.notifier.NotifyOne(ctx, cmd.Target, event.DirectMessage{
		Content:  cmd.Content,
		Identity: cmd.Identity,
		IsAuthor: false,
		From:     cmd.Source,
	})
	r.notifier.NotifyOne(ctx, cmd.Source, event.DirectMessage{
		Content:  cmd.Content,
		Identity: cmd.Identity,
		IsAuthor: true,
		To:       cmd.Target,
	})
	r.monitoring.IncrDirectMessages()
}

// classifySignal names the negotiation step carried by an opaque payload, for logs only.
// The payload itself is never altered.
func classifySignal(payload json.RawMessage) string {
	var description webrtc.SessionDescription
	if err := json.Unmarshal(payload, &description); err == nil && description.SDP != "" {
		return description.Type.String()
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &candidate); err == nil && candidate.Candidate != "" {
		return signalKindCandidate
	}

	// Some peer libraries wrap the candidate: {"type":"candidate","candidate":{...}}
	var wrapped struct {
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Candidate.Candidate != "" {
		return signalKindCandidate
	}
	return signalKindUnknown
}

// Package broadcast fans change messages out to other calendar views over
// pluggable transports and merges what comes back in. Every transport is
// advisory: the remote write is the source of truth, and any transport may
// be missing or lossy.
package broadcast

import (
	"alcyxob/fitness-calendar/internal/domain"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const channelPrefix = "calendar"

// DeviceChannel is the single same-device channel every view shares.
const DeviceChannel = channelPrefix + ":device"

var ErrUnsupported = errors.New("broadcast: transport unsupported")

// ProgramChannel is the relayed channel of a program.
func ProgramChannel(programID int64) string {
	return fmt.Sprintf("%s:program:%d", channelPrefix, programID)
}

// UserChannel is the relayed channel of an athlete.
func UserChannel(userID int64) string {
	return fmt.Sprintf("%s:user:%d", channelPrefix, userID)
}

// ChannelsFor lists the relayed channels a message is published on.
func ChannelsFor(msg domain.ChangeMessage) []string {
	var out []string
	if msg.ProgramID != nil {
		out = append(out, ProgramChannel(*msg.ProgramID))
	}
	if msg.UserID != nil {
		out = append(out, UserChannel(*msg.UserID))
	}
	return out
}

// Envelope wraps a ChangeMessage for transport. ID lets a listener drop the
// copies that arrive over several transports; Origin is the view that wrote.
type Envelope struct {
	ID      string               `json:"id"`
	Origin  string               `json:"origin"`
	SentAt  time.Time            `json:"sentAt"`
	Message domain.ChangeMessage `json:"message"`
}

// NewEnvelope stamps msg with a fresh id.
func NewEnvelope(origin string, msg domain.ChangeMessage) Envelope {
	return Envelope{
		ID:      uuid.NewString(),
		Origin:  origin,
		SentAt:  time.Now().UTC(),
		Message: msg,
	}
}

// Subscription registers a handler on a transport. Envelopes whose Origin
// equals the subscription's Origin are never delivered to it.
type Subscription struct {
	Origin   string
	Channels []string
	Handler  func(Envelope)
}

// Transport is one propagation path.
type Transport interface {
	Name() string
	// Publish sends env; transports without channels ignore the list.
	Publish(ctx context.Context, channels []string, env Envelope) error
	// Subscribe delivers matching envelopes until ctx is cancelled.
	Subscribe(ctx context.Context, sub Subscription) error
}

// Presence is implemented by transports that know whether anyone is
// listening right now.
type Presence interface {
	// Listeners counts live subscriptions other than origin's.
	Listeners(origin string) int
}

// PendingQueue buffers messages nobody was listening for.
type PendingQueue interface {
	Append(ctx context.Context, env Envelope) error
}

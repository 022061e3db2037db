package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/playerstate/internal/logging"
)

// session is the slice of *discordgo.Session the messenger calls.
type session interface {
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Messenger deletes and resets bot messages over the REST API.
type Messenger struct {
	s   session
	log *slog.Logger
}

// NewSession creates a REST-only session. The gateway is owned by the
// command layer and is never opened here.
func NewSession(token string) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return dg, nil
}

func NewMessenger(s *discordgo.Session) *Messenger {
	return newMessenger(s)
}

func newMessenger(s session) *Messenger {
	return &Messenger{s: s, log: logging.Component("discord")}
}

// DeleteMessage deletes a message. A message that is already gone is not an
// error.
func (m *Messenger) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	err := m.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	if isGone(err) {
		m.log.Debug("message already gone", slog.String("channel", channelID), slog.String("message", messageID))
		return nil
	}
	return err
}

// ResetSetupMessage clears embeds and components of a setup message and
// shows content instead.
func (m *Messenger) ResetSetupMessage(ctx context.Context, channelID, messageID, content string) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).
		SetContent(content).
		SetEmbeds([]*discordgo.MessageEmbed{})
	edit.Components = &[]discordgo.MessageComponent{}

	_, err := m.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	if isGone(err) {
		m.log.Warn("setup message is gone", slog.String("channel", channelID), slog.String("message", messageID))
		return nil
	}
	return err
}

func isGone(err error) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownMessage {
		return true
	}
	return rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}

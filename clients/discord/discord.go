package discord

import (
	"fmt"
	"strings"
	"time"

	"gridwatch/clients/notifier"
	"gridwatch/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordClient forwards notices and order events to a Discord channel.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

var _ notifier.Notifier = (*DiscordClient)(nil)

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord notices disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// SendMessage sends a plain text message.
func (dc *DiscordClient) SendMessage(message string) {
	if dc.session == nil {
		dc.logger.Debug("discord session not initialized, skipping message")
		return
	}

	_, err := dc.session.ChannelMessageSend(dc.channelID, message)
	if err != nil {
		dc.logger.Error("failed to send discord message", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord message")
}

// SendNotice sends a notice as an embed.
func (dc *DiscordClient) SendNotice(notice notifier.Notice) {
	if dc.session == nil {
		dc.logger.Debug("discord session not initialized, skipping notice")
		return
	}

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, dc.buildNoticeEmbed(notice))
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord notice",
		zap.String("op", notice.Op),
		zap.String("kind", notice.Kind),
	)
}

// SendOrderEvent sends an order transition as an embed.
func (dc *DiscordClient) SendOrderEvent(event notifier.OrderEvent) {
	if dc.session == nil {
		dc.logger.Debug("discord session not initialized, skipping order event")
		return
	}

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, dc.buildOrderEmbed(event))
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord order event",
		zap.String("order", shortAddress(event.OrderID)),
		zap.String("status", event.Status),
	)
}

func (dc *DiscordClient) buildNoticeEmbed(notice notifier.Notice) *discordgo.MessageEmbed {
	color := 0x3498DB // Blue for info
	emoji := "ℹ️"
	switch notice.Severity {
	case notifier.SeverityWarning:
		color = 0xF1C40F
		emoji = "⚠️"
	case notifier.SeverityError:
		color = 0xE74C3C
		emoji = "❌"
	}

	title := fmt.Sprintf("%s %s", emoji, nz(notice.Op, "notice"))

	fields := []*discordgo.MessageEmbedField{}
	if notice.Kind != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Kind", Value: notice.Kind, Inline: true})
	}

	ts := notice.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: nz(notice.Message, "-"),
		Color:       color,
		Fields:      fields,
		Timestamp:   ts.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: dc.footer()},
	}
}

func (dc *DiscordClient) buildOrderEmbed(event notifier.OrderEvent) *discordgo.MessageEmbed {
	color := 0x2ECC71 // Green for BUY
	sideEmoji := "🟢"
	if strings.ToUpper(event.Side) == "SELL" {
		color = 0xE74C3C // Red for SELL
		sideEmoji = "🔴"
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("📈 Order %s", nz(event.Status, "UPDATED")),
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Item", Value: nz(event.Item, "-"), Inline: true},
			{Name: "Side", Value: fmt.Sprintf("%s %s", sideEmoji, strings.ToUpper(nz(event.Side, "?"))), Inline: true},
			{Name: "Price", Value: nz(event.Price, "-"), Inline: true},
			{Name: "Size", Value: nz(event.Size, "-"), Inline: true},
			{Name: "Order", Value: shortAddress(event.OrderID), Inline: true},
		},
		Timestamp: ts.Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: dc.footer()},
	}
}

func (dc *DiscordClient) footer() string {
	if dc.isProd {
		return "gridwatch"
	}
	return "gridwatch (beta)"
}

func nz(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func shortAddress(addr string) string {
	if len(addr) <= 14 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-6:]
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}

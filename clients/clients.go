package clients

import (
	"gridwatch/clients/backend"
	"gridwatch/clients/discord"
	"gridwatch/clients/notifier"
	"gridwatch/clients/wallet"
	"gridwatch/config"

	"go.uber.org/zap"
)

type Clients struct {
	Logger *zap.Logger

	Backend  *backend.BackendClient
	Wallet   *wallet.WalletClient
	Discord  *discord.DiscordClient
	Notifier notifier.Notifier // Combined notifier for all channels
}

func NewClients(logger *zap.Logger, cfg *config.Config) *Clients {
	discordClient := discord.NewDiscordClient(logger, cfg)

	return &Clients{
		Logger:   logger,
		Backend:  backend.NewBackendClient(logger, cfg),
		Wallet:   wallet.NewWalletClient(logger, cfg),
		Discord:  discordClient,
		Notifier: notifier.NewMultiNotifier(discordClient),
	}
}

// Close releases client resources.
func (c *Clients) Close() error {
	if c.Notifier == nil {
		return nil
	}
	return c.Notifier.Close()
}

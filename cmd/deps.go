package cmd

import (
	"fmt"
	"log/slog"

	"github.com/fakeyudi/lokseva/internal/app"
	"github.com/fakeyudi/lokseva/internal/auth"
	"github.com/fakeyudi/lokseva/internal/config"
	"github.com/fakeyudi/lokseva/internal/identity"
	"github.com/fakeyudi/lokseva/internal/transport"
	"github.com/fakeyudi/lokseva/internal/transport/natsconn"
	"github.com/fakeyudi/lokseva/internal/transport/wsconn"
)

// newDialer picks the real-time transport named in c.
func newDialer(c config.Config, logger *slog.Logger) (transport.Dialer, error) {
	switch c.Transport {
	case "", config.TransportWebSocket:
		return &wsconn.Dialer{URL: c.GatewayURL, Logger: logger}, nil
	case config.TransportNATS:
		return &natsconn.Dialer{
			URL:           c.NatsURL,
			Token:         c.NatsToken,
			SubjectPrefix: c.SubjectPrefix,
			Logger:        logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %q or %q)", c.Transport, config.TransportWebSocket, config.TransportNATS)
	}
}

// newController wires the HTTP auth backend to the on-disk credential store.
func newController(c config.Config, logger *slog.Logger) (*auth.Controller, identity.Store, error) {
	store, err := identity.NewStore()
	if err != nil {
		return nil, nil, err
	}
	return auth.NewController(auth.NewHTTPBackend(c.AuthURL), store, logger), store, nil
}

// newApp assembles the client from configuration.
func newApp(c config.Config, logger *slog.Logger) (*app.App, error) {
	ctrl, store, err := newController(c, logger)
	if err != nil {
		return nil, err
	}
	dialer, err := newDialer(c, logger)
	if err != nil {
		return nil, err
	}
	return app.New(ctrl, store, dialer, app.Options{
		Title:             c.PageTitle,
		Room:              c.Room,
		AgentSender:       c.AgentIdentity,
		SupportsChatInput: c.ChatInputEnabled(),
		Logger:            logger,
	}), nil
}

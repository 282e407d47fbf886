package gateway

import (
	"log/slog"

	"github.com/markjakearzadon/folio-gobackend/internal/config"
)

// FromConfig registers every gateway whose credentials are configured.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Registry, error) {
	var gateways []Gateway
	if cfg.MockEnabled {
		gateways = append(gateways, NewMock())
	}
	if cfg.Card.Enabled() {
		gateways = append(gateways, NewCard(cfg.Card, logger))
	}
	if cfg.MobileMoney.Enabled() {
		mm, err := NewMobileMoney(cfg.MobileMoney, logger)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, mm)
	}
	reg := NewRegistry(gateways...)
	logger.Info("gateways_registered", "providers", reg.Providers())
	return reg, nil
}

package gateway

import (
	"time"

	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/broker/paper"
	"autotrade-core/pkg/broker/rest"
	"autotrade-core/pkg/config"
)

// PaperFactory serves every account from one simulated venue, which keeps
// per-account cash and holdings itself.
func PaperFactory(venue *paper.Gateway) Factory {
	return func(accountID string) (broker.Gateway, error) {
		return venue, nil
	}
}

// RESTFactory creates one HTTP client per account so request budgets and
// failures are tracked per account.
func RESTFactory(cfg rest.Config) Factory {
	return func(accountID string) (broker.Gateway, error) {
		return rest.New(cfg), nil
	}
}

// RESTConfig maps process configuration to the HTTP gateway settings.
func RESTConfig(cfg *config.Config) rest.Config {
	return rest.Config{
		BaseURL:       cfg.GatewayBaseURL,
		APIKey:        cfg.GatewayAPIKey,
		APISecret:     cfg.GatewayAPISecret,
		Timeout:       cfg.GatewayTimeout,
		MaxRetries:    cfg.GatewayMaxRetries,
		RetryInterval: 200 * time.Millisecond,
		RequestBudget: 1200,
	}
}

// PaperConfig maps process configuration to the simulated venue settings.
func PaperConfig(cfg *config.Config) paper.Config {
	return paper.Config{
		InitialCash: cfg.PaperInitialCash,
		FeeRate:     cfg.PaperFeeRate,
		SlippageBps: cfg.PaperSlippageBps,
		Volatility:  cfg.PaperVolatility,
		Seed:        cfg.PaperSeed,
		AlwaysOpen:  cfg.PaperMarketAlways,
	}
}

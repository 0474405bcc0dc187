package ingest

import (
	"fmt"

	"github.com/crowdfield/eventcore/internal/clock"
	"github.com/crowdfield/eventcore/internal/config"
	"github.com/crowdfield/eventcore/internal/ingest/domain"
	"github.com/crowdfield/eventcore/internal/ingest/providers"
	"github.com/crowdfield/eventcore/internal/ingest/providers/manual"
	"github.com/crowdfield/eventcore/internal/ingest/providers/paystack"
	"github.com/crowdfield/eventcore/internal/ingest/providers/stripe"
	"github.com/crowdfield/eventcore/internal/ingest/repository"
	"github.com/crowdfield/eventcore/internal/ingest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, clk clock.Clock) (*providers.Registry, error) {
		skipVerify := !cfg.VerifySignatures
		registry := providers.NewRegistry(
			stripe.New(cfg.StripeWebhookSecret, skipVerify),
			paystack.New(cfg.PaystackWebhookSecret, skipVerify),
			manual.New(clk),
		)
		for _, provider := range []string{domain.ProviderStripe, domain.ProviderPaystack, domain.ProviderManual} {
			if !registry.ProviderExists(provider) {
				return nil, fmt.Errorf("provider %s has no registered parser", provider)
			}
		}
		return registry, nil
	}),
	fx.Provide(service.NewService),
)

package webhook

import (
	"net/http"
	"time"

	"github.com/crowdfield/eventcore/internal/config"
	"github.com/crowdfield/eventcore/internal/webhook/repository"
	"github.com/crowdfield/eventcore/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *http.Client {
		timeout := cfg.DispatchTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		return &http.Client{Timeout: timeout}
	}),
	fx.Provide(service.NewService),
)

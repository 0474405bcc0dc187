package providers

import (
	"net/http"
	"strings"

	"github.com/crowdfield/eventcore/internal/ingest/domain"
)

type Registry struct {
	parsers map[string]domain.Parser
}

func NewRegistry(parsers ...domain.Parser) *Registry {
	registry := &Registry{parsers: map[string]domain.Parser{}}
	for _, parser := range parsers {
		if parser == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(parser.Provider()))
		if provider == "" {
			continue
		}
		registry.parsers[provider] = parser
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.parsers[provider]
	return ok
}

func (r *Registry) Parser(provider string) (domain.Parser, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	parser, ok := r.parsers[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return parser, nil
}

// Resolve picks the provider from the signature headers the callback carries.
// No recognized signature header means a manual submission.
func (r *Registry) Resolve(headers http.Header) (domain.Parser, error) {
	switch {
	case strings.TrimSpace(headers.Get("Stripe-Signature")) != "":
		return r.Parser(domain.ProviderStripe)
	case strings.TrimSpace(headers.Get("X-Paystack-Signature")) != "":
		return r.Parser(domain.ProviderPaystack)
	default:
		return r.Parser(domain.ProviderManual)
	}
}

// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/tabula/internal/auth"
	"github.com/jackzampolin/tabula/internal/extract"
	"github.com/jackzampolin/tabula/internal/gatekeeper"
	"github.com/jackzampolin/tabula/internal/home"
	"github.com/jackzampolin/tabula/internal/prompts"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/store"
	"github.com/jackzampolin/tabula/internal/telemetry"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store      store.Store
	Gatekeeper *gatekeeper.Gatekeeper
	Extract    *extract.Service
	Usage      *telemetry.Log
	UsageStore *telemetry.SQLiteStore // nil when persistence is off
	Registry   *providers.Registry
	Invoker    *providers.Invoker
	Prompts    *prompts.Resolver
	Auth       *auth.Manager
	Logger     *slog.Logger
	Home       *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the key-value store from context.
func StoreFrom(ctx context.Context) store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// GatekeeperFrom extracts the gateway from context.
func GatekeeperFrom(ctx context.Context) *gatekeeper.Gatekeeper {
	if s := ServicesFrom(ctx); s != nil {
		return s.Gatekeeper
	}
	return nil
}

// ExtractFrom extracts the AI tool service from context.
func ExtractFrom(ctx context.Context) *extract.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Extract
	}
	return nil
}

// UsageFrom extracts the usage log from context.
func UsageFrom(ctx context.Context) *telemetry.Log {
	if s := ServicesFrom(ctx); s != nil {
		return s.Usage
	}
	return nil
}

// UsageStoreFrom extracts the persisted usage store from context.
func UsageStoreFrom(ctx context.Context) *telemetry.SQLiteStore {
	if s := ServicesFrom(ctx); s != nil {
		return s.UsageStore
	}
	return nil
}

// RegistryFrom extracts the model client registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// InvokerFrom extracts the model invoker from context.
func InvokerFrom(ctx context.Context) *providers.Invoker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Invoker
	}
	return nil
}

// PromptResolverFrom extracts the prompt resolver from context.
func PromptResolverFrom(ctx context.Context) *prompts.Resolver {
	if s := ServicesFrom(ctx); s != nil {
		return s.Prompts
	}
	return nil
}

// AuthFrom extracts the admin token manager from context.
func AuthFrom(ctx context.Context) *auth.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Auth
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

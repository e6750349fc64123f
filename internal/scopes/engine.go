package scopes

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"oauth-service/internal/cache"
	"oauth-service/internal/database"
	"oauth-service/internal/models"
	"oauth-service/pkg/oautherr"
)

const catalogCacheTTL = 15 * time.Minute

// Engine resolves requested scope strings against the registered catalog
// and enforces default, dangerous, and verification-required scope policy.
type Engine struct {
	repo   database.Repository
	cache  cache.Cache
	logger *zap.Logger
}

// NewEngine creates a scope engine.
func NewEngine(repo database.Repository, cache cache.Cache, logger *zap.Logger) *Engine {
	return &Engine{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// catalog returns the scope catalog keyed by name, cache first.
func (e *Engine) catalog(ctx context.Context) (map[string]models.Scope, error) {
	scopes, err := e.cache.GetScopeCatalog(ctx)
	if err != nil {
		e.logger.Error("Failed to get scope catalog from cache", zap.Error(err))
	}

	if scopes == nil {
		scopes, err = e.repo.ListScopes(ctx)
		if err != nil {
			return nil, oautherr.Wrap(err, oautherr.ErrServerError)
		}
		if err := e.cache.SetScopeCatalog(ctx, scopes, catalogCacheTTL); err != nil {
			e.logger.Warn("Failed to cache scope catalog", zap.Error(err))
		}
	}

	byName := make(map[string]models.Scope, len(scopes))
	for _, s := range scopes {
		byName[s.Name] = s
	}
	return byName, nil
}

// Resolve validates the requested scope string for a client and returns the
// granted scope set as a canonical sorted, space-joined string.
//
// An empty request grants every is_default catalog scope the client is
// allowed to hold. Dangerous scopes require a trusted client or an explicit
// consent step; verification-gated scopes require a verified client. The
// trust and verification gates are independent.
func (e *Engine) Resolve(ctx context.Context, requested string, client *models.Client, consentSurfaced bool) (string, error) {
	catalog, err := e.catalog(ctx)
	if err != nil {
		return "", err
	}

	var names []string
	if strings.TrimSpace(requested) == "" {
		for name, s := range catalog {
			if s.IsDefault && client.AllowsScope(name) {
				names = append(names, name)
			}
		}
	} else {
		names = strings.Fields(requested)
	}

	granted := make(map[string]struct{}, len(names))
	for _, name := range names {
		s, ok := catalog[name]
		if !ok {
			return "", oautherr.WithDescription(oautherr.ErrInvalidScope, "unknown scope: "+name)
		}
		if !client.AllowsScope(name) {
			return "", oautherr.WithDescription(oautherr.ErrInvalidScope, "scope not allowed for this client: "+name)
		}
		if s.IsDangerous && !client.Trusted && !consentSurfaced {
			return "", oautherr.WithDescription(oautherr.ErrInvalidScope, "scope requires a trusted client or explicit consent: "+name)
		}
		if s.RequiresVerification && !client.Verified {
			return "", oautherr.WithDescription(oautherr.ErrInvalidScope, "scope requires a verified client: "+name)
		}
		granted[name] = struct{}{}
	}

	final := make([]string, 0, len(granted))
	for name := range granted {
		final = append(final, name)
	}
	sort.Strings(final)

	return strings.Join(final, " "), nil
}

// PublicScopeNames lists the catalog scopes that may be advertised to third
// parties, for the discovery document.
func (e *Engine) PublicScopeNames(ctx context.Context) ([]string, error) {
	catalog, err := e.catalog(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	for name, s := range catalog {
		if s.IsPublic {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Includes reports whether the space-separated granted set contains the
// named scope. Used for bearer-token scope checks at resource access.
func Includes(granted, name string) bool {
	for _, s := range strings.Fields(granted) {
		if s == name {
			return true
		}
	}
	return false
}

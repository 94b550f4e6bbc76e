package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campusgate/seuauth/cas"
	"github.com/campusgate/seuauth/crypto"
	"github.com/campusgate/seuauth/storage"
)

// keyMaterial is one acquired public key paired with the correlation token
// it was issued alongside. The pairing is the invariant: submitting under
// a key with a token from a different key is a protocol error the provider
// reports only as a generic session failure.
type keyMaterial struct {
	PublicKey  string
	Token      string
	Fresh      bool
	AcquiredAt time.Time
}

// keyStore acquires key material for one login attempt. It remembers the
// last fresh acquisition so a "reuse" response (same key, no new token)
// can be paired with the token already held, and falls back to the
// persisted store for tokens recorded by an earlier run against the same
// key.
type keyStore struct {
	client *cas.Client
	store  storage.Store // may be nil
	log    *slog.Logger

	last *keyMaterial
}

// Acquire fetches key material, to be consumed by exactly one submission.
// A reuse response with no recoverable token is ErrKeyCorrelation: blind
// refetching would keep hitting the same reused key until it expires
// server-side, so the failure is surfaced instead.
func (k *keyStore) Acquire(ctx context.Context) (*keyMaterial, error) {
	resp, err := k.client.CipherKey(ctx)
	if err != nil {
		return nil, err
	}

	if resp.Fresh {
		material := &keyMaterial{
			PublicKey:  resp.PublicKey,
			Token:      resp.CorrelationToken,
			Fresh:      true,
			AcquiredAt: time.Now(),
		}
		k.last = material
		k.persist(ctx, material)
		return material, nil
	}

	// Reused key: the token from the prior fresh acquisition still pairs
	// with it.
	if k.last != nil && k.last.PublicKey == resp.PublicKey {
		return &keyMaterial{
			PublicKey:  resp.PublicKey,
			Token:      k.last.Token,
			AcquiredAt: time.Now(),
		}, nil
	}

	if k.store != nil {
		token, err := k.store.LoadCorrelation(ctx, crypto.HashKey(resp.PublicKey))
		if err == nil {
			k.log.Debug("recovered correlation token from store")
			k.client.SetCorrelationToken(token)
			material := &keyMaterial{
				PublicKey:  resp.PublicKey,
				Token:      token,
				AcquiredAt: time.Now(),
			}
			k.last = material
			return material, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading correlation token: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: provider reused a key this session holds no token for", cas.ErrKeyCorrelation)
}

// persist records the token under the key's digest, best-effort: a store
// write failure must not fail the attempt that already holds the token.
func (k *keyStore) persist(ctx context.Context, material *keyMaterial) {
	if k.store == nil {
		return
	}
	if err := k.store.SaveCorrelation(ctx, crypto.HashKey(material.PublicKey), material.Token); err != nil {
		k.log.Warn("persisting correlation token failed", "error", err)
	}
}

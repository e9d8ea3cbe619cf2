package jwtverifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/greenlens/greenlens/metrics"
	"github.com/greenlens/greenlens/proxy"
	"github.com/greenlens/greenlens/static"
)

// keySet caches the JSON Web Key Set used to verify token signatures. The set
// is downloaded lazily, reused for ttl, and refreshed early when a token names
// an unknown key (at most once per JWKSMinRefreshInterval). Concurrent
// requests share one download, which runs without holding mu.
type keySet struct {
	jwksURL *url.URL
	client  *http.Client
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu      sync.Mutex
	keys    *jose.JSONWebKeySet
	fetched time.Time
}

func newKeySet(jwksURL *url.URL, client *http.Client, ttl time.Duration, now func() time.Time) *keySet {
	return &keySet{
		jwksURL: jwksURL,
		client:  client,
		ttl:     ttl,
		now:     now,
	}
}

// get returns the key with the given id. It returns ctx.Err() as soon as ctx
// is done, even while a download started by another request is in progress.
func (k *keySet) get(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	key, refresh := k.cached(kid)
	if key != nil {
		return key, nil
	}
	if !refresh {
		return nil, ErrUnknownKeyID
	}

	ch := k.group.DoChan("jwks", func() (interface{}, error) {
		// The download is shared, so one caller's cancellation must not
		// abort it for the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), static.JWKSFetchTimeout)
		defer cancel()
		jwks, err := k.fetch(fctx)
		if err != nil {
			return nil, err
		}
		k.mu.Lock()
		k.keys = jwks
		k.fetched = k.now()
		k.mu.Unlock()
		return jwks, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if key := lookup(r.Val.(*jose.JSONWebKeySet), kid); key != nil {
			return key, nil
		}
		return nil, ErrUnknownKeyID
	}
}

// cached looks up kid in the cached key set. When the key is not found,
// refresh reports whether a download is allowed.
func (k *keySet) cached(kid string) (key *jose.JSONWebKey, refresh bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	age := k.now().Sub(k.fetched)
	if k.keys == nil || age >= k.ttl {
		return nil, true
	}
	if key := lookup(k.keys, kid); key != nil {
		return key, false
	}
	return nil, age >= static.JWKSMinRefreshInterval
}

// fetch downloads the JSON Web Key Set from the configured URL.
func (k *keySet) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.jwksURL.String(), nil)
	if err != nil {
		return nil, err
	}

	var jwks jose.JSONWebKeySet
	_, err = proxy.UnmarshalResponse(k.client, req, &jwks)
	if err != nil {
		metrics.JWKSFetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", k.jwksURL, err)
	}
	if len(jwks.Keys) == 0 {
		metrics.JWKSFetchTotal.WithLabelValues("empty").Inc()
		return nil, errors.New("JWKS contains no keys")
	}

	metrics.JWKSFetchTotal.WithLabelValues("OK").Inc()
	log.WithFields(log.Fields{
		"jwks": k.jwksURL.String(),
		"keys": len(jwks.Keys),
	}).Debug("Fetched JWKS")
	return &jwks, nil
}

func lookup(jwks *jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	keys := jwks.Key(kid)
	if len(keys) == 0 {
		return nil
	}
	return &keys[0]
}

// Package resolver maps container paths onto remote container ids, creating
// missing folders on the way and remembering every (parent, name) pair it has
// already resolved during a pass.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"synmigrate/internal/logger"
	"synmigrate/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type ContainerResolutionError struct {
	Path string
	Name string
	Err  error
}

func (e *ContainerResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve container %q in %q: %v", e.Name, e.Path, e.Err)
}

func (e *ContainerResolutionError) Unwrap() error {
	return e.Err
}

type Stats struct {
	Lookups int64
	Creates int64
	Hits    int64
}

// Resolver is scoped to one synchronization pass. It is safe for concurrent
// use; callers racing on the same (parent, name) share one remote call.
type Resolver struct {
	store store.Store

	mu    sync.RWMutex
	cache map[cacheKey]string
	group singleflight.Group

	lookups atomic.Int64
	creates atomic.Int64
	hits    atomic.Int64
}

type cacheKey struct {
	parentID string
	name     string
}

func New(s store.Store) *Resolver {
	return &Resolver{
		store: s,
		cache: make(map[cacheKey]string),
	}
}

// ResolveContainer walks containers from rootID without creating anything.
func (r *Resolver) ResolveContainer(ctx context.Context, rootID string, containers []string) (string, error) {
	return r.walk(ctx, rootID, containers, false)
}

// ResolveOrCreate walks containers from rootID, creating missing folders.
func (r *Resolver) ResolveOrCreate(ctx context.Context, rootID string, containers []string) (string, error) {
	return r.walk(ctx, rootID, containers, true)
}

func (r *Resolver) walk(ctx context.Context, rootID string, containers []string, create bool) (string, error) {
	parentID := rootID
	for i, name := range containers {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id, err := r.child(ctx, parentID, name, create)
		if err != nil {
			return "", &ContainerResolutionError{
				Path: strings.Join(containers[:i+1], "/"),
				Name: name,
				Err:  err,
			}
		}
		parentID = id
	}

	return parentID, nil
}

func (r *Resolver) child(ctx context.Context, parentID, name string, create bool) (string, error) {
	k := cacheKey{parentID: parentID, name: name}

	r.mu.RLock()
	id, ok := r.cache[k]
	r.mu.RUnlock()
	if ok {
		r.hits.Add(1)
		return id, nil
	}

	if err := store.ValidateName(name); err != nil {
		return "", err
	}

	flightKey := parentID + "\x00" + name
	if create {
		flightKey += "\x00create"
	}

	v, err, _ := r.group.Do(flightKey, func() (any, error) {
		// another flight may have filled the cache while this one queued
		r.mu.RLock()
		id, ok := r.cache[k]
		r.mu.RUnlock()
		if ok {
			return id, nil
		}

		id, err := r.fetchOrCreate(ctx, parentID, name, create)
		if err != nil {
			return "", err
		}

		r.mu.Lock()
		r.cache[k] = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (r *Resolver) fetchOrCreate(ctx context.Context, parentID, name string, create bool) (string, error) {
	ent, err := r.lookup(ctx, parentID, name)
	if err == nil {
		return ent.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) || !create {
		return "", err
	}

	r.creates.Add(1)
	created, err := r.store.CreateFolder(ctx, parentID, name)
	if err == nil {
		logger.Log.Info("folder created",
			zap.String("name", name),
			zap.String("parent", parentID),
			zap.String("id", created.ID))
		return created.ID, nil
	}

	if !errors.Is(err, store.ErrAlreadyExists) {
		return "", err
	}

	// someone else created it between our lookup and create
	logger.Log.Debug("folder appeared concurrently, re-fetching",
		zap.String("name", name),
		zap.String("parent", parentID))

	ent, err = r.lookup(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("re-fetch after create conflict: %w", err)
	}

	return ent.ID, nil
}

func (r *Resolver) lookup(ctx context.Context, parentID, name string) (store.Entity, error) {
	r.lookups.Add(1)
	ent, err := r.store.FindChild(ctx, parentID, name)
	if err != nil {
		return store.Entity{}, err
	}

	if !ent.Kind.IsContainer() {
		return store.Entity{}, fmt.Errorf("%w: %q is a %s, expected a folder", store.ErrWrongKind, name, ent.Kind)
	}

	return ent, nil
}

func (r *Resolver) Stats() Stats {
	return Stats{
		Lookups: r.lookups.Load(),
		Creates: r.creates.Load(),
		Hits:    r.hits.Load(),
	}
}

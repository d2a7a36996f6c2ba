// Package suppression learns which sender domains a caregiver keeps ignoring
// and promotes them to suppressed, so their mail is tombstoned at ingestion
// instead of resurfacing as pending tasks.
package suppression

import (
	"context"
	"fmt"
	"log"

	"github.com/carebridge/inbox-triage/internal/domain"
)

// Store is the persistence surface for suppression rows.
type Store interface {
	// Increment bumps the ignore count for the domain, creating the row on
	// first ignore, and flips Suppressed once the count reaches the threshold.
	Increment(ctx context.Context, caregiverID string, p domain.Provider, senderDomain string, threshold int) (*domain.SenderSuppression, error)

	// SetSuppressed manually suppresses or unsuppresses a domain. Unsuppression
	// resets the ignore count so one more ignore does not instantly re-promote.
	SetSuppressed(ctx context.Context, caregiverID string, p domain.Provider, senderDomain string, suppressed bool) (*domain.SenderSuppression, error)

	// ListSuppressed returns the suppressed domains for a caregiver/provider.
	ListSuppressed(ctx context.Context, caregiverID string, p domain.Provider) ([]string, error)

	// List returns all suppression rows for a caregiver, suppressed or not.
	List(ctx context.Context, caregiverID string) ([]*domain.SenderSuppression, error)
}

// Learner applies ignore feedback to the suppression table.
type Learner struct {
	store     Store
	cache     *Cache
	threshold int
}

// NewLearner builds a Learner. cache may be nil when redis is disabled;
// threshold 0 means the default.
func NewLearner(store Store, cache *Cache, threshold int) *Learner {
	if threshold <= 0 {
		threshold = domain.DefaultSuppressThreshold
	}
	return &Learner{store: store, cache: cache, threshold: threshold}
}

// RecordIgnore registers one caregiver ignore of a sender domain. Messages
// without a resolvable sender domain teach nothing.
func (l *Learner) RecordIgnore(ctx context.Context, caregiverID string, p domain.Provider, senderDomain string) (*domain.SenderSuppression, error) {
	if senderDomain == "" {
		return nil, nil
	}
	sup, err := l.store.Increment(ctx, caregiverID, p, senderDomain, l.threshold)
	if err != nil {
		return nil, fmt.Errorf("increment suppression: %w", err)
	}
	if sup.Suppressed && sup.IgnoreCount == l.threshold {
		log.Printf("[Suppression] caregiver=%s domain=%s suppressed after %d ignores", caregiverID, senderDomain, sup.IgnoreCount)
	}
	l.invalidate(ctx, caregiverID, p)
	return sup, nil
}

// Suppress manually suppresses a domain regardless of its ignore count.
func (l *Learner) Suppress(ctx context.Context, caregiverID string, p domain.Provider, senderDomain string) (*domain.SenderSuppression, error) {
	sup, err := l.store.SetSuppressed(ctx, caregiverID, p, senderDomain, true)
	if err != nil {
		return nil, fmt.Errorf("suppress domain: %w", err)
	}
	l.invalidate(ctx, caregiverID, p)
	return sup, nil
}

// Unsuppress lifts a suppression and resets the learned count.
func (l *Learner) Unsuppress(ctx context.Context, caregiverID string, p domain.Provider, senderDomain string) (*domain.SenderSuppression, error) {
	sup, err := l.store.SetSuppressed(ctx, caregiverID, p, senderDomain, false)
	if err != nil {
		return nil, fmt.Errorf("unsuppress domain: %w", err)
	}
	l.invalidate(ctx, caregiverID, p)
	return sup, nil
}

// List returns the caregiver's suppression rows for the admin surface.
func (l *Learner) List(ctx context.Context, caregiverID string) ([]*domain.SenderSuppression, error) {
	return l.store.List(ctx, caregiverID)
}

func (l *Learner) invalidate(ctx context.Context, caregiverID string, p domain.Provider) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, caregiverID, p); err != nil {
		log.Printf("[Suppression] cache invalidation failed for caregiver=%s: %v", caregiverID, err)
	}
}

// View is the read side the mail pipeline consumes: suppressed domains per
// caregiver/provider, cached when a cache is attached.
type View struct {
	store Store
	cache *Cache
}

// NewView builds a View. cache may be nil.
func NewView(store Store, cache *Cache) *View {
	return &View{store: store, cache: cache}
}

// SuppressedDomains returns the suppressed domain set, read through the cache
// when one is attached. Cache failures fall back to the store; suppression is
// load-bearing for correctness, so the database always has the final word.
func (v *View) SuppressedDomains(ctx context.Context, caregiverID string, p domain.Provider) (map[string]struct{}, error) {
	if v.cache != nil {
		if domains, ok := v.cache.Get(ctx, caregiverID, p); ok {
			return toSet(domains), nil
		}
	}
	domains, err := v.store.ListSuppressed(ctx, caregiverID, p)
	if err != nil {
		return nil, fmt.Errorf("list suppressed domains: %w", err)
	}
	if v.cache != nil {
		if err := v.cache.Put(ctx, caregiverID, p, domains); err != nil {
			log.Printf("[Suppression] cache write failed for caregiver=%s: %v", caregiverID, err)
		}
	}
	return toSet(domains), nil
}

func toSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[d] = struct{}{}
	}
	return set
}

package rates

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory rate table and profile directory for tests and local runs.
// Reads return copies, so a rate change only affects lookups made after it.
type MemoryRepo struct {
	mu       sync.RWMutex
	perMin   map[string]CallRatePerMin
	general  map[string]CallRate
	profiles map[string]Profile
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		perMin:   map[string]CallRatePerMin{},
		general:  map[string]CallRate{},
		profiles: map[string]Profile{},
	}
}

func perMinKey(category, userType string) string { return category + "|" + userType }

func (r *MemoryRepo) PutPerMinuteRate(row CallRatePerMin) {
	if row.Status == "" {
		row.Status = RateStatusActive
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perMin[perMinKey(row.Category, row.Type)] = row
}

func (r *MemoryRepo) PutCallRate(row CallRate) {
	if row.Status == "" {
		row.Status = RateStatusActive
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.general[row.Category] = row
}

func (r *MemoryRepo) PutProfile(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.UserID] = p
}

func (r *MemoryRepo) FindPerMinuteRate(ctx context.Context, category, userType string) (CallRatePerMin, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.perMin[perMinKey(category, userType)]
	return row, ok, nil
}

func (r *MemoryRepo) FindCallRate(ctx context.Context, category string) (CallRate, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.general[category]
	return row, ok, nil
}

func (r *MemoryRepo) FindProfile(ctx context.Context, userID string) (Profile, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	return p, ok, nil
}

func (r *MemoryRepo) ListRates(ctx context.Context) (Table, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := Table{
		CallRates:       make([]CallRate, 0, len(r.general)),
		CallRatesPerMin: make([]CallRatePerMin, 0, len(r.perMin)),
	}
	for _, row := range r.general {
		out.CallRates = append(out.CallRates, row)
	}
	for _, row := range r.perMin {
		out.CallRatesPerMin = append(out.CallRatesPerMin, row)
	}
	sort.Slice(out.CallRates, func(i, j int) bool { return out.CallRates[i].Category < out.CallRates[j].Category })
	sort.Slice(out.CallRatesPerMin, func(i, j int) bool {
		a, b := out.CallRatesPerMin[i], out.CallRatesPerMin[j]
		return perMinKey(a.Category, a.Type) < perMinKey(b.Category, b.Type)
	})
	return out, nil
}

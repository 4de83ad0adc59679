package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"subtrack/internal/infra/metrics"
	"subtrack/internal/localcache"
	"subtrack/internal/models"
	"subtrack/internal/remote"

	"github.com/google/uuid"
)

// Table is the remote table holding subscription rows.
const Table = "subscriptions"

// opTimeout bounds every remote call issued by the store.
const opTimeout = 30 * time.Second

// WarningLocalData is the soft error set when a fetch degrades to cached
// data instead of failing outright.
const WarningLocalData = "remote unavailable, showing local data"

// Result is the outcome of a single mutation.
type Result struct {
	Success      bool                 `json:"success"`
	Data         *models.Subscription `json:"data,omitempty"`
	Err          string               `json:"error,omitempty"`
	IsLocal      bool                 `json:"is_local,omitempty"`
	NeedsRefresh bool                 `json:"needs_refresh,omitempty"`
	// Reason carries the error kind that triggered a fallback so the
	// consumer can distinguish a policy rejection from a network outage.
	Reason string `json:"reason,omitempty"`
}

func failure(msg string) Result { return Result{Err: msg} }

// Patch is a partial update to a subscription. Nil fields are left
// untouched.
type Patch struct {
	Name            *string              `json:"name,omitempty"`
	Price           *float64             `json:"price,omitempty"`
	BillingCycle    *models.BillingCycle `json:"billing_cycle,omitempty"`
	Category        *string              `json:"category,omitempty"`
	NextPaymentDate *string              `json:"next_payment_date,omitempty"`
	Description     *string              `json:"description,omitempty"`
}

// Store owns the in-memory subscription collection for one user and mediates
// between the remote backend and the local durable cache.
//
// Effects of each operation are applied atomically to the collection. Across
// operations there is no ordering: a mutation bumps the collection version,
// and a fetch that started before the bump discards its result instead of
// overwriting newer state.
type Store struct {
	remote remote.Client
	cache  *localcache.Cache
	log    *slog.Logger

	mu      sync.Mutex
	userID  string
	subs    []models.Subscription
	loading bool
	errMsg  string
	warning bool
	version uint64

	bg  sync.WaitGroup
	now func() time.Time
}

// New creates a store backed by the given remote client and local cache.
func New(rc remote.Client, cache *localcache.Cache, log *slog.Logger) *Store {
	return &Store{remote: rc, cache: cache, log: log, now: time.Now}
}

// SetUser binds the store to an identity, resetting the collection. An empty
// id unbinds it.
func (s *Store) SetUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == id {
		return
	}
	s.userID = id
	s.subs = nil
	s.loading = false
	s.errMsg = ""
	s.warning = false
	s.version++
}

// Snapshot is the presentation-facing view of the store's state.
type Snapshot struct {
	Records            []models.Subscription `json:"records"`
	IsLoading          bool                  `json:"is_loading"`
	Error              string                `json:"error,omitempty"`
	Warning            bool                  `json:"warning,omitempty"`
	TotalMonthlyAmount float64               `json:"total_monthly_amount"`
	UpcomingPayments   []models.Subscription `json:"upcoming_payments"`
}

// State returns a copy of the current collection and its derived aggregates.
func (s *Store) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]models.Subscription, len(s.subs))
	copy(records, s.subs)
	return Snapshot{
		Records:            records,
		IsLoading:          s.loading,
		Error:              s.errMsg,
		Warning:            s.warning,
		TotalMonthlyAmount: totalMonthly(s.subs),
		UpcomingPayments:   upcoming(s.subs, s.now()),
	}
}

// Records returns a copy of the in-memory collection.
func (s *Store) Records() []models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// Err returns the current error slot and whether it is a soft warning
// (degraded to local data) rather than a hard failure.
func (s *Store) Err() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg, s.warning
}

// IsLoading reports whether a fetch is in flight.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// TotalMonthlyAmount sums every record's price normalized to a monthly
// equivalent.
func (s *Store) TotalMonthlyAmount() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return totalMonthly(s.subs)
}

// UpcomingPayments returns records whose next payment falls within the next
// seven days, inclusive of today and of day seven.
func (s *Store) UpcomingPayments() []models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upcoming(s.subs, s.now())
}

func totalMonthly(subs []models.Subscription) float64 {
	var sum float64
	for _, sub := range subs {
		sum += models.MonthlyCost(sub.Price, sub.BillingCycle)
	}
	return sum
}

func upcoming(subs []models.Subscription, now time.Time) []models.Subscription {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	horizon := today.AddDate(0, 0, 7)

	out := []models.Subscription{}
	for _, sub := range subs {
		if sub.NextPaymentDate == "" {
			continue
		}
		due, err := time.ParseInLocation("2006-01-02", sub.NextPaymentDate, now.Location())
		if err != nil {
			continue
		}
		if !due.Before(today) && !due.After(horizon) {
			out = append(out, sub)
		}
	}
	return out
}

// Refresh replaces the in-memory collection with the remote state, mirroring
// it into the local cache. On remote failure it recovers the last mirrored
// collection and surfaces a soft warning; with no mirror it surfaces a hard
// error and an empty collection. Errors never propagate to the caller.
func (s *Store) Refresh(ctx context.Context) {
	s.mu.Lock()
	uid := s.userID
	if uid == "" {
		s.subs = nil
		s.loading = false
		s.errMsg = ""
		s.warning = false
		s.mu.Unlock()
		return
	}
	s.loading = true
	s.errMsg = ""
	s.warning = false
	startVersion := s.version
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.remote.Select(ctx, Table,
		remote.Filter{"user_id": uid},
		&remote.Order{Column: "created_at", Descending: true},
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if s.userID != uid || s.version != startVersion {
		// A mutation or identity change landed while this fetch was in
		// flight; its result is stale.
		metrics.Fetches.WithLabelValues("stale").Inc()
		return
	}

	if err != nil {
		metrics.RemoteErrors.WithLabelValues(remote.KindOf(err).String()).Inc()
		cached, ok, cacheErr := s.cache.LoadSubscriptions(uid)
		if cacheErr != nil {
			s.log.Error("cache read failed", "user", uid, "err", cacheErr)
		}
		if ok {
			s.subs = cached
			s.errMsg = WarningLocalData
			s.warning = true
			metrics.Fetches.WithLabelValues("degraded").Inc()
			s.log.Warn("fetch degraded to local data", "user", uid, "err", err)
			return
		}
		s.subs = nil
		s.errMsg = err.Error()
		metrics.Fetches.WithLabelValues("error").Inc()
		s.log.Error("fetch failed", "user", uid, "err", err)
		return
	}

	subs := make([]models.Subscription, 0, len(rows))
	for _, row := range rows {
		var sub models.Subscription
		if err := json.Unmarshal(row, &sub); err != nil {
			s.log.Warn("skipping malformed record", "user", uid, "err", err)
			continue
		}
		sub.Normalize()
		subs = append(subs, sub)
	}
	s.subs = subs
	if err := s.cache.SaveSubscriptions(uid, subs); err != nil {
		s.log.Error("cache mirror failed", "user", uid, "err", err)
	}
	metrics.Fetches.WithLabelValues("ok").Inc()
}

// Add creates a subscription. The remote insert is attempted first; policy
// rejections and network failures degrade to a local-only record so the
// user's action stays effective on this device.
func (s *Store) Add(ctx context.Context, payload models.Subscription) Result {
	s.mu.Lock()
	uid := s.userID
	s.mu.Unlock()
	if uid == "" {
		return failure("cannot add subscription: no authenticated user")
	}

	now := s.now()
	payload.ID = ""
	payload.UserID = uid
	payload.IsLocal = false
	payload.CreatedAt = now
	payload.UpdatedAt = now
	payload.Normalize()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.remote.Insert(ctx, Table, payload)
	if err == nil {
		if len(rows) > 0 {
			var created models.Subscription
			if jsonErr := json.Unmarshal(rows[0], &created); jsonErr == nil {
				created.Normalize()
				s.merge(created)
				return Result{Success: true, Data: &created}
			}
		}
		// Insert accepted, but row visibility blocked reading it back.
		// Keep a best-effort copy and reconcile in the background.
		synthetic := payload
		synthetic.ID = uuid.NewString()
		s.merge(synthetic)
		s.backgroundRefresh()
		return Result{Success: true, Data: &synthetic, NeedsRefresh: true}
	}

	kind := remote.KindOf(err)
	metrics.RemoteErrors.WithLabelValues(kind.String()).Inc()

	switch kind {
	case remote.KindPermissionDenied, remote.KindForeignKeyViolation, remote.KindNetwork:
		local := payload
		local.ID = "local-" + uuid.NewString()
		local.IsLocal = true

		s.mu.Lock()
		s.subs = append([]models.Subscription{local}, s.subs...)
		s.version++
		subs := make([]models.Subscription, len(s.subs))
		copy(subs, s.subs)
		s.mu.Unlock()

		if cacheErr := s.cache.SaveSubscriptions(uid, subs); cacheErr != nil {
			s.log.Error("cache fallback write failed", "user", uid, "err", cacheErr)
		}
		metrics.LocalFallbacks.Inc()
		s.log.Warn("subscription saved locally only", "user", uid, "kind", kind.String(), "err", err)
		return Result{Success: true, Data: &local, IsLocal: true, Reason: kind.String()}

	case remote.KindUniqueViolation:
		s.setError("a subscription with these details already exists")
		return failure("a subscription with these details already exists")

	default:
		s.setError(err.Error())
		return failure(err.Error())
	}
}

// Update patches a subscription, recomputing the monthly cost when billing
// fields change. There is deliberately no local fallback here: mutating
// unknown prior state offline risks silent divergence, unlike create.
func (s *Store) Update(ctx context.Context, id string, patch Patch) Result {
	s.mu.Lock()
	uid := s.userID
	existing, found := findLocked(s.subs, id)
	s.mu.Unlock()

	if uid == "" {
		return failure("cannot update subscription: no authenticated user")
	}
	if id == "" {
		return failure("cannot update subscription: missing id")
	}

	body := map[string]any{"updated_at": s.now()}
	if patch.Name != nil {
		body["name"] = *patch.Name
	}
	if patch.Category != nil {
		body["category"] = *patch.Category
	}
	if patch.NextPaymentDate != nil {
		body["next_payment_date"] = *patch.NextPaymentDate
	}
	if patch.Description != nil {
		body["description"] = *patch.Description
	}
	if patch.Price != nil || patch.BillingCycle != nil {
		price := existing.Price
		cycle := existing.BillingCycle
		if !found {
			cycle = models.CycleMonthly
		}
		if patch.Price != nil {
			price = max(*patch.Price, 0)
			body["price"] = price
		}
		if patch.BillingCycle != nil {
			cycle = models.NormalizeCycle(*patch.BillingCycle)
			body["billing_cycle"] = cycle
		}
		// Without the record in memory and no price in the patch, the base
		// price is unknown; leave the derived cost for the next refresh
		// instead of writing zero.
		if found || patch.Price != nil {
			body["monthly_cost"] = models.MonthlyCost(price, cycle)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Scoped to both id and user id so one user can never mutate another's
	// row.
	rows, err := s.remote.Update(ctx, Table, remote.Filter{"id": id, "user_id": uid}, body)
	if err != nil {
		metrics.RemoteErrors.WithLabelValues(remote.KindOf(err).String()).Inc()
		s.setError(err.Error())
		return failure(err.Error())
	}

	if len(rows) > 0 {
		var updated models.Subscription
		if jsonErr := json.Unmarshal(rows[0], &updated); jsonErr == nil {
			updated.Normalize()
			s.merge(updated)
			return Result{Success: true, Data: &updated}
		}
	}
	s.backgroundRefresh()
	return Result{Success: true, NeedsRefresh: true}
}

// Remove deletes a subscription remotely and, on success, from memory. On
// failure memory is left untouched.
func (s *Store) Remove(ctx context.Context, id string) Result {
	s.mu.Lock()
	uid := s.userID
	s.mu.Unlock()

	if uid == "" {
		return failure("cannot delete subscription: no authenticated user")
	}
	if id == "" {
		return failure("cannot delete subscription: missing id")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.remote.Delete(ctx, Table, remote.Filter{"id": id, "user_id": uid}); err != nil {
		metrics.RemoteErrors.WithLabelValues(remote.KindOf(err).String()).Inc()
		s.setError(err.Error())
		return failure(err.Error())
	}

	s.mu.Lock()
	for i, sub := range s.subs {
		if sub.ID == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	s.version++
	s.mu.Unlock()
	return Result{Success: true}
}

// WaitBackground blocks until background reconciliation refreshes finish.
func (s *Store) WaitBackground() {
	s.bg.Wait()
}

func (s *Store) backgroundRefresh() {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.Refresh(context.Background())
	}()
}

// merge replaces the record with the same id, or prepends a new one.
func (s *Store) merge(sub models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subs {
		if s.subs[i].ID == sub.ID {
			s.subs[i] = sub
			s.version++
			return
		}
	}
	s.subs = append([]models.Subscription{sub}, s.subs...)
	s.version++
}

func (s *Store) setError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.warning = false
	s.mu.Unlock()
}

func findLocked(subs []models.Subscription, id string) (models.Subscription, bool) {
	for _, sub := range subs {
		if sub.ID == id {
			return sub, true
		}
	}
	return models.Subscription{}, false
}

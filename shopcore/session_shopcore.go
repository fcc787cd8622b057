package shopcore

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionSystemImpl implements the SessionSystem interface. It exclusively
// owns all live session records; the gateway only ever sees correlation keys
// and continuations, never references into session memory, because a session
// may be destroyed before a request completes.
type SessionSystemImpl struct {
	config   *SessionsConfig
	logger   *zap.Logger
	shopcore Shopcore

	cronParser cron.Parser
	flushSched cron.Schedule

	mu         sync.Mutex
	nextToken  uint64
	sessions   map[SessionToken]*sessionRecord
	slots      map[int32]*slotEntry
	identities map[string]SessionToken
	nextFlush  time.Time
}

// slotEntry is the indirection from a transient connection slot to the
// session currently bound to it. The generation increments on every bind so
// stale slot observations never resolve to a newer occupant.
type slotEntry struct {
	token      SessionToken
	generation uint64
}

type sessionRecord struct {
	token    SessionToken
	slot     int32
	identity string
	state    SessionState
	balance  int64
	items    map[ItemHandle]*OwnedItem
	// orphans are stored inventory rows whose item is no longer in the
	// catalog. They are preserved verbatim across flushes.
	orphans []*OwnedItem

	dirty          bool
	flushInFlight  bool
	leaveRequested bool
	deadline       time.Time
	createdAt      time.Time
}

var _ SessionSystem = (*SessionSystemImpl)(nil)

// NewSessionSystem creates a new instance of the SessionSystem implementation.
func NewSessionSystem(config *SessionsConfig, logger *zap.Logger) (*SessionSystemImpl, error) {
	if config == nil {
		config = &SessionsConfig{}
	}
	config.applyDefaults()

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(config.FlushCronexpr)
	if err != nil {
		return nil, NewError("invalid flush cron expression: "+err.Error(), INVALID_ARGUMENT_ERROR_CODE)
	}

	return &SessionSystemImpl{
		config:     config,
		logger:     logger,
		cronParser: parser,
		flushSched: sched,
		sessions:   make(map[SessionToken]*sessionRecord),
		slots:      make(map[int32]*slotEntry),
		identities: make(map[string]SessionToken),
		nextFlush:  sched.Next(time.Now()),
	}, nil
}

// GetType provides the runtime type of the system.
func (s *SessionSystemImpl) GetType() SystemType {
	return SystemTypeSessions
}

// GetConfig returns the configuration type of the system.
func (s *SessionSystemImpl) GetConfig() any {
	return s.config
}

// SetShopcore wires the hub reference for cross-system communication.
func (s *SessionSystemImpl) SetShopcore(sc Shopcore) {
	s.shopcore = sc
}

func (s *SessionSystemImpl) gateway() Gateway {
	if s.shopcore == nil {
		return nil
	}
	return s.shopcore.GetGatewaySystem()
}

func (s *SessionSystemImpl) registry() RegistrySystem {
	if s.shopcore == nil {
		return nil
	}
	return s.shopcore.GetRegistrySystem()
}

func (s *SessionSystemImpl) OnJoin(slot int32, identity string) (SessionToken, error) {
	if identity == "" {
		return NoSession, ErrBadInput
	}
	gw := s.gateway()
	if gw == nil {
		return NoSession, ErrSystemNotAvailable
	}

	now := time.Now()
	var emits []func()

	s.mu.Lock()

	// A reconnect may arrive before the previous session for the same
	// identity has retired. Supersede it: its final state is flushed and the
	// new session takes over the identity binding.
	if oldToken, ok := s.identities[identity]; ok {
		if old, ok := s.sessions[oldToken]; ok {
			s.logger.Info("superseding session for rejoining identity",
				zap.String("identity", identity),
				zap.Uint64("old_token", uint64(oldToken)))
			s.requestLeaveLocked(old, now)
		}
	}

	s.nextToken++
	token := SessionToken(s.nextToken)
	rec := &sessionRecord{
		token:     token,
		slot:      slot,
		identity:  identity,
		state:     SessionStateLoading,
		items:     make(map[ItemHandle]*OwnedItem),
		deadline:  now.Add(time.Duration(s.config.LoadTimeoutSec) * time.Second),
		createdAt: now,
	}
	s.sessions[token] = rec
	s.identities[identity] = token

	entry := s.slots[slot]
	if entry == nil {
		entry = &slotEntry{}
		s.slots[slot] = entry
	}
	entry.token = token
	entry.generation++

	err := gw.Query(&PersistenceRequest{
		OrderKey:   identity,
		Statement:  gw.Statements().SelectUser,
		Params:     []any{identity},
		Idempotent: true,
		OnComplete: func(res *Result) { s.completeUserLoad(token, res) },
	})
	if err != nil {
		s.failSessionLocked(rec, err, &emits)
	}

	s.mu.Unlock()
	s.run(emits)

	if err != nil {
		return NoSession, err
	}
	return token, nil
}

func (s *SessionSystemImpl) completeUserLoad(token SessionToken, res *Result) {
	var emits []func()

	s.mu.Lock()
	rec, ok := s.sessions[token]
	if !ok || rec.state != SessionStateLoading {
		// The session was force-retired before the store responded. The
		// result is discarded; it must never touch a newer session.
		s.mu.Unlock()
		s.logger.Debug("discarding stale user load completion", zap.Uint64("token", uint64(token)))
		return
	}

	if res.Err != nil {
		s.failSessionLocked(rec, res.Err, &emits)
		s.mu.Unlock()
		s.run(emits)
		return
	}

	if len(res.Rows) > 0 {
		if credits, ok := rowInt64(res.Rows[0], "credits"); ok {
			rec.balance = credits
		}
	} else {
		// No stored row yet: seed the starting balance and let the next
		// flush create the row.
		rec.balance = s.config.StartingBalance
		rec.dirty = true
	}

	gw := s.gateway()
	if gw == nil {
		s.failSessionLocked(rec, ErrSystemNotAvailable, &emits)
		s.mu.Unlock()
		s.run(emits)
		return
	}
	err := gw.Query(&PersistenceRequest{
		OrderKey:   rec.identity,
		Statement:  gw.Statements().SelectInventory,
		Params:     []any{rec.identity},
		Idempotent: true,
		OnComplete: func(res *Result) { s.completeInventoryLoad(token, res) },
	})
	if err != nil {
		s.failSessionLocked(rec, err, &emits)
	}

	s.mu.Unlock()
	s.run(emits)
}

func (s *SessionSystemImpl) completeInventoryLoad(token SessionToken, res *Result) {
	var emits []func()

	s.mu.Lock()
	rec, ok := s.sessions[token]
	if !ok || rec.state != SessionStateLoading {
		s.mu.Unlock()
		s.logger.Debug("discarding stale inventory load completion", zap.Uint64("token", uint64(token)))
		return
	}

	if res.Err != nil {
		s.failSessionLocked(rec, res.Err, &emits)
		s.mu.Unlock()
		s.run(emits)
		return
	}

	reg := s.registry()
	for _, row := range res.Rows {
		categoryKey, _ := rowString(row, "category_key")
		itemKey, _ := rowString(row, "item_key")
		pricePaid, _ := rowInt64(row, "price_paid")
		acquiredAt, _ := rowInt64(row, "acquired_at")
		if categoryKey == "" || itemKey == "" {
			continue
		}

		// Items no longer in the catalog keep an invalid handle but their
		// keys are preserved, so they survive the next flush untouched.
		handle := NoItem
		if reg != nil {
			if h, err := reg.LookupByKey(categoryKey, itemKey); err == nil {
				handle = h
			}
		}
		owned := &OwnedItem{
			Item:        handle,
			CategoryKey: categoryKey,
			ItemKey:     itemKey,
			PricePaid:   pricePaid,
			AcquiredAt:  acquiredAt,
		}
		if handle != NoItem {
			rec.items[handle] = owned
		} else {
			rec.orphans = append(rec.orphans, owned)
		}
	}

	rec.state = SessionStateActive
	rec.deadline = time.Time{}
	s.logger.Info("session active",
		zap.String("identity", rec.identity),
		zap.Uint64("token", uint64(token)),
		zap.Int64("balance", rec.balance),
		zap.Int("items", len(rec.items)))

	identity := rec.identity
	emits = append(emits, func() {
		if s.shopcore != nil {
			s.shopcore.BroadcastSessionStart(context.Background(), s.logger, identity, token)
		}
	})

	// The player may have disconnected while the load was in flight. The
	// record is finalized anyway to avoid leaking a half-initialized write,
	// then flushed immediately.
	if rec.leaveRequested {
		s.beginFlushLocked(rec, true, time.Now())
	}

	s.mu.Unlock()
	s.run(emits)
}

func (s *SessionSystemImpl) OnLeave(token SessionToken) error {
	s.mu.Lock()
	rec, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.requestLeaveLocked(rec, time.Now())
	s.mu.Unlock()
	return nil
}

// requestLeaveLocked moves a session towards retirement from whatever state
// it is in. The slot binding is released immediately; the host environment
// may rebind the slot to a different player before the final write lands.
func (s *SessionSystemImpl) requestLeaveLocked(rec *sessionRecord, now time.Time) {
	if entry, ok := s.slots[rec.slot]; ok && entry.token == rec.token {
		delete(s.slots, rec.slot)
	}

	switch rec.state {
	case SessionStateLoading:
		rec.leaveRequested = true
	case SessionStateActive:
		s.beginFlushLocked(rec, true, now)
	case SessionStateFlushing:
		rec.leaveRequested = true
	}
}

func (s *SessionSystemImpl) TokenForSlot(slot int32) (SessionToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.slots[slot]
	if !ok {
		return NoSession, false
	}
	if _, live := s.sessions[entry.token]; !live {
		return NoSession, false
	}
	return entry.token, true
}

func (s *SessionSystemImpl) State(token SessionToken) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[token]
	if !ok {
		return SessionStateUnknown
	}
	return rec.state
}

func (s *SessionSystemImpl) Identity(token SessionToken) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[token]
	if !ok {
		return "", ErrSessionNotFound
	}
	return rec.identity, nil
}

func (s *SessionSystemImpl) Balance(token SessionToken) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.activeRecordLocked(token)
	if err != nil {
		return 0, err
	}
	return rec.balance, nil
}

func (s *SessionSystemImpl) AdjustCredits(token SessionToken, delta int64, reason string) (int64, error) {
	var emits []func()

	s.mu.Lock()
	rec, err := s.activeRecordLocked(token)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	newBalance := rec.balance + delta
	if delta < 0 && newBalance < s.config.CreditFloor {
		s.mu.Unlock()
		return rec.balance, ErrInsufficientFunds
	}
	if s.config.CreditCeiling > 0 && newBalance > s.config.CreditCeiling {
		s.mu.Unlock()
		return rec.balance, ErrCreditCeiling
	}

	rec.balance = newBalance
	rec.dirty = true
	s.emitEventLocked(rec, &emits, &PublisherEvent{
		Name:      EventCreditAdjust,
		Timestamp: time.Now().Unix(),
		Metadata:  map[string]string{"reason": reason},
		Value:     formatInt(delta),
	})

	s.mu.Unlock()
	s.run(emits)
	return newBalance, nil
}

func (s *SessionSystemImpl) GrantItem(token SessionToken, item ItemHandle) error {
	reg := s.registry()
	if reg == nil {
		return ErrSystemNotAvailable
	}
	def, err := reg.LookupItem(item)
	if err != nil {
		return err
	}

	var emits []func()

	s.mu.Lock()
	rec, err := s.activeRecordLocked(token)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	rec.items[item] = &OwnedItem{
		Item:        item,
		CategoryKey: def.CategoryKey,
		ItemKey:     def.Key,
		PricePaid:   0,
		AcquiredAt:  time.Now().Unix(),
	}
	rec.dirty = true
	s.emitEventLocked(rec, &emits, &PublisherEvent{
		Name:      EventItemGrant,
		Timestamp: time.Now().Unix(),
		SourceId:  def.Key,
		Source:    def,
	})

	s.mu.Unlock()
	s.run(emits)
	return nil
}

func (s *SessionSystemImpl) RevokeItem(token SessionToken, item ItemHandle) error {
	var emits []func()

	s.mu.Lock()
	rec, err := s.activeRecordLocked(token)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	owned, ok := rec.items[item]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	delete(rec.items, item)
	rec.dirty = true
	s.emitEventLocked(rec, &emits, &PublisherEvent{
		Name:      EventItemRevoke,
		Timestamp: time.Now().Unix(),
		SourceId:  owned.ItemKey,
	})

	s.mu.Unlock()
	s.run(emits)
	return nil
}

func (s *SessionSystemImpl) HasItem(token SessionToken, item ItemHandle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.activeRecordLocked(token)
	if err != nil {
		return false, err
	}
	_, ok := rec.items[item]
	return ok, nil
}

func (s *SessionSystemImpl) OwnedItems(token SessionToken) ([]*OwnedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.activeRecordLocked(token)
	if err != nil {
		return nil, err
	}

	out := make([]*OwnedItem, 0, len(rec.items)+len(rec.orphans))
	for _, owned := range rec.items {
		copied := *owned
		out = append(out, &copied)
	}
	for _, owned := range rec.orphans {
		copied := *owned
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryKey != out[j].CategoryKey {
			return out[i].CategoryKey < out[j].CategoryKey
		}
		return out[i].ItemKey < out[j].ItemKey
	})
	return out, nil
}

func (s *SessionSystemImpl) Purchase(token SessionToken, item ItemHandle) (*Receipt, error) {
	reg := s.registry()
	if reg == nil {
		return nil, ErrSystemNotAvailable
	}
	def, err := reg.LookupItem(item)
	if err != nil {
		return nil, err
	}
	if !def.Active || !def.Sealed {
		return nil, ErrItemNotForSale
	}
	// Price is snapshotted here; an admin price change racing this purchase
	// applies only to subsequent purchases.
	price := def.Price

	var emits []func()

	s.mu.Lock()
	rec, err := s.activeRecordLocked(token)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	newBalance := rec.balance - price
	if newBalance < s.config.CreditFloor {
		s.mu.Unlock()
		return nil, ErrInsufficientFunds
	}

	// Debit and grant as one in-memory step: both succeed or neither does.
	now := time.Now().Unix()
	rec.balance = newBalance
	rec.items[item] = &OwnedItem{
		Item:        item,
		CategoryKey: def.CategoryKey,
		ItemKey:     def.Key,
		PricePaid:   price,
		AcquiredAt:  now,
	}
	rec.dirty = true

	receipt := &Receipt{
		Token:       token,
		Item:        item,
		CategoryKey: def.CategoryKey,
		ItemKey:     def.Key,
		PricePaid:   price,
		Balance:     newBalance,
		AcquiredAt:  now,
	}
	s.emitEventLocked(rec, &emits, &PublisherEvent{
		Name:      EventPurchase,
		Timestamp: now,
		Metadata:  map[string]string{"category": def.CategoryKey, "price": formatInt(price)},
		SourceId:  def.Key,
		Source:    def,
	})

	s.mu.Unlock()
	s.run(emits)
	return receipt, nil
}

func (s *SessionSystemImpl) Tick(now time.Time) {
	var emits []func()

	s.mu.Lock()

	periodicDue := false
	if !now.Before(s.nextFlush) {
		periodicDue = true
		s.nextFlush = s.flushSched.Next(now)
	}

	for _, rec := range s.sessions {
		switch rec.state {
		case SessionStateLoading:
			if now.After(rec.deadline) {
				s.failSessionLocked(rec, NewError("session load timed out", UNAVAILABLE_ERROR_CODE), &emits)
			}

		case SessionStateActive:
			if periodicDue && rec.dirty && !rec.flushInFlight {
				s.beginFlushLocked(rec, false, now)
			}

		case SessionStateFlushing:
			if now.After(rec.deadline) {
				s.forceRetireLocked(rec, &emits)
			} else if rec.dirty && !rec.flushInFlight {
				// A previous flush failed; re-issue the latest snapshot.
				s.beginFlushLocked(rec, true, now)
			}
		}
	}

	s.mu.Unlock()
	s.run(emits)
}

func (s *SessionSystemImpl) FlushAll(now time.Time) {
	s.mu.Lock()
	for _, rec := range s.sessions {
		s.requestLeaveLocked(rec, now)
	}
	s.mu.Unlock()
}

func (s *SessionSystemImpl) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// beginFlushLocked snapshots the session state and issues the write-back
// transaction. Coalescing: the dirty flag is cleared now, so mutations that
// land while the write is in flight re-mark it and a later flush writes the
// newer snapshot. Only latest-state writes ever reach the store.
func (s *SessionSystemImpl) beginFlushLocked(rec *sessionRecord, leave bool, now time.Time) {
	gw := s.gateway()
	if gw == nil {
		return
	}

	if leave && rec.state != SessionStateFlushing {
		rec.state = SessionStateFlushing
		rec.leaveRequested = true
		rec.deadline = now.Add(time.Duration(s.config.FlushTimeoutSec) * time.Second)
	}
	if rec.flushInFlight {
		return
	}
	rec.flushInFlight = true
	rec.dirty = false

	stmts := gw.Statements()
	statements := make([]Statement, 0, 2+len(rec.items))
	statements = append(statements,
		Statement{SQL: stmts.UpsertUser, Params: []any{rec.identity, rec.balance, now.Unix()}},
		Statement{SQL: stmts.DeleteInventory, Params: []any{rec.identity}},
	)

	owned := make([]*OwnedItem, 0, len(rec.items)+len(rec.orphans))
	for _, item := range rec.items {
		owned = append(owned, item)
	}
	owned = append(owned, rec.orphans...)
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CategoryKey != owned[j].CategoryKey {
			return owned[i].CategoryKey < owned[j].CategoryKey
		}
		return owned[i].ItemKey < owned[j].ItemKey
	})
	for _, item := range owned {
		statements = append(statements, Statement{
			SQL:    stmts.InsertInventory,
			Params: []any{rec.identity, item.CategoryKey, item.ItemKey, item.PricePaid, item.AcquiredAt},
		})
	}

	token := rec.token
	err := gw.RunTransaction(&PersistenceTx{
		OrderKey:   rec.identity,
		Statements: statements,
		OnSuccess:  func() { s.completeFlush(token, nil) },
		OnFailure:  func(err error) { s.completeFlush(token, err) },
	})
	if err != nil {
		rec.flushInFlight = false
		rec.dirty = true
	}
}

func (s *SessionSystemImpl) completeFlush(token SessionToken, err error) {
	var emits []func()

	s.mu.Lock()
	rec, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("discarding flush completion for retired session", zap.Uint64("token", uint64(token)))
		return
	}
	rec.flushInFlight = false

	if err != nil {
		if errors.Is(err, ErrStoreAborted) {
			// Gateway teardown: no further write can succeed.
			s.forceRetireLocked(rec, &emits)
		} else {
			// The cache re-flushes the latest in-memory state on the next
			// tick. This is safe: the write sets current state, it is not an
			// incremental delta.
			s.logger.Warn("session flush failed, will re-flush latest state",
				zap.String("identity", rec.identity),
				zap.Uint64("token", uint64(token)),
				zap.Error(err))
			rec.dirty = true
		}
		s.mu.Unlock()
		s.run(emits)
		return
	}

	if rec.state == SessionStateFlushing && !rec.dirty {
		s.retireLocked(rec, true, &emits)
	}

	s.mu.Unlock()
	s.run(emits)
}

func (s *SessionSystemImpl) activeRecordLocked(token SessionToken) (*sessionRecord, error) {
	rec, ok := s.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if rec.state != SessionStateActive {
		return nil, ErrSessionNotActive
	}
	return rec, nil
}

// retireLocked destroys a session record after its final write completed.
func (s *SessionSystemImpl) retireLocked(rec *sessionRecord, clean bool, emits *[]func()) {
	rec.state = SessionStateRetired
	s.removeLocked(rec)

	identity, token := rec.identity, rec.token
	s.logger.Info("session retired",
		zap.String("identity", identity),
		zap.Uint64("token", uint64(token)),
		zap.Bool("clean", clean))
	*emits = append(*emits, func() {
		if s.shopcore != nil {
			s.shopcore.BroadcastSessionEnd(context.Background(), s.logger, identity, token, clean)
		}
	})
}

// forceRetireLocked destroys a session whose final write did not complete in
// time. The lost write is reported, never silently dropped.
func (s *SessionSystemImpl) forceRetireLocked(rec *sessionRecord, emits *[]func()) {
	s.logger.Error("force-retiring session, final write lost",
		zap.String("identity", rec.identity),
		zap.Uint64("token", uint64(rec.token)),
		zap.Int64("balance", rec.balance),
		zap.Int("items", len(rec.items)))
	s.emitEventLocked(rec, emits, &PublisherEvent{
		Name:      EventLostWrite,
		Timestamp: time.Now().Unix(),
		Metadata:  map[string]string{"balance": formatInt(rec.balance)},
	})
	s.retireLocked(rec, false, emits)
}

// failSessionLocked terminates a session on unrecoverable I/O error during
// load. The server keeps operating for other sessions.
func (s *SessionSystemImpl) failSessionLocked(rec *sessionRecord, err error, emits *[]func()) {
	rec.state = SessionStateFailed
	s.removeLocked(rec)

	s.logger.Error("session failed",
		zap.String("identity", rec.identity),
		zap.Uint64("token", uint64(rec.token)),
		zap.Error(err))
	s.emitEventLocked(rec, emits, &PublisherEvent{
		Name:      EventSessionFailed,
		Timestamp: time.Now().Unix(),
		Metadata:  map[string]string{"error": err.Error()},
	})
}

func (s *SessionSystemImpl) removeLocked(rec *sessionRecord) {
	delete(s.sessions, rec.token)
	if tok, ok := s.identities[rec.identity]; ok && tok == rec.token {
		delete(s.identities, rec.identity)
	}
	if entry, ok := s.slots[rec.slot]; ok && entry.token == rec.token {
		delete(s.slots, rec.slot)
	}
}

func (s *SessionSystemImpl) emitEventLocked(rec *sessionRecord, emits *[]func(), event *PublisherEvent) {
	if s.shopcore == nil {
		return
	}
	event.System = s
	identity := rec.identity
	*emits = append(*emits, func() {
		s.shopcore.SendPublisherEvents(context.Background(), s.logger, identity, []*PublisherEvent{event})
	})
}

func (s *SessionSystemImpl) run(emits []func()) {
	for _, emit := range emits {
		emit()
	}
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

// Package memory is a process-local implementation of every repository port.
// Transactions are serialised by one mutex and rolled back by restoring a
// snapshot, which is enough for dev mode and concurrency tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/repository"
)

var (
	_ repository.TransactionManager     = (*Store)(nil)
	_ repository.OrderRepository        = (*OrderRepo)(nil)
	_ repository.TransactionRepository  = (*TransactionRepo)(nil)
	_ repository.SubscriptionRepository = (*SubscriptionRepo)(nil)
	_ repository.UserRepository         = (*UserRepo)(nil)
)

// memTx marks calls made inside WithTx; the store mutex is already held.
type memTx struct{}

type state struct {
	orders  map[string]model.PaymentOrder
	txns    map[string]model.PaymentTransaction
	subs    map[string]*model.Subscription // by user id
	history []*model.Subscription
	users   map[string]model.User
}

func (s *state) clone() *state {
	cp := &state{
		orders:  make(map[string]model.PaymentOrder, len(s.orders)),
		txns:    make(map[string]model.PaymentTransaction, len(s.txns)),
		subs:    make(map[string]*model.Subscription, len(s.subs)),
		history: make([]*model.Subscription, len(s.history)),
		users:   make(map[string]model.User, len(s.users)),
	}
	for k, v := range s.orders {
		cp.orders[k] = v
	}
	for k, v := range s.txns {
		cp.txns[k] = v
	}
	for k, v := range s.subs {
		cp.subs[k] = v.Clone()
	}
	for i, v := range s.history {
		cp.history[i] = v.Clone()
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	return cp
}

type Store struct {
	mu sync.Mutex
	st *state

	Orders        *OrderRepo
	Transactions  *TransactionRepo
	Subscriptions *SubscriptionRepo
	Users         *UserRepo
}

func NewStore() *Store {
	s := &Store{st: &state{
		orders: map[string]model.PaymentOrder{},
		txns:   map[string]model.PaymentTransaction{},
		subs:   map[string]*model.Subscription{},
		users:  map[string]model.User{},
	}}
	s.Orders = &OrderRepo{s: s}
	s.Transactions = &TransactionRepo{s: s}
	s.Subscriptions = &SubscriptionRepo{s: s}
	s.Users = &UserRepo{s: s}
	return s
}

// WithTx runs fn while holding the store lock; an error restores the state
// seen at entry.
func (s *Store) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(ctx, memTx{}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// run takes the lock unless the caller is inside WithTx.
func (s *Store) run(tx repository.Tx, fn func(st *state) error) error {
	switch tx.(type) {
	case memTx:
		return fn(s.st)
	case nil:
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(s.st)
	default:
		return domain.ErrInvalidExecContext
	}
}

// ---- Orders ----

type OrderRepo struct{ s *Store }

func (r *OrderRepo) Create(ctx context.Context, tx repository.Tx, o *model.PaymentOrder) error {
	return r.s.run(tx, func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return domain.ErrAlreadyExists
		}
		for _, e := range st.orders {
			if e.UserID == o.UserID && e.GatewayOrderID == o.GatewayOrderID {
				return domain.ErrAlreadyExists
			}
		}
		st.orders[o.ID] = *o
		return nil
	})
}

func (r *OrderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentOrder, error) {
	var out *model.PaymentOrder
	err := r.s.run(tx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &o
		return nil
	})
	return out, err
}

func (r *OrderRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.PaymentOrder, error) {
	var out *model.PaymentOrder
	err := r.s.run(tx, func(st *state) error {
		for _, o := range st.orders {
			if o.GatewayOrderID == gatewayOrderID {
				o := o
				out = &o
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *OrderRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from []model.OrderStatus, to model.OrderStatus, reason string) (bool, error) {
	changed := false
	err := r.s.run(tx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return domain.ErrNotFound
		}
		for _, f := range from {
			if o.Status == f {
				now := time.Now().UTC()
				o.Status = to
				o.FailureReason = reason
				o.UpdatedAt = now
				if to == model.OrderStatusPaid {
					o.PaidAt = &now
				}
				st.orders[id] = o
				changed = true
				return nil
			}
		}
		return nil
	})
	return changed, err
}

// ---- Transactions ----

type TransactionRepo struct{ s *Store }

func (r *TransactionRepo) Create(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) error {
	return r.s.run(tx, func(st *state) error {
		if _, ok := st.txns[t.ID]; ok {
			return domain.ErrAlreadyExists
		}
		if t.GatewayPaymentID != nil {
			for _, e := range st.txns {
				if e.GatewayPaymentID != nil && *e.GatewayPaymentID == *t.GatewayPaymentID {
					return domain.ErrAlreadyExists
				}
			}
		}
		st.txns[t.ID] = *t
		return nil
	})
}

func (r *TransactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentTransaction, error) {
	var out *model.PaymentTransaction
	err := r.s.run(tx, func(st *state) error {
		t, ok := st.txns[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *TransactionRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.PaymentTransaction, error) {
	return r.findBy(tx, func(t model.PaymentTransaction) bool { return t.GatewayOrderID == gatewayOrderID })
}

func (r *TransactionRepo) FindByGatewayPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.PaymentTransaction, error) {
	return r.findBy(tx, func(t model.PaymentTransaction) bool {
		return t.GatewayPaymentID != nil && *t.GatewayPaymentID == paymentID
	})
}

func (r *TransactionRepo) findBy(tx repository.Tx, match func(model.PaymentTransaction) bool) (*model.PaymentTransaction, error) {
	var out *model.PaymentTransaction
	err := r.s.run(tx, func(st *state) error {
		for _, t := range st.txns {
			if match(t) {
				t := t
				out = &t
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r *TransactionRepo) AttachPayment(ctx context.Context, tx repository.Tx, id, paymentID, signature string) (bool, error) {
	attached := false
	err := r.s.run(tx, func(st *state) error {
		t, ok := st.txns[id]
		if !ok {
			return domain.ErrNotFound
		}
		for k, e := range st.txns {
			if k != id && e.GatewayPaymentID != nil && *e.GatewayPaymentID == paymentID {
				return domain.ErrAlreadyExists
			}
		}
		if t.GatewayPaymentID != nil && *t.GatewayPaymentID != paymentID {
			return nil
		}
		pid := paymentID
		t.GatewayPaymentID = &pid
		if signature != "" {
			t.GatewaySignature = signature
		}
		t.UpdatedAt = time.Now().UTC()
		st.txns[id] = t
		attached = true
		return nil
	})
	return attached, err
}

func (r *TransactionRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, subscriptionID string, at time.Time) error {
	return r.s.run(tx, func(st *state) error {
		t, ok := st.txns[id]
		if !ok {
			return domain.ErrNotFound
		}
		sid := subscriptionID
		t.Status = model.TransactionStatusCompleted
		t.SubscriptionID = &sid
		t.CompletedAt = &at
		t.FailureReason = ""
		t.UpdatedAt = at
		st.txns[id] = t
		return nil
	})
}

func (r *TransactionRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, reason string) (bool, error) {
	changed := false
	err := r.s.run(tx, func(st *state) error {
		t, ok := st.txns[id]
		if !ok {
			return domain.ErrNotFound
		}
		if t.Status != model.TransactionStatusPending {
			return nil
		}
		t.Status = model.TransactionStatusFailed
		t.FailureReason = reason
		t.UpdatedAt = time.Now().UTC()
		st.txns[id] = t
		changed = true
		return nil
	})
	return changed, err
}

func (r *TransactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*model.PaymentTransaction
	err := r.s.run(tx, func(st *state) error {
		for _, t := range st.txns {
			if t.Status == model.TransactionStatusPending && t.CreatedAt.Before(olderThan) {
				t := t
				out = append(out, &t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// ---- Subscriptions ----

type SubscriptionRepo struct{ s *Store }

// LockUser is a no-op: WithTx already serialises every transaction.
func (r *SubscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	return nil
}

func (r *SubscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	var out *model.Subscription
	err := r.s.run(tx, func(st *state) error {
		s, ok := st.subs[userID]
		if !ok {
			return domain.ErrNotFound
		}
		out = s.Clone()
		return nil
	})
	return out, err
}

func (r *SubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	return r.s.run(tx, func(st *state) error {
		cur, ok := st.subs[s.UserID]
		switch {
		case s.Version == 0 && ok:
			return domain.ErrDuplicateActivation
		case s.Version != 0 && (!ok || cur.Version != s.Version):
			return domain.ErrDuplicateActivation
		}
		s.Version++
		st.subs[s.UserID] = s.Clone()
		return nil
	})
}

func (r *SubscriptionRepo) Archive(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	return r.s.run(tx, func(st *state) error {
		st.history = append(st.history, s.Clone())
		return nil
	})
}

func (r *SubscriptionRepo) ListHistory(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	var out []*model.Subscription
	err := r.s.run(tx, func(st *state) error {
		for i := len(st.history) - 1; i >= 0; i-- {
			if st.history[i].UserID == userID {
				out = append(out, st.history[i].Clone())
			}
		}
		return nil
	})
	return out, err
}

func (r *SubscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []*model.Subscription
	err := r.s.run(tx, func(st *state) error {
		for _, s := range st.subs {
			if s.LapsedAt(now) {
				out = append(out, s.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// ---- Users ----

type UserRepo struct{ s *Store }

func (r *UserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	return r.s.run(tx, func(st *state) error {
		st.users[u.ID] = *u
		return nil
	})
}

func (r *UserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	var out *model.User
	err := r.s.run(tx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *UserRepo) UpdateEntitlement(ctx context.Context, tx repository.Tx, userID string, tier model.Tier, status model.SubscriptionStatus, planID string) error {
	return r.s.run(tx, func(st *state) error {
		u, ok := st.users[userID]
		if !ok {
			return domain.ErrNotFound
		}
		u.Tier = tier
		u.SubscriptionStatus = status
		u.PlanID = planID
		u.UpdatedAt = time.Now().UTC()
		st.users[userID] = u
		return nil
	})
}

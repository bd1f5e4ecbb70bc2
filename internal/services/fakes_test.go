package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/example/storefront/internal/models"
	"github.com/example/storefront/internal/provider"
	"github.com/example/storefront/internal/repository"
)

// memStore is an in-memory repository.Store. Transactions are serialized and
// rolled back on error, which is what row locks and CAS updates give the real store.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	now  func() time.Time

	seq      int
	orders   map[uuid.UUID]models.Order
	payments map[uuid.UUID]models.Payment
	paySeq   map[uuid.UUID]int
	logs     []models.PaymentLog

	failTxLog error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now:      now,
		orders:   map[uuid.UUID]models.Order{},
		payments: map[uuid.UUID]models.Payment{},
		paySeq:   map[uuid.UUID]int{},
	}
}

func (s *memStore) CreateOrder(ctx context.Context, order *models.Order, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now()
	}
	for i := range order.Items {
		order.Items[i].ID = uuid.New()
		order.Items[i].OrderID = order.ID
	}
	payment.OrderID = order.ID
	s.orders[order.ID] = cloneOrder(*order)
	s.insertPayment(payment)
	return nil
}

func (s *memStore) insertPayment(payment *models.Payment) {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = s.now()
	}
	s.seq++
	s.paySeq[payment.ID] = s.seq
	s.payments[payment.ID] = *payment
}

func (s *memStore) GetOrderWithPayment(ctx context.Context, orderID uuid.UUID) (*models.Order, *models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	order := cloneOrder(o)

	var (
		latest models.Payment
		best   int
	)
	for id, p := range s.payments {
		if p.OrderID == orderID && s.paySeq[id] > best {
			latest, best = p, s.paySeq[id]
		}
	}
	if best == 0 {
		return &order, nil, repository.ErrNotFound
	}
	return &order, &latest, nil
}

func (s *memStore) GetPaymentByHandle(ctx context.Context, handle string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.Handle() == handle {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) AttachHandle(ctx context.Context, paymentID uuid.UUID, ref repository.HandleRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok || p.Status != models.PaymentStatusPending || p.Handle() != "" {
		return false, nil
	}
	key := ref.Reference
	switch ref.Method {
	case models.PaymentMethodMpesa:
		p.CheckoutRequestID = &key
		mr := ref.MerchantRequestID
		p.MerchantRequestID = &mr
	case models.PaymentMethodStripe:
		p.PaymentIntentID = &key
	default:
		return false, errors.New("unknown method")
	}
	s.payments[paymentID] = p
	return true, nil
}

func (s *memStore) ListStalePayments(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Payment
	for _, p := range s.payments {
		o := s.orders[p.OrderID]
		if p.Status == models.PaymentStatusPending &&
			o.CreatedAt.Before(cutoff) &&
			p.CreatedAt.Before(cutoff) &&
			(o.OrderStatus == models.OrderStatusPending || o.OrderStatus == models.OrderStatusProcessing) &&
			o.PaymentStatus == models.OrderPaymentPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.orders[out[i].OrderID].CreatedAt.Before(s.orders[out[j].OrderID].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) AppendLog(ctx context.Context, entry *models.PaymentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(entry)
	return nil
}

func (s *memStore) appendLocked(entry *models.PaymentLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = s.now()
	s.logs = append(s.logs, *entry)
}

func (s *memStore) ListLogs(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]models.PaymentLog, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []models.PaymentLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].OrderID == orderID {
			matched = append(matched, s.logs[i])
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *memStore) Transaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	orders := make(map[uuid.UUID]models.Order, len(s.orders))
	for k, v := range s.orders {
		orders[k] = cloneOrder(v)
	}
	payments := make(map[uuid.UUID]models.Payment, len(s.payments))
	for k, v := range s.payments {
		payments[k] = v
	}
	logCount, seq := len(s.logs), s.seq
	s.mu.Unlock()

	if err := fn(&memTx{s: s}); err != nil {
		s.mu.Lock()
		s.orders, s.payments, s.logs, s.seq = orders, payments, s.logs[:logCount], seq
		s.mu.Unlock()
		return err
	}
	return nil
}

type memTx struct{ s *memStore }

func (t *memTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	order := cloneOrder(o)
	return &order, nil
}

func (t *memTx) resolve(paymentID uuid.UUID, status models.PaymentStatus, res repository.Resolution) bool {
	p, ok := t.s.payments[paymentID]
	if !ok || p.Status != models.PaymentStatusPending {
		return false
	}
	at := res.At
	p.Status = status
	p.ResultCode = res.Code
	p.ResultDesc = res.Description
	p.ProviderReceipt = res.Receipt
	p.ResolvedAt = &at
	t.s.payments[paymentID] = p
	return true
}

func (t *memTx) CompletePayment(ctx context.Context, paymentID, orderID uuid.UUID, res repository.Resolution) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !t.resolve(paymentID, models.PaymentStatusCompleted, res) {
		return false, nil
	}
	o := t.s.orders[orderID]
	if o.PaymentStatus == models.OrderPaymentPending {
		at := res.At
		o.PaymentStatus = models.OrderPaymentPaid
		o.PaidAt = &at
		if o.OrderStatus == models.OrderStatusPending {
			o.OrderStatus = models.OrderStatusProcessing
		}
		t.s.orders[orderID] = o
	}
	return true, nil
}

func (t *memTx) FailPayment(ctx context.Context, paymentID, orderID uuid.UUID, res repository.Resolution) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !t.resolve(paymentID, models.PaymentStatusFailed, res) {
		return false, nil
	}
	o := t.s.orders[orderID]
	if o.PaymentStatus == models.OrderPaymentPending {
		o.PaymentStatus = models.OrderPaymentFailed
		t.s.orders[orderID] = o
	}
	return true, nil
}

func (t *memTx) CancelOrder(ctx context.Context, orderID, paymentID uuid.UUID, reason string, at time.Time) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o := t.s.orders[orderID]
	p := t.s.payments[paymentID]
	if !o.OrderStatus.Cancellable() || o.PaymentStatus != models.OrderPaymentPending ||
		p.Status != models.PaymentStatusPending {
		return false, nil
	}
	o.OrderStatus = models.OrderStatusCancelled
	o.CancelledAt = &at
	o.CancellationReason = reason
	t.s.orders[orderID] = o
	return true, nil
}

func (t *memTx) ReopenPayment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	o := t.s.orders[orderID]
	if o.PaymentStatus != models.OrderPaymentFailed || o.OrderStatus == models.OrderStatusCancelled {
		return false, nil
	}
	o.PaymentStatus = models.OrderPaymentPending
	t.s.orders[orderID] = o
	return true, nil
}

func (t *memTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.insertPayment(payment)
	return nil
}

func (t *memTx) AppendLog(ctx context.Context, entry *models.PaymentLog) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.s.failTxLog != nil {
		return t.s.failTxLog
	}
	t.s.appendLocked(entry)
	return nil
}

func (s *memStore) order(id uuid.UUID) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *memStore) logsFor(orderID uuid.UUID) []models.PaymentLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentLog
	for _, l := range s.logs {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out
}

func cloneOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return o
}

// fakeAdapter is a scripted provider.
type fakeAdapter struct {
	method     models.PaymentMethod
	initiateFn func(ctx context.Context, req provider.InitiateRequest) (*provider.Handle, error)
	queryFn    func(ctx context.Context, ref string) (*provider.StatusResult, error)

	initiateCalls atomic.Int32
	queryCalls    atomic.Int32
}

func (f *fakeAdapter) Method() models.PaymentMethod { return f.method }

func (f *fakeAdapter) Initiate(ctx context.Context, req provider.InitiateRequest) (*provider.Handle, error) {
	n := f.initiateCalls.Add(1)
	if f.initiateFn != nil {
		return f.initiateFn(ctx, req)
	}
	return &provider.Handle{Reference: string(f.method) + "-ref-" + string(rune('0'+n))}, nil
}

func (f *fakeAdapter) QueryStatus(ctx context.Context, ref string) (*provider.StatusResult, error) {
	f.queryCalls.Add(1)
	return f.queryFn(ctx, ref)
}

func returns(outcome provider.Outcome, code, desc string) func(context.Context, string) (*provider.StatusResult, error) {
	return func(context.Context, string) (*provider.StatusResult, error) {
		return &provider.StatusResult{Outcome: outcome, Code: code, Description: desc, Receipt: "RCPT-" + code}, nil
	}
}

// recordingNotifier remembers what it was told.
type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []models.Order
	cancelled []models.Order
}

func (r *recordingNotifier) PaymentConfirmed(ctx context.Context, order models.Order, payment models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, order)
	return nil
}

func (r *recordingNotifier) OrderCancelled(ctx context.Context, order models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, order)
	return nil
}

func (r *recordingNotifier) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmed), len(r.cancelled)
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fast-fab/Seller-service/internal/broker"
	"github.com/fast-fab/Seller-service/internal/config"
	"github.com/fast-fab/Seller-service/internal/events"
	"github.com/fast-fab/Seller-service/internal/geo"
	"github.com/fast-fab/Seller-service/internal/notifications/push"
)

var testTopics = config.Topics{
	OrderNotifications:  "order-notifications",
	OrderResponses:      "order-responses",
	OrderStatus:         "order-status",
	SellerNotifications: "seller-notifications",
}

// collectingBroker records published messages. The first failPublishes
// calls to Publish fail.
type collectingBroker struct {
	mu            sync.Mutex
	messages      []broker.Message
	handlers      map[string]broker.Handler
	failPublishes int
	publishCalls  int
	closed        bool
}

func newCollectingBroker() *collectingBroker {
	return &collectingBroker{handlers: make(map[string]broker.Handler)}
}

func (b *collectingBroker) Connect(context.Context) error { return nil }

func (b *collectingBroker) Publish(_ context.Context, msg broker.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishCalls++
	if b.closed {
		return broker.ErrClosed
	}
	if b.failPublishes > 0 {
		b.failPublishes--
		return errors.New("broker unavailable")
	}
	b.messages = append(b.messages, msg)
	return nil
}

func (b *collectingBroker) Subscribe(topic string, handler broker.Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return "sub-" + topic, nil
}

func (b *collectingBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *collectingBroker) published(topic string) []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broker.Message
	for _, m := range b.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *collectingBroker) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishCalls
}

type fakeCandidates struct {
	candidates []geo.Candidate
	err        error
}

func (f *fakeCandidates) ListCandidates(_ context.Context, productID string) ([]geo.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []geo.Candidate
	for _, c := range f.candidates {
		if c.InStock(productID) {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeNotifier succeeds unless the seller is listed in fail. It records
// every attempt.
type fakeNotifier struct {
	mu       sync.Mutex
	fail     map[string]bool
	attempts map[string]int
	delay    time.Duration
	inFlight int
	peak     int
}

func newFakeNotifier(failing ...string) *fakeNotifier {
	n := &fakeNotifier{fail: map[string]bool{}, attempts: map[string]int{}}
	for _, id := range failing {
		n.fail[id] = true
	}
	return n
}

func (n *fakeNotifier) Notify(_ context.Context, sellerID string, _ push.Notification) bool {
	n.mu.Lock()
	n.attempts[sellerID]++
	n.inFlight++
	if n.inFlight > n.peak {
		n.peak = n.inFlight
	}
	n.mu.Unlock()

	if n.delay > 0 {
		time.Sleep(n.delay)
	}

	n.mu.Lock()
	n.inFlight--
	n.mu.Unlock()
	return !n.fail[sellerID]
}

func (n *fakeNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	sum := 0
	for _, c := range n.attempts {
		sum += c
	}
	return sum
}

// memStore is an in-memory Store double. The first failInserts calls to
// InsertNotifications fail and store nothing, like a rolled-back
// transaction; insertErr fails every call.
type memStore struct {
	mu            sync.Mutex
	batches       [][]Notification
	responses     []OrderResponse
	status        map[string]OrderStatus // orderID/sellerID
	insertErr     error
	failInserts   int
	insertCalls   int
	responseErr   error
	responseCalls int
}

func newMemStore() *memStore {
	return &memStore{status: map[string]OrderStatus{}}
}

func (s *memStore) InsertNotifications(_ context.Context, records []Notification) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	if s.failInserts > 0 {
		s.failInserts--
		return nil, errors.New("connection reset by peer")
	}
	out := make([]Notification, len(records))
	for i, n := range records {
		n.ID = uuid.New().String()
		n.CreatedAt = time.Now()
		out[i] = n
		key := n.OrderID + "/" + n.SellerID
		if _, ok := s.status[key]; !ok {
			s.status[key] = OrderStatus{OrderID: n.OrderID, SellerID: n.SellerID, Status: StatusNotified, UpdatedAt: n.CreatedAt}
		}
	}
	s.batches = append(s.batches, out)
	return out, nil
}

func (s *memStore) InsertResponse(_ context.Context, r *OrderResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responseCalls++
	if s.responseErr != nil {
		return s.responseErr
	}
	r.ID = uuid.New().String()
	r.ResponseTime = time.Now()
	s.responses = append(s.responses, *r)
	s.status[r.OrderID+"/"+r.SellerID] = OrderStatus{OrderID: r.OrderID, SellerID: r.SellerID, Status: responseStatus(r.Accepted), UpdatedAt: r.ResponseTime}
	return nil
}

func (s *memStore) ListBySeller(_ context.Context, sellerID string, limit, offset int) ([]Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Notification
	for _, b := range s.batches {
		for _, n := range b {
			if n.SellerID == sellerID {
				all = append(all, n)
			}
		}
	}
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []Notification{}
	}
	return all, total, nil
}

func (s *memStore) ListStatus(_ context.Context, orderID, sellerID string) ([]OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []OrderStatus{}
	for _, st := range s.status {
		if st.OrderID == orderID && (sellerID == "" || st.SellerID == sellerID) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *memStore) statusOf(orderID, sellerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[orderID+"/"+sellerID].Status
}

func (s *memStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *memStore) responseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}

type recordingFeed struct {
	mu   sync.Mutex
	sent map[string][]Notification
}

func (f *recordingFeed) Broadcast(sellerID string, n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string][]Notification{}
	}
	f.sent[sellerID] = append(f.sent[sellerID], n)
}

func floatPtr(v float64) *float64 { return &v }

// seller builds an active, verified candidate stocking productID.
func seller(id string, lat, lon float64, productID string, stock int) geo.Candidate {
	return geo.Candidate{
		ID:         id,
		IsActive:   true,
		IsVerified: true,
		Latitude:   floatPtr(lat),
		Longitude:  floatPtr(lon),
		Products:   []geo.ProductLine{{ID: productID, Stock: stock}},
	}
}

func testOrder() events.OrderEvent {
	return events.OrderEvent{
		OrderID:           "O1",
		ProductID:         "P1",
		ProductName:       "Milk",
		Quantity:          2,
		DeliveryLatitude:  12.9716,
		DeliveryLongitude: 77.5946,
	}
}

func newTestProducer(b broker.MessageBroker) *EventProducer {
	return NewEventProducer(b, ProducerConfig{
		Topics:  testTopics,
		Retries: 3,
		Timeout: time.Second,
		Backoff: time.Millisecond,
	}, nil)
}

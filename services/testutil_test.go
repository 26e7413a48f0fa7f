package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/smartcare/billing/apperrors"
	"github.com/smartcare/billing/config"
	"github.com/smartcare/billing/models"
	"github.com/smartcare/billing/providers"
)

// In-memory store fakes. They mirror the row-level CAS semantics of the
// gorm-backed stores so concurrency behavior is observable in tests.

type memInvoiceStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Invoice
}

func newMemInvoiceStore() *memInvoiceStore {
	return &memInvoiceStore{rows: map[int64]*models.Invoice{}}
}

func (s *memInvoiceStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (s *memInvoiceStore) Create(ctx context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	inv.ID = s.nextID
	inv.CreatedAt = time.Now().UTC()
	cp := *inv
	s.rows[inv.ID] = &cp
	return nil
}

func (s *memInvoiceStore) GetByID(ctx context.Context, id int64) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.rows[id]
	if !ok {
		return nil, apperrors.NotFound("invoice %d not found", id)
	}
	cp := *inv
	return &cp, nil
}

func (s *memInvoiceStore) GetByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.rows {
		if inv.InvoiceNumber == number {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("invoice %s not found", number)
}

func (s *memInvoiceStore) GetByAppointmentID(ctx context.Context, appointmentID int64) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.rows {
		if inv.AppointmentID != nil && *inv.AppointmentID == appointmentID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memInvoiceStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Invoice
	for _, inv := range s.rows {
		if inv.UserID == userID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memInvoiceStore) ListDueBefore(ctx context.Context, statuses []models.InvoiceStatus, cutoff time.Time) ([]*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Invoice
	for _, inv := range s.rows {
		for _, st := range statuses {
			if inv.Status == st && inv.DueDate.Before(cutoff) {
				cp := *inv
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memInvoiceStore) UpdateCAS(ctx context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[inv.ID]
	if !ok || current.Version != inv.Version {
		return apperrors.Conflict("invoice %d was modified concurrently", inv.ID)
	}
	cp := *inv
	cp.Version = inv.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	s.rows[inv.ID] = &cp
	inv.Version = cp.Version
	return nil
}

func (s *memInvoiceStore) SumTotalByUserAndStatus(ctx context.Context, userID int64, status models.InvoiceStatus) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, inv := range s.rows {
		if inv.UserID == userID && inv.Status == status {
			total = total.Add(inv.TotalAmount)
		}
	}
	return total, nil
}

func (s *memInvoiceStore) CountByUserAndStatus(ctx context.Context, userID int64, status models.InvoiceStatus) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, inv := range s.rows {
		if inv.UserID == userID && inv.Status == status {
			count++
		}
	}
	return count, nil
}

type memPaymentStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Payment
}

func newMemPaymentStore() *memPaymentStore {
	return &memPaymentStore{rows: map[int64]*models.Payment{}}
}

func (s *memPaymentStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (s *memPaymentStore) Create(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	p.CreatedAt = time.Now().UTC()
	cp := *p
	s.rows[p.ID] = &cp
	return nil
}

func (s *memPaymentStore) Update(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[p.ID]; !ok {
		return apperrors.NotFound("payment %d not found", p.ID)
	}
	cp := *p
	s.rows[p.ID] = &cp
	return nil
}

func (s *memPaymentStore) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return nil, apperrors.NotFound("payment %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *memPaymentStore) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.rows {
		if p.GatewayIntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("payment with intent %s not found", intentID)
}

func (s *memPaymentStore) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.rows {
		if p.PaymentReference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("payment %s not found", reference)
}

func (s *memPaymentStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.rows {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memPaymentStore) ListByInvoice(ctx context.Context, invoiceID int64) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.rows {
		if p.InvoiceID == invoiceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memPaymentStore) TransitionStatus(ctx context.Context, id int64, from []models.PaymentStatus, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	eligible := false
	for _, st := range from {
		if p.Status == st {
			eligible = true
			break
		}
	}
	if !eligible {
		return false, nil
	}
	applyPaymentFields(p, fields)
	return true, nil
}

func (s *memPaymentStore) TransitionRefund(ctx context.Context, id int64, from []models.PaymentStatus, refunded decimal.Decimal, fields map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok || !p.RefundAmount.Equal(refunded) {
		return false, nil
	}
	eligible := false
	for _, st := range from {
		if p.Status == st {
			eligible = true
			break
		}
	}
	if !eligible {
		return false, nil
	}
	applyPaymentFields(p, fields)
	return true, nil
}

func applyPaymentFields(p *models.Payment, fields map[string]interface{}) {
	for key, value := range fields {
		switch key {
		case "status":
			p.Status = value.(models.PaymentStatus)
		case "gateway_intent_id":
			p.GatewayIntentID = value.(string)
		case "gateway_charge_id":
			p.GatewayChargeID = value.(string)
		case "transaction_fee":
			p.TransactionFee = value.(decimal.Decimal)
		case "net_amount":
			p.NetAmount = value.(decimal.Decimal)
		case "failure_reason":
			p.FailureReason = value.(string)
		case "refund_amount":
			p.RefundAmount = value.(decimal.Decimal)
		case "processed_at":
			t := value.(time.Time)
			p.ProcessedAt = &t
		case "refunded_at":
			switch t := value.(type) {
			case time.Time:
				p.RefundedAt = &t
			case *time.Time:
				p.RefundedAt = t
			}
		}
	}
	p.UpdatedAt = time.Now().UTC()
}

func (s *memPaymentStore) ListStaleOpen(ctx context.Context, cutoff time.Time) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.rows {
		open := p.Status == models.PaymentStatusPending || p.Status == models.PaymentStatusProcessing
		if open && p.CreatedAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memPaymentMethodStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.PaymentMethod
}

func newMemPaymentMethodStore() *memPaymentMethodStore {
	return &memPaymentMethodStore{rows: map[int64]*models.PaymentMethod{}}
}

func (s *memPaymentMethodStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (s *memPaymentMethodStore) Create(ctx context.Context, pm *models.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	pm.ID = s.nextID
	pm.CreatedAt = time.Now().UTC()
	cp := *pm
	s.rows[pm.ID] = &cp
	return nil
}

func (s *memPaymentMethodStore) Update(ctx context.Context, pm *models.PaymentMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[pm.ID]; !ok {
		return apperrors.NotFound("payment method %d not found", pm.ID)
	}
	cp := *pm
	s.rows[pm.ID] = &cp
	return nil
}

func (s *memPaymentMethodStore) GetByID(ctx context.Context, id int64) (*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.rows[id]
	if !ok {
		return nil, apperrors.NotFound("payment method %d not found", id)
	}
	cp := *pm
	return &cp, nil
}

func (s *memPaymentMethodStore) ListActiveByUser(ctx context.Context, userID int64) ([]*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PaymentMethod
	for _, pm := range s.rows {
		if pm.UserID == userID && pm.IsActive {
			cp := *pm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *memPaymentMethodStore) GetDefault(ctx context.Context, userID int64) (*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pm := range s.rows {
		if pm.UserID == userID && pm.IsActive && pm.IsDefault {
			cp := *pm
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memPaymentMethodStore) SetDefault(ctx context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.rows[id]
	if !ok || target.UserID != userID {
		return apperrors.NotFound("payment method %d not found", id)
	}
	for _, pm := range s.rows {
		if pm.UserID == userID {
			pm.IsDefault = pm.ID == id
		}
	}
	return nil
}

func (s *memPaymentMethodStore) GetMostRecentActive(ctx context.Context, userID, excludeID int64) (*models.PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *models.PaymentMethod
	for _, pm := range s.rows {
		if pm.UserID != userID || !pm.IsActive || pm.ID == excludeID {
			continue
		}
		if newest == nil || pm.ID > newest.ID {
			newest = pm
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (s *memPaymentMethodStore) CountActiveByUser(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, pm := range s.rows {
		if pm.UserID == userID && pm.IsActive {
			count++
		}
	}
	return count, nil
}

type memCustomerStore struct {
	mu   sync.Mutex
	rows map[int64]*models.Customer
}

func newMemCustomerStore() *memCustomerStore {
	return &memCustomerStore{rows: map[int64]*models.Customer{}}
}

func (s *memCustomerStore) Create(ctx context.Context, c *models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.UserID]; ok {
		return apperrors.Conflict("customer for user %d already exists", c.UserID)
	}
	c.ID = int64(len(s.rows) + 1)
	cp := *c
	s.rows[c.UserID] = &cp
	return nil
}

func (s *memCustomerStore) GetByUserID(ctx context.Context, userID int64) (*models.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

type memUserDirectory struct {
	users map[int64]string // id -> email
}

func newMemUserDirectory(ids ...int64) *memUserDirectory {
	d := &memUserDirectory{users: map[int64]string{}}
	for _, id := range ids {
		d.users[id] = "user@example.com"
	}
	return d
}

func (d *memUserDirectory) UserExists(ctx context.Context, userID int64) (bool, error) {
	_, ok := d.users[userID]
	return ok, nil
}

func (d *memUserDirectory) UserContact(ctx context.Context, userID int64) (string, string, error) {
	email, ok := d.users[userID]
	if !ok {
		return "", "", apperrors.NotFound("user %d not found", userID)
	}
	return email, "Test User", nil
}

type memAppointmentSource struct {
	fees map[int64]decimal.Decimal
	user int64
}

func (a *memAppointmentSource) ConsultationFee(ctx context.Context, appointmentID int64) (int64, decimal.Decimal, error) {
	fee, ok := a.fees[appointmentID]
	if !ok {
		return 0, decimal.Zero, apperrors.NotFound("appointment %d not found", appointmentID)
	}
	return a.user, fee, nil
}

// recordingNotifier captures every emitted event for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	UserID  int64
	Kind    models.EventKind
	Payload map[string]interface{}
}

func (n *recordingNotifier) Notify(ctx context.Context, userID int64, kind models.EventKind, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{UserID: userID, Kind: kind, Payload: payload})
	return nil
}

func (n *recordingNotifier) countByKind(kind models.EventKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, ev := range n.events {
		if ev.Kind == kind {
			count++
		}
	}
	return count
}

// fakeGateway scripts gateway behavior per test.
type fakeGateway struct {
	mu sync.Mutex

	intents       map[string]*providers.Intent
	nextIntentSeq int

	createIntentErr error
	refundErr       error
	methods         map[string]*providers.MethodDetails
	attachErr       error

	createdIntents  int
	refunds         []int64
	attached        []string
	detached        []string
	customerCounter int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents: map[string]*providers.Intent{},
		methods: map[string]*providers.MethodDetails{},
	}
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req *providers.IntentRequest) (*providers.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createIntentErr != nil {
		return nil, g.createIntentErr
	}
	g.nextIntentSeq++
	g.createdIntents++
	intent := &providers.Intent{
		ID:           fmt.Sprintf("pi_test_%d", g.nextIntentSeq),
		ClientSecret: "secret_test",
		Status:       providers.IntentStatusRequiresAction,
	}
	g.intents[intent.ID] = intent
	return intent, nil
}

func (g *fakeGateway) RetrieveIntent(ctx context.Context, intentID string) (*providers.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[intentID]
	if !ok {
		return nil, apperrors.Gateway(nil, "no such intent: %s", intentID)
	}
	cp := *intent
	return &cp, nil
}

// setIntentState scripts what the gateway will report for an intent.
func (g *fakeGateway) setIntentState(intentID, status, chargeID string, fee *decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[intentID]
	if !ok {
		intent = &providers.Intent{ID: intentID}
		g.intents[intentID] = intent
	}
	intent.Status = status
	intent.ChargeID = chargeID
	intent.Fee = fee
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, userRef, email, name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customerCounter++
	return "cus_test_" + userRef, nil
}

func (g *fakeGateway) RetrieveMethod(ctx context.Context, token string) (*providers.MethodDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if details, ok := g.methods[token]; ok {
		return details, nil
	}
	return &providers.MethodDetails{
		TokenID: token,
		Card:    &providers.CardDetails{LastFour: "4242", Brand: "visa", ExpMonth: 12, ExpYear: 2030},
	}, nil
}

func (g *fakeGateway) AttachMethod(ctx context.Context, customerID, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attachErr != nil {
		return g.attachErr
	}
	g.attached = append(g.attached, token)
	return nil
}

func (g *fakeGateway) DetachMethod(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detached = append(g.detached, token)
	return nil
}

func (g *fakeGateway) Refund(ctx context.Context, chargeID string, amountMinor int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return "", g.refundErr
	}
	g.refunds = append(g.refunds, amountMinor)
	return "re_test_1", nil
}

func testPaymentConfig() config.PaymentConfig {
	return config.PaymentConfig{
		DefaultCurrency: "USD",
		Fees: map[string]config.FeeConfig{
			"USD": {Percentage: decimal.NewFromFloat(2.9), Fixed: decimal.NewFromFloat(0.30)},
		},
		InvoiceDueDays:    30,
		ReminderLeadDays:  3,
		ProcessingTimeout: 24 * time.Hour,
		GatewayTimeout:    15 * time.Second,
	}
}

// testEnv wires the full service graph over in-memory fakes.
type testEnv struct {
	invoices *InvoiceService
	payments *PaymentService
	methods  *PaymentMethodService

	invoiceStore  *memInvoiceStore
	paymentStore  *memPaymentStore
	methodStore   *memPaymentMethodStore
	customerStore *memCustomerStore
	users         *memUserDirectory
	appointments  *memAppointmentSource
	gateway       *fakeGateway
	notifier      *recordingNotifier
}

func newTestEnv(userIDs ...int64) *testEnv {
	env := &testEnv{
		invoiceStore:  newMemInvoiceStore(),
		paymentStore:  newMemPaymentStore(),
		methodStore:   newMemPaymentMethodStore(),
		customerStore: newMemCustomerStore(),
		users:         newMemUserDirectory(userIDs...),
		appointments:  &memAppointmentSource{fees: map[int64]decimal.Decimal{}},
		gateway:       newFakeGateway(),
		notifier:      &recordingNotifier{},
	}
	cfg := testPaymentConfig()
	logger := zerolog.Nop()
	env.invoices = CreateInvoiceService(env.invoiceStore, env.paymentStore, env.users, env.appointments, env.notifier, cfg, logger)
	env.payments = CreatePaymentService(env.paymentStore, env.invoiceStore, env.methodStore, env.customerStore,
		env.invoices, env.gateway, CreateFeeCalculator(cfg.Fees), env.notifier, cfg, logger)
	env.methods = CreatePaymentMethodService(env.methodStore, env.customerStore, env.users, env.gateway, logger)
	return env
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

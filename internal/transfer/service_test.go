package transfer

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"fsgateway/internal/common/database"
	"fsgateway/internal/common/events"
	"fsgateway/internal/common/money"
	"fsgateway/internal/documents"
	"fsgateway/internal/fsapi"
	"fsgateway/internal/requestlog"
	"fsgateway/internal/settings"
)

// encryptEnvelope wraps a token the way the provider does so the real
// decoder path is exercised end to end.
func encryptEnvelope(t *testing.T, token string) string {
	t.Helper()

	block, err := aes.NewCipher([]byte("fstockencryptkey"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	plaintext := []byte(token)
	if pad := block.BlockSize() - len(plaintext)%block.BlockSize(); pad != block.BlockSize() {
		plaintext = append(plaintext, make([]byte, pad)...)
	}
	iv := []byte("0123456789abcdef")
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	field := base64.StdEncoding.EncodeToString(ciphertext) + ";" + base64.StdEncoding.EncodeToString(iv)
	return url.QueryEscape(field) + "=&expires=300"
}

type fakeRemote struct {
	loginErr     error
	loginCalls   int
	logoutCalls  int
	token        string
	limits       map[string]money.Money
	results      map[string]*fsapi.TransferResult
	transferErr  error
	transfers    []fsapi.AddTransferRequest
	defaultLimit money.Money
}

func newFakeRemote(token string) *fakeRemote {
	return &fakeRemote{
		token:        token,
		limits:       map[string]money.Money{},
		results:      map[string]*fsapi.TransferResult{},
		defaultLimit: money.New(1_000_000_00, money.INR),
	}
}

func (f *fakeRemote) Login(ctx context.Context) (*fsapi.LoginResult, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &fsapi.LoginResult{Result: "OK"}, nil
}

func (f *fakeRemote) Logout(ctx context.Context) error {
	f.logoutCalls++
	return nil
}

func (f *fakeRemote) RequestTransferToken(ctx context.Context) (string, error) {
	return f.token, nil
}

func (f *fakeRemote) AddTransfer(ctx context.Context, req fsapi.AddTransferRequest) (*fsapi.TransferResult, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers = append(f.transfers, req)
	if result, ok := f.results[req.AccountNumberFrom]; ok {
		return result, nil
	}
	return &fsapi.TransferResult{Result: "OK", Message: "transfer accepted"}, nil
}

func (f *fakeRemote) GetAccountMaxAmount(ctx context.Context, accountNumber string) (money.Money, error) {
	if limit, ok := f.limits[accountNumber]; ok {
		return limit, nil
	}
	return f.defaultLimit, nil
}

type fakeDocStore struct {
	docs          map[string]*documents.Document
	accounts      map[string]string
	outcomes      map[string][2]string // id -> status, remarks
	paid          map[string]money.Money
	insufficient  map[string]money.Money
	draftPending  []*documents.Document
	retryEligible []*documents.Document
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		docs:         map[string]*documents.Document{},
		accounts:     map[string]string{},
		outcomes:     map[string][2]string{},
		paid:         map[string]money.Money{},
		insufficient: map[string]money.Money{},
	}
}

func (s *fakeDocStore) add(doc *documents.Document, account string) {
	s.docs[doc.ID] = doc
	s.accounts[doc.Party] = account
}

func (s *fakeDocStore) Get(ctx context.Context, id string) (*documents.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, database.ErrNotFound)
	}
	return doc, nil
}

func (s *fakeDocStore) ListDraftPending(ctx context.Context, limit int) ([]*documents.Document, error) {
	return s.draftPending, nil
}

func (s *fakeDocStore) ListInsufficientFunds(ctx context.Context, limit int) ([]*documents.Document, error) {
	return s.retryEligible, nil
}

func (s *fakeDocStore) CustomerAccount(ctx context.Context, party string) (string, error) {
	account, ok := s.accounts[party]
	if !ok {
		return "", fmt.Errorf("customer %s: %w", party, database.ErrNotFound)
	}
	return account, nil
}

func (s *fakeDocStore) RecordOutcome(ctx context.Context, id, transferStatus, remarks string) error {
	s.outcomes[id] = [2]string{transferStatus, remarks}
	return nil
}

func (s *fakeDocStore) MarkPaid(ctx context.Context, id string, paid money.Money, modeOfPayment string) error {
	s.paid[id] = paid
	return nil
}

func (s *fakeDocStore) MarkInsufficientFunds(ctx context.Context, id string, outstanding money.Money) error {
	s.insufficient[id] = outstanding
	return nil
}

type memRequestStore struct {
	entries map[string]*requestlog.Entry
	order   []string
}

func newMemRequestStore() *memRequestStore {
	return &memRequestStore{entries: map[string]*requestlog.Entry{}}
}

func (s *memRequestStore) Create(ctx context.Context, entry *requestlog.Entry) error {
	clone := *entry
	s.entries[entry.ID] = &clone
	s.order = append(s.order, entry.ID)
	return nil
}

func (s *memRequestStore) Get(ctx context.Context, id string) (*requestlog.Entry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	clone := *entry
	return &clone, nil
}

func (s *memRequestStore) ListQueued(ctx context.Context, service string) ([]*requestlog.Entry, error) {
	var queued []*requestlog.Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e.Service == service && e.Status == requestlog.StatusQueued {
			clone := *e
			queued = append(queued, &clone)
		}
	}
	return queued, nil
}

func (s *memRequestStore) SetStatus(ctx context.Context, id string, status requestlog.Status, errorCode string) error {
	entry, ok := s.entries[id]
	if !ok || entry.Status != requestlog.StatusQueued {
		return database.ErrNotFound
	}
	entry.Status = status
	entry.ErrorCode = errorCode
	return nil
}

func (s *memRequestStore) statusOf(documentID string) requestlog.Status {
	for _, e := range s.entries {
		if e.DocumentID() == documentID {
			return e.Status
		}
	}
	return ""
}

type fakeSettings struct {
	settings settings.Settings
}

func (f *fakeSettings) Get(ctx context.Context) (*settings.Settings, error) {
	clone := f.settings
	return &clone, nil
}

type capturePublisher struct {
	published []*events.Event
}

func (p *capturePublisher) Publish(ctx context.Context, event *events.Event) error {
	p.published = append(p.published, event)
	return nil
}

type fixture struct {
	service   *Service
	remote    *fakeRemote
	docs      *fakeDocStore
	requests  *memRequestStore
	publisher *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	remote := newFakeRemote(encryptEnvelope(t, "7OHL1V6ATI"))
	docs := newFakeDocStore()
	requests := newMemRequestStore()
	publisher := &capturePublisher{}

	settingsReader := &fakeSettings{settings: settings.Settings{
		User:         "api-user",
		Secret:       "api-secret",
		HouseAccount: "HOUSE-ACC",
		TokenFormat:  fsapi.TokenFormatString,
		UpdatedAt:    time.Now(),
	}}

	service := NewService(Config{BatchLimit: 10}, remote, requestlog.NewLedger(requests, logger), docs, settingsReader, logger)
	service.SetPublisher(publisher)

	return &fixture{
		service:   service,
		remote:    remote,
		docs:      docs,
		requests:  requests,
		publisher: publisher,
	}
}

func paymentDoc(id string, amountMinor int64) *documents.Document {
	return &documents.Document{
		ID:       id,
		Type:     documents.TypePaymentEntry,
		Party:    "CUST-" + id,
		Category: "EXTRA CONTRIBUTION",
		Amount:   money.New(amountMinor, money.INR),
	}
}

func TestExecuteCompletesTransfer(t *testing.T) {
	fx := newFixture(t)
	doc := paymentDoc("ACC-PAY-2024-00859", 15000)
	fx.docs.add(doc, "CUST-ACC")

	if err := fx.service.Execute(context.Background(), doc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := fx.requests.statusOf(doc.ID); got != requestlog.StatusCompleted {
		t.Errorf("request status = %q, want Completed", got)
	}
	if outcome := fx.docs.outcomes[doc.ID]; outcome[0] != documents.TransferStatusOK {
		t.Errorf("document transfer status = %q, want OK", outcome[0])
	}
	if paid := fx.docs.paid[doc.ID]; paid.AmountMinor != 15000 {
		t.Errorf("paid = %d, want 15000", paid.AmountMinor)
	}

	if len(fx.remote.transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(fx.remote.transfers))
	}
	req := fx.remote.transfers[0]
	if req.Amount != "150.00" {
		t.Errorf("amount = %q, want 150.00", req.Amount)
	}
	if req.Token != "7OHL1V6ATI" {
		t.Errorf("token = %q, want decoded token", req.Token)
	}
	if !strings.HasPrefix(req.Description, "PTDC/EXTRA.CON/PAY-2024-00859/") {
		t.Errorf("description = %q, missing trace suffix", req.Description)
	}

	if fx.remote.loginCalls != 1 || fx.remote.logoutCalls != 1 {
		t.Errorf("login/logout = %d/%d, want 1/1", fx.remote.loginCalls, fx.remote.logoutCalls)
	}

	if len(fx.publisher.published) != 1 || fx.publisher.published[0].Type != events.TypeTransferCompleted {
		t.Errorf("published = %+v, want one transfer.completed", fx.publisher.published)
	}
}

func TestExecuteRefundFlipsDirection(t *testing.T) {
	fx := newFixture(t)
	doc := paymentDoc("ACC-PAY-2024-00860", -5000)
	fx.docs.add(doc, "CUST-ACC")

	if err := fx.service.Execute(context.Background(), doc); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	req := fx.remote.transfers[0]
	if req.AccountNumberFrom != "HOUSE-ACC" || req.AccountNumberTo != "CUST-ACC" {
		t.Errorf("accounts = %q -> %q, want HOUSE-ACC -> CUST-ACC", req.AccountNumberFrom, req.AccountNumberTo)
	}
	if req.Amount != "50.00" {
		t.Errorf("amount = %q, want 50.00", req.Amount)
	}
	if paid := fx.docs.paid[doc.ID]; paid.AmountMinor != 5000 {
		t.Errorf("paid = %d, want absolute value 5000", paid.AmountMinor)
	}
}

func TestExecuteRecordsRejection(t *testing.T) {
	fx := newFixture(t)
	doc := paymentDoc("ACC-PAY-2024-00861", 15000)
	fx.docs.add(doc, "CUST-ACC")
	fx.remote.results["CUST-ACC"] = &fsapi.TransferResult{Result: "ERR_LIMIT", Message: "daily limit exceeded"}

	err := fx.service.Execute(context.Background(), doc)
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %v, want *RejectedError", err)
	}
	if rejected.Code != "ERR_LIMIT" {
		t.Errorf("Code = %q, want ERR_LIMIT", rejected.Code)
	}

	if got := fx.requests.statusOf(doc.ID); got != requestlog.StatusFailed {
		t.Errorf("request status = %q, want Failed", got)
	}
	if outcome := fx.docs.outcomes[doc.ID]; outcome[0] != "ERR_LIMIT" || outcome[1] != "daily limit exceeded" {
		t.Errorf("outcome = %v, want provider code and message", outcome)
	}
	if _, ok := fx.docs.paid[doc.ID]; ok {
		t.Error("rejected transfer marked the document paid")
	}
	if len(fx.publisher.published) != 1 || fx.publisher.published[0].Type != events.TypeTransferFailed {
		t.Errorf("published = %+v, want one transfer.failed", fx.publisher.published)
	}
}

func TestExecuteInsufficientFundsSkipsSubmit(t *testing.T) {
	fx := newFixture(t)
	doc := paymentDoc("ACC-PAY-2024-00862", 15000)
	fx.docs.add(doc, "CUST-ACC")
	fx.remote.limits["CUST-ACC"] = money.New(10000, money.INR)

	err := fx.service.Execute(context.Background(), doc)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}

	if len(fx.remote.transfers) != 0 {
		t.Error("transfer submitted despite failed limit pre-check")
	}
	if outstanding := fx.docs.insufficient[doc.ID]; outstanding.AmountMinor != 15000 {
		t.Errorf("outstanding = %d, want 15000", outstanding.AmountMinor)
	}
	// The entry stays Queued so the retry pass reuses it.
	if got := fx.requests.statusOf(doc.ID); got != requestlog.StatusQueued {
		t.Errorf("request status = %q, want Queued", got)
	}
}

func TestExecuteRejectsUnsupportedCurrency(t *testing.T) {
	fx := newFixture(t)
	doc := paymentDoc("ACC-PAY-2024-00863", 15000)
	doc.Amount = money.New(15000, money.USD)
	fx.docs.add(doc, "CUST-ACC")

	err := fx.service.Execute(context.Background(), doc)
	if err == nil {
		t.Fatal("expected currency error")
	}
	if fx.remote.loginCalls != 0 {
		t.Error("logged in before currency validation")
	}
}

func TestExecuteTransportErrorKeepsEntryQueued(t *testing.T) {
	fx := newFixture(t)
	doc := paymentDoc("ACC-PAY-2024-00864", 15000)
	fx.docs.add(doc, "CUST-ACC")
	fx.remote.transferErr = errors.New("connection reset")

	err := fx.service.Execute(context.Background(), doc)
	if err == nil || errors.As(err, new(*RejectedError)) {
		t.Fatalf("error = %v, want transport error", err)
	}

	if got := fx.requests.statusOf(doc.ID); got != requestlog.StatusQueued {
		t.Errorf("request status = %q, want Queued for retry", got)
	}
	if outcome := fx.docs.outcomes[doc.ID]; !strings.Contains(outcome[1], "connection reset") {
		t.Errorf("remarks = %q, want transport error recorded", outcome[1])
	}
}

func TestExecuteReusesQueuedEntry(t *testing.T) {
	fx := newFixture(t)
	doc := paymentDoc("ACC-PAY-2024-00865", 15000)
	fx.docs.add(doc, "CUST-ACC")
	fx.remote.limits["CUST-ACC"] = money.New(10000, money.INR)

	// First attempt parks the document; the entry stays Queued.
	if err := fx.service.Execute(context.Background(), doc); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("first Execute: %v", err)
	}
	if len(fx.requests.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(fx.requests.entries))
	}

	// Second attempt succeeds and must reuse the same entry.
	fx.remote.limits["CUST-ACC"] = money.New(20000, money.INR)
	if err := fx.service.Execute(context.Background(), doc); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if len(fx.requests.entries) != 1 {
		t.Errorf("entries = %d, want the Queued entry reused", len(fx.requests.entries))
	}
	if got := fx.requests.statusOf(doc.ID); got != requestlog.StatusCompleted {
		t.Errorf("request status = %q, want Completed", got)
	}
}

func TestExecuteByIDNotFound(t *testing.T) {
	fx := newFixture(t)

	err := fx.service.ExecuteByID(context.Background(), "missing")
	if !database.IsNotFound(err) {
		t.Errorf("error = %v, want not found", err)
	}
}

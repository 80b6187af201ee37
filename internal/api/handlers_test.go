package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JoonasMagi/jmbpank/internal/app"
	"github.com/JoonasMagi/jmbpank/internal/domain"
	"github.com/JoonasMagi/jmbpank/internal/keystore"
	"github.com/JoonasMagi/jmbpank/internal/store"
	"github.com/JoonasMagi/jmbpank/internal/token"
)

// memRepo is an in-memory store.Repository for handler tests.
type memRepo struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	accounts  map[string]*domain.Account
	transfers map[uuid.UUID]*domain.Transfer
	keyPairs  []domain.KeyPair
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:     map[string]*domain.User{},
		accounts:  map[string]*domain.Account{},
		transfers: map[uuid.UUID]*domain.Transfer{},
	}
}

func (r *memRepo) CreateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Username]; ok {
		return store.ErrUsernameTaken
	}
	r.users[user.Username] = user
	return nil
}

func (r *memRepo) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[username]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return user, nil
}

func (r *memRepo) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (r *memRepo) CreateAccount(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.AccountNumber] = account
	return nil
}

func (r *memRepo) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountNumber]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *memRepo) FindAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, account := range r.accounts {
		if account.UserID == userID {
			out = append(out, *account)
		}
	}
	return out, nil
}

func (r *memRepo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, account := range r.accounts {
		out = append(out, *account)
	}
	return out, nil
}

func (r *memRepo) UpdateBalance(ctx context.Context, accountNumber string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountNumber]
	if !ok {
		return store.ErrAccountNotFound
	}
	if account.Balance+delta < 0 {
		return store.ErrInsufficientFunds
	}
	account.Balance += delta
	return nil
}

func (r *memRepo) ExecuteLocalTransfer(ctx context.Context, transferID uuid.UUID, accountFrom, accountTo string, amount int64, receiverName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, ok := r.accounts[accountFrom]
	if !ok {
		return store.ErrAccountNotFound
	}
	to, ok := r.accounts[accountTo]
	if !ok {
		return store.ErrAccountNotFound
	}
	if from.Balance < amount {
		return store.ErrInsufficientFunds
	}
	from.Balance -= amount
	to.Balance += amount
	if transfer, ok := r.transfers[transferID]; ok {
		transfer.Status = domain.TransferStatusCompleted
		transfer.ReceiverName = &receiverName
	}
	return nil
}

func (r *memRepo) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *transfer
	r.transfers[transfer.ID] = &copied
	return nil
}

func (r *memRepo) UpdateTransferStatus(ctx context.Context, transferID uuid.UUID, status string, receiverName *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	transfer, ok := r.transfers[transferID]
	if !ok {
		return store.ErrTransferNotFound
	}
	transfer.Status = status
	if receiverName != nil {
		transfer.ReceiverName = receiverName
	}
	return nil
}

func (r *memRepo) FindTransferByID(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transfer, ok := r.transfers[transferID]
	if !ok {
		return nil, store.ErrTransferNotFound
	}
	copied := *transfer
	return &copied, nil
}

func (r *memRepo) FindTransfersByAccount(ctx context.Context, accountNumber string) ([]domain.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transfer
	for _, transfer := range r.transfers {
		if transfer.AccountFrom == accountNumber || transfer.AccountTo == accountNumber {
			out = append(out, *transfer)
		}
	}
	return out, nil
}

func (r *memRepo) InsertKeyPair(ctx context.Context, pair *domain.KeyPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pair.Active {
		for i := range r.keyPairs {
			r.keyPairs[i].Active = false
		}
	}
	r.keyPairs = append(r.keyPairs, *pair)
	return nil
}

func (r *memRepo) FindActiveKeyPair(ctx context.Context) (*domain.KeyPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keyPairs {
		if r.keyPairs[i].Active {
			pair := r.keyPairs[i]
			return &pair, nil
		}
	}
	return nil, keystore.ErrNoActiveKey
}

func (r *memRepo) ListKeyPairs(ctx context.Context) ([]domain.KeyPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.KeyPair, len(r.keyPairs))
	copy(out, r.keyPairs)
	return out, nil
}

// trustAllDirectory trusts every bank and serves a configurable key set.
type trustAllDirectory struct {
	jwks domain.JWKS
}

func (d *trustAllDirectory) GetBankInfo(ctx context.Context, bankPrefix string) (*domain.BankInfo, error) {
	return &domain.BankInfo{Prefix: bankPrefix, TransactionURL: "http://localhost/b2b", JWKSURL: "http://localhost/jwks"}, nil
}

func (d *trustAllDirectory) VerifyBank(ctx context.Context, bankPrefix string) bool { return true }

func (d *trustAllDirectory) GetJWKS(ctx context.Context, bankPrefix string) (domain.JWKS, error) {
	return d.jwks, nil
}

func (d *trustAllDirectory) SubmitTransaction(ctx context.Context, transactionURL, signedToken string) (string, error) {
	return "Test Receiver", nil
}

type testHarness struct {
	repo    *memRepo
	dir     *trustAllDirectory
	service *app.Service
	server  http.Handler
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	repo := newMemRepo()
	dir := &trustAllDirectory{}
	sessions := app.NewSessionManager("test-secret", time.Hour)
	service := app.NewService(repo, keystore.New(repo), dir, nil, sessions, "EST")
	return &testHarness{
		repo:    repo,
		dir:     dir,
		service: service,
		server:  BankRoutes(NewBankHandlers(service), sessions),
	}
}

func (h *testHarness) do(t *testing.T, method, path, sessionToken string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

// register creates a user through the API and returns a session token plus
// the opened account number.
func (h *testHarness) register(t *testing.T, username, fullName string) (sessionToken, accountNumber string) {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/users", "", map[string]string{
		"username":  username,
		"full_name": fullName,
		"password":  "longenough",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register returned status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Account domain.Account `json:"account"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode register response: %v", err)
	}

	rec = h.do(t, http.MethodPost, "/sessions", "", map[string]string{
		"username": username,
		"password": "longenough",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned status %d: %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return login.Token, created.Account.AccountNumber
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned status %d", rec.Code)
	}
}

func TestJWKSEndpointPublishesKeys(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/transfers/jwks", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("jwks returned status %d: %s", rec.Code, rec.Body.String())
	}
	var jwks domain.JWKS
	if err := json.Unmarshal(rec.Body.Bytes(), &jwks); err != nil {
		t.Fatalf("failed to decode jwks: %v", err)
	}
	if len(jwks.Keys) == 0 {
		t.Fatal("expected at least one published key")
	}
	if jwks.Keys[0].Kty != "RSA" || jwks.Keys[0].Alg != "RS256" {
		t.Fatalf("unexpected key metadata: %+v", jwks.Keys[0])
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/users/me", "/accounts"} {
		rec := h.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s without session returned status %d", path, rec.Code)
		}
	}
}

func TestLocalTransferThroughAPI(t *testing.T) {
	h := newHarness(t)
	senderToken, senderAccount := h.register(t, "mari", "Mari Maasikas")
	_, receiverAccount := h.register(t, "jaan", "Jaan Tamm")

	rec := h.do(t, http.MethodPost, "/transfers", senderToken, map[string]interface{}{
		"accountFrom": senderAccount,
		"accountTo":   receiverAccount,
		"amount":      10000,
		"explanation": "rent",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer returned status %d: %s", rec.Code, rec.Body.String())
	}
	var transfer domain.Transfer
	if err := json.Unmarshal(rec.Body.Bytes(), &transfer); err != nil {
		t.Fatalf("failed to decode transfer: %v", err)
	}
	if transfer.Status != domain.TransferStatusCompleted {
		t.Fatalf("transfer status = %s, want completed", transfer.Status)
	}
	if transfer.ReceiverName == nil || *transfer.ReceiverName != "Jaan Tamm" {
		t.Fatalf("unexpected receiver name %v", transfer.ReceiverName)
	}

	// History endpoint must show the transfer for the sender's account.
	rec = h.do(t, http.MethodGet, "/transfers/account/"+senderAccount, senderToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history returned status %d: %s", rec.Code, rec.Body.String())
	}
	var history []domain.Transfer
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(history) != 1 || history[0].ID != transfer.ID {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestTransferFromForeignAccountForbidden(t *testing.T) {
	h := newHarness(t)
	_, victimAccount := h.register(t, "mari", "Mari Maasikas")
	attackerToken, attackerAccount := h.register(t, "jaan", "Jaan Tamm")

	rec := h.do(t, http.MethodPost, "/transfers", attackerToken, map[string]interface{}{
		"accountFrom": victimAccount,
		"accountTo":   attackerAccount,
		"amount":      10000,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("transfer from a foreign account returned status %d, want 403", rec.Code)
	}
}

func TestGetTransferRequiresInvolvedAccount(t *testing.T) {
	h := newHarness(t)
	senderToken, senderAccount := h.register(t, "mari", "Mari Maasikas")
	receiverToken, receiverAccount := h.register(t, "jaan", "Jaan Tamm")
	intruderToken, _ := h.register(t, "kati", "Kati Kask")

	rec := h.do(t, http.MethodPost, "/transfers", senderToken, map[string]interface{}{
		"accountFrom": senderAccount,
		"accountTo":   receiverAccount,
		"amount":      10000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer returned status %d: %s", rec.Code, rec.Body.String())
	}
	var transfer domain.Transfer
	if err := json.Unmarshal(rec.Body.Bytes(), &transfer); err != nil {
		t.Fatalf("failed to decode transfer: %v", err)
	}

	// Both involved parties may read the record.
	for _, involvedToken := range []string{senderToken, receiverToken} {
		rec = h.do(t, http.MethodGet, "/transfers/"+transfer.ID.String(), involvedToken, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("involved user got status %d: %s", rec.Code, rec.Body.String())
		}
	}

	rec = h.do(t, http.MethodGet, "/transfers/"+transfer.ID.String(), intruderToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("uninvolved user got status %d, want 403", rec.Code)
	}
	var errResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if errResp["code"] != CodeForbidden {
		t.Fatalf("error code = %q, want %s", errResp["code"], CodeForbidden)
	}
}

func TestClientIPIgnoresForwardedForByDefault(t *testing.T) {
	h := &BankHandlers{}
	req := httptest.NewRequest(http.MethodPost, "/transfers/b2b", nil)
	req.RemoteAddr = "203.0.113.7:55000"
	req.Header.Set("X-Forwarded-For", "198.51.100.9, 203.0.113.1")

	if got := h.clientIP(req); got != "203.0.113.7" {
		t.Fatalf("clientIP = %q, want socket address 203.0.113.7", got)
	}

	h.SetTrustProxyHeader(true)
	if got := h.clientIP(req); got != "198.51.100.9" {
		t.Fatalf("clientIP = %q, want forwarded hop 198.51.100.9", got)
	}
}

func TestInvalidAmountErrorCode(t *testing.T) {
	h := newHarness(t)
	senderToken, senderAccount := h.register(t, "mari", "Mari Maasikas")

	rec := h.do(t, http.MethodPost, "/transfers", senderToken, map[string]interface{}{
		"accountFrom": senderAccount,
		"accountTo":   "EST99999999999999999999",
		"amount":      -5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative amount returned status %d, want 400", rec.Code)
	}
	var errResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if errResp["code"] != CodeInvalidAmount {
		t.Fatalf("error code = %q, want %s", errResp["code"], CodeInvalidAmount)
	}
}

func TestB2BEndpointCreditsReceiver(t *testing.T) {
	h := newHarness(t)
	_, receiverAccount := h.register(t, "jaan", "Jaan Tamm")

	senderKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey returned error: %v", err)
	}
	h.dir.jwks = domain.JWKS{Keys: []domain.JWK{token.PublicKeyToJWK(&senderKey.PublicKey, "fin-1")}}

	signed, err := token.Sign(domain.TransferPayload{
		AccountFrom: "FIN11111111111111111111",
		AccountTo:   receiverAccount,
		Amount:      2500,
		Currency:    "EUR",
		SenderName:  "Pekka Virtanen",
	}, "fin-1", senderKey)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	rec := h.do(t, http.MethodPost, "/transfers/b2b", "", map[string]string{"jwt": signed})
	if rec.Code != http.StatusOK {
		t.Fatalf("b2b returned status %d: %s", rec.Code, rec.Body.String())
	}
	var ack map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode acknowledgment: %v", err)
	}
	if ack["receiverName"] != "Jaan Tamm" {
		t.Fatalf("receiverName = %q, want Jaan Tamm", ack["receiverName"])
	}
}

func TestB2BEndpointRejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/transfers/b2b", "", map[string]string{"jwt": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty jwt returned status %d, want 400", rec.Code)
	}
	var errResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if errResp["code"] != CodeTokenMalformed {
		t.Fatalf("error code = %q, want %s", errResp["code"], CodeTokenMalformed)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h := newHarness(t)
	sessionToken, _ := h.register(t, "mari", "Mari Maasikas")

	rec := h.do(t, http.MethodDelete, "/sessions", sessionToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout returned status %d", rec.Code)
	}
	rec = h.do(t, http.MethodGet, "/users/me", sessionToken, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session still accepted, status %d", rec.Code)
	}
}

func TestCurrentUserListsAccounts(t *testing.T) {
	h := newHarness(t)
	sessionToken, accountNumber := h.register(t, "mari", "Mari Maasikas")

	rec := h.do(t, http.MethodGet, "/users/me", sessionToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("users/me returned status %d: %s", rec.Code, rec.Body.String())
	}
	var me struct {
		User     userResponse     `json:"user"`
		Accounts []domain.Account `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("failed to decode users/me: %v", err)
	}
	if me.User.Username != "mari" {
		t.Fatalf("username = %q, want mari", me.User.Username)
	}
	if len(me.Accounts) != 1 || me.Accounts[0].AccountNumber != accountNumber {
		t.Fatalf("unexpected accounts %+v", me.Accounts)
	}
}

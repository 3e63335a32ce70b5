package settings

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"fsgateway/internal/common/database"
	"fsgateway/internal/common/money"
	"fsgateway/internal/fsapi"
)

func TestValidateCurrency(t *testing.T) {
	tests := []struct {
		currency money.Currency
		wantErr  bool
	}{
		{currency: money.INR, wantErr: false},
		{currency: money.USD, wantErr: true},
		{currency: money.EUR, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.currency), func(t *testing.T) {
			err := ValidateCurrency(tt.currency)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCurrency(%s) error = %v, wantErr %v", tt.currency, err, tt.wantErr)
			}
		})
	}
}

func TestEnvironmentSelection(t *testing.T) {
	production := &Settings{UseStaging: false}
	if got := production.Environment(); got != fsapi.EnvironmentProduction {
		t.Errorf("Environment = %q, want production", got)
	}

	staging := &Settings{UseStaging: true}
	if got := staging.Environment(); got != fsapi.EnvironmentStaging {
		t.Errorf("Environment = %q, want staging", got)
	}
}

type memStore struct {
	settings    *Settings
	loginStatus string
	loginAt     time.Time
}

func (s *memStore) Get(ctx context.Context) (*Settings, error) {
	if s.settings == nil {
		return nil, database.ErrNotFound
	}
	clone := *s.settings
	return &clone, nil
}

func (s *memStore) Save(ctx context.Context, st *Settings) error {
	clone := *st
	s.settings = &clone
	return nil
}

func (s *memStore) RecordLogin(ctx context.Context, status string, at time.Time) error {
	s.loginStatus = status
	if status == "OK" {
		s.loginAt = at
	}
	return nil
}

func TestSourceReflectsStoreChanges(t *testing.T) {
	store := &memStore{settings: &Settings{User: "u1", Secret: "s1", UseStaging: false}}
	source := NewSource(store)
	ctx := context.Background()

	session, err := source.SessionConfig(ctx)
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if session.Environment != fsapi.EnvironmentProduction {
		t.Errorf("Environment = %q, want production", session.Environment)
	}

	store.settings.UseStaging = true
	session, err = source.SessionConfig(ctx)
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if session.Environment != fsapi.EnvironmentStaging {
		t.Errorf("Environment = %q, want staging after flag change", session.Environment)
	}
}

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
	return url.QueryEscape(field) + "="
}

func soapServer(t *testing.T, loginResult, tokenEnvelope string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var inner string
		switch r.Header.Get("SOAPAction") {
		case "login":
			inner = fmt.Sprintf(`<loginResponse><return><Result>%s</Result></return></loginResponse>`, loginResult)
		case "requestTransferToken":
			inner = fmt.Sprintf(`<requestTransferTokenResponse><return>%s</return></requestTransferTokenResponse>`, tokenEnvelope)
		case "logout":
			inner = ""
		default:
			t.Errorf("unexpected SOAPAction %q", r.Header.Get("SOAPAction"))
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>%s</soapenv:Body>
</soapenv:Envelope>`, inner)
	}))
}

func newValidatorFixture(t *testing.T, loginResult string) (*Validator, *memStore) {
	t.Helper()

	store := &memStore{settings: &Settings{
		User:        "api-user",
		Secret:      "api-secret",
		TokenFormat: fsapi.TokenFormatString,
	}}

	server := soapServer(t, loginResult, encryptEnvelope(t, "7OHL1V6ATI"))
	t.Cleanup(server.Close)

	cfg := fsapi.Config{ProductionURL: server.URL, StagingURL: server.URL, Timeout: 5 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := fsapi.NewClient(cfg, NewSource(store), logger)

	return NewValidator(store, client, logger), store
}

func TestValidateRecordsSuccessfulLogin(t *testing.T) {
	validator, store := newValidatorFixture(t, "OK")

	if err := validator.Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if store.loginStatus != "OK" {
		t.Errorf("loginStatus = %q, want OK", store.loginStatus)
	}
	if store.loginAt.IsZero() {
		t.Error("login timestamp not recorded")
	}
}

func TestValidateRecordsRejectedLogin(t *testing.T) {
	validator, store := newValidatorFixture(t, "INVALID_CREDENTIALS")

	err := validator.Validate(context.Background())
	var loginErr *fsapi.LoginError
	if !errors.As(err, &loginErr) {
		t.Fatalf("error = %v, want *LoginError", err)
	}
	if store.loginStatus != "INVALID_CREDENTIALS" {
		t.Errorf("loginStatus = %q, want provider code recorded", store.loginStatus)
	}
	if !store.loginAt.IsZero() {
		t.Error("timestamp advanced on a failed login")
	}
}

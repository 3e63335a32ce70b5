// Package settings owns the FS gateway settings singleton: credentials,
// environment selection, house account and token format.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fsgateway/internal/common/money"
	"fsgateway/internal/fsapi"
)

// SupportedCurrencies lists the currencies FS transacts in. The
// integration is hard-wired to INR.
var SupportedCurrencies = []money.Currency{money.INR}

// Settings is the singleton configuration entity for the FS gateway.
// It is read on every login and mutated only through the settings
// update endpoint.
type Settings struct {
	User         string            `json:"user"`
	Secret       string            `json:"-"`
	UseStaging   bool              `json:"use_staging"`
	HouseAccount string            `json:"house_account"`
	TokenFormat  fsapi.TokenFormat `json:"token_format"`
	LoginStatus  string            `json:"login_status,omitempty"`
	LastLoginAt  *time.Time        `json:"last_login_at,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Environment returns the FS environment selected by the staging flag.
func (s *Settings) Environment() fsapi.Environment {
	if s.UseStaging {
		return fsapi.EnvironmentStaging
	}
	return fsapi.EnvironmentProduction
}

// Store persists the settings singleton.
type Store interface {
	Get(ctx context.Context) (*Settings, error)
	Save(ctx context.Context, s *Settings) error
	RecordLogin(ctx context.Context, status string, at time.Time) error
}

// Source adapts the store to the per-call session lookup the FS client
// performs. Every call re-reads the store so a staging-flag change
// takes effect on the next remote call.
type Source struct {
	store Store
}

// NewSource creates a session source backed by the settings store.
func NewSource(store Store) *Source {
	return &Source{store: store}
}

// SessionConfig implements fsapi.SessionSource.
func (s *Source) SessionConfig(ctx context.Context) (fsapi.Session, error) {
	st, err := s.store.Get(ctx)
	if err != nil {
		return fsapi.Session{}, fmt.Errorf("load gateway settings: %w", err)
	}
	return fsapi.Session{
		User:        st.User,
		Secret:      st.Secret,
		Environment: st.Environment(),
	}, nil
}

// ValidateCurrency rejects transactions in currencies FS does not
// support.
func ValidateCurrency(currency money.Currency) error {
	for _, c := range SupportedCurrencies {
		if c == currency {
			return nil
		}
	}
	return fmt.Errorf("FS does not support transactions in currency %q", currency)
}

// Validator checks stored credentials by performing a login and a token
// round trip, recording the outcome on the settings entity.
type Validator struct {
	store  Store
	client *fsapi.Client
	logger *slog.Logger
}

// NewValidator creates a settings validator.
func NewValidator(store Store, client *fsapi.Client, logger *slog.Logger) *Validator {
	return &Validator{
		store:  store,
		client: client,
		logger: logger,
	}
}

// Validate logs in with the stored credentials and exercises the token
// request/decode path. The login status and timestamp are persisted
// whether or not the login succeeds.
func (v *Validator) Validate(ctx context.Context) error {
	st, err := v.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("load gateway settings: %w", err)
	}

	result, err := v.client.Login(ctx)
	status := ""
	if result != nil {
		status = result.Result
	}
	if recErr := v.store.RecordLogin(ctx, status, time.Now().UTC()); recErr != nil {
		v.logger.Error("failed to record login status", "error", recErr)
	}
	if err != nil {
		return err
	}

	envelope, err := v.client.RequestTransferToken(ctx)
	if err != nil {
		return err
	}

	decoder := fsapi.NewTokenDecoder(st.TokenFormat)
	if _, err := decoder.Decode(envelope); err != nil {
		return fmt.Errorf("validate token round trip: %w", err)
	}

	v.logger.Info("fs credentials validated",
		"environment", st.Environment(),
	)

	return nil
}

// Package fsapi implements the SOAP client for the FS funds-transfer
// service: session login, transfer-token acquisition and decryption,
// transfer submission and account-limit queries.
package fsapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fsgateway/internal/common/money"
)

// Environment selects which FS endpoint receives a call.
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
)

// Session carries the credentials and environment for one remote call.
// It is re-read from the settings entity on every call; the staging
// flag can change between calls in long-lived orchestration loops.
type Session struct {
	User        string
	Secret      string
	Environment Environment
}

// SessionSource supplies the current session configuration.
type SessionSource interface {
	SessionConfig(ctx context.Context) (Session, error)
}

// Config holds the FS endpoint configuration.
type Config struct {
	ProductionURL string        `envconfig:"FS_PRODUCTION_URL" required:"true"`
	StagingURL    string        `envconfig:"FS_STAGING_URL" required:"true"`
	Timeout       time.Duration `envconfig:"FS_TIMEOUT" default:"30s"`
}

// LoginResult is the provider's login response. "OK" is the single
// success sentinel.
type LoginResult struct {
	Result    string `xml:"return>Result" json:"result"`
	ExtraInfo string `xml:"return>ExtraInfo" json:"extra_info,omitempty"`
}

// TransferResult is the provider's addTransfer response. A non-"OK"
// result is a business rejection, not a transport failure.
type TransferResult struct {
	Result  string `xml:"return>Result" json:"result"`
	Message string `xml:"return>Message" json:"message,omitempty"`
}

// OK reports whether the transfer was accepted.
func (r TransferResult) OK() bool {
	return r.Result == resultOK
}

const resultOK = "OK"

// LoginError is returned when the provider rejects a login. Code is the
// provider's raw result string.
type LoginError struct {
	Code string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("fs login failed: %s", e.Code)
}

// Client talks to the FS SOAP service. The target endpoint is resolved
// from the session source on every call, never cached.
type Client struct {
	config     Config
	httpClient *http.Client
	source     SessionSource
	logger     *slog.Logger
}

// NewClient creates a new FS client.
func NewClient(cfg Config, source SessionSource, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		source: source,
		logger: logger,
	}
}

func (c *Client) resolve(ctx context.Context) (string, Session, error) {
	session, err := c.source.SessionConfig(ctx)
	if err != nil {
		return "", Session{}, fmt.Errorf("resolve session config: %w", err)
	}
	endpoint := c.config.ProductionURL
	if session.Environment == EnvironmentStaging {
		endpoint = c.config.StagingURL
	}
	return endpoint, session, nil
}

type loginRequest struct {
	XMLName  xml.Name `xml:"fs:login"`
	PID      string   `xml:"strPID"`
	Password string   `xml:"strPassword"`
}

type loginResponse struct {
	XMLName xml.Name `xml:"loginResponse"`
	LoginResult
}

// Login authenticates against the active endpoint. Any result other
// than "OK" is returned as a *LoginError carrying the provider's code.
func (c *Client) Login(ctx context.Context) (*LoginResult, error) {
	endpoint, session, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var resp loginResponse
	req := loginRequest{PID: session.User, Password: session.Secret}
	if err := c.call(ctx, endpoint, "login", req, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if resp.Result != resultOK {
		return &resp.LoginResult, &LoginError{Code: resp.Result}
	}

	c.logger.Debug("fs login ok",
		"environment", session.Environment,
	)

	return &resp.LoginResult, nil
}

type logoutRequest struct {
	XMLName xml.Name `xml:"fs:logout"`
}

// Logout ends the provider session. Failures are reported but carry no
// business meaning; the provider expires sessions on its own.
func (c *Client) Logout(ctx context.Context) error {
	endpoint, _, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	if err := c.call(ctx, endpoint, "logout", logoutRequest{}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

type tokenRequest struct {
	XMLName       xml.Name `xml:"fs:requestTransferToken"`
	TransferToken string   `xml:"request>transferToken"`
}

type tokenResponse struct {
	XMLName  xml.Name `xml:"requestTransferTokenResponse"`
	Envelope string   `xml:"return"`
}

// RequestTransferToken asks the provider for a one-time transfer token
// and returns the opaque encrypted envelope.
func (c *Client) RequestTransferToken(ctx context.Context) (string, error) {
	endpoint, _, err := c.resolve(ctx)
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := c.call(ctx, endpoint, "requestTransferToken", tokenRequest{}, &resp); err != nil {
		return "", fmt.Errorf("request transfer token: %w", err)
	}

	return resp.Envelope, nil
}

// AddTransferRequest is the provider-facing transfer submission.
type AddTransferRequest struct {
	AccountNumberFrom string
	AccountNumberTo   string
	Amount            string // positive decimal string
	Description       string
	Check             string
	Token             string
}

type addTransferRequest struct {
	XMLName           xml.Name `xml:"fs:addTransfer"`
	AccountNumberFrom string   `xml:"strAccountNumberFrom"`
	AccountNumberTo   string   `xml:"strAccountNumberTo"`
	Amount            string   `xml:"fAmount"`
	Description       string   `xml:"strDescription"`
	Check             string   `xml:"check"`
	Token             string   `xml:"token"`
}

type addTransferResponse struct {
	XMLName xml.Name `xml:"addTransferResponse"`
	TransferResult
}

// AddTransfer submits a transfer. Transport failures return an error;
// business rejections come back in the result with no error so the
// caller can record them.
func (c *Client) AddTransfer(ctx context.Context, req AddTransferRequest) (*TransferResult, error) {
	endpoint, session, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var resp addTransferResponse
	soapReq := addTransferRequest{
		AccountNumberFrom: req.AccountNumberFrom,
		AccountNumberTo:   req.AccountNumberTo,
		Amount:            req.Amount,
		Description:       req.Description,
		Check:             req.Check,
		Token:             req.Token,
	}
	if err := c.call(ctx, endpoint, "addTransfer", soapReq, &resp); err != nil {
		return nil, fmt.Errorf("add transfer: %w", err)
	}

	c.logger.Info("fs transfer submitted",
		"environment", session.Environment,
		"result", resp.Result,
		"account_from", req.AccountNumberFrom,
		"account_to", req.AccountNumberTo,
		"amount", req.Amount,
	)

	return &resp.TransferResult, nil
}

type maxAmountRequest struct {
	XMLName       xml.Name `xml:"fs:getAccountMaxAmount"`
	AccountNumber string   `xml:"strAccountNumber"`
}

type maxAmountResponse struct {
	XMLName xml.Name `xml:"getAccountMaxAmountResponse"`
	Amount  string   `xml:"return"`
}

// GetAccountMaxAmount queries the maximum transfer amount currently
// allowed for an account.
func (c *Client) GetAccountMaxAmount(ctx context.Context, accountNumber string) (money.Money, error) {
	endpoint, _, err := c.resolve(ctx)
	if err != nil {
		return money.Money{}, err
	}

	var resp maxAmountResponse
	req := maxAmountRequest{AccountNumber: accountNumber}
	if err := c.call(ctx, endpoint, "getAccountMaxAmount", req, &resp); err != nil {
		return money.Money{}, fmt.Errorf("get account max amount: %w", err)
	}

	limit, err := money.ParseDecimal(resp.Amount, money.INR)
	if err != nil {
		return money.Money{}, fmt.Errorf("parse account max amount %q: %w", resp.Amount, err)
	}

	return limit, nil
}

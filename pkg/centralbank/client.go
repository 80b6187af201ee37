/**
 * @description
 * This package provides a client for the central bank registry and for the
 * transaction endpoints of counterpart banks. It resolves a bank prefix to
 * the bank's registered endpoints, attests that a prefix belongs to an
 * active participant, fetches a counterpart's published key set, and
 * delivers signed transfer tokens.
 *
 * Key features:
 * - Trust checks never error: an unverifiable bank is reported as untrusted.
 * - Token delivery retries a bounded number of times with backoff, but only
 *   for remote-side failures (5xx). Client-side rejections are permanent.
 * - A test mode substitutes deterministic synthetic responses so the
 *   protocol logic is exercisable without live infrastructure.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, time: Standard Go libraries.
 * - internal/domain: Bank and key-set models.
 */
package centralbank

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/JoonasMagi/jmbpank/internal/domain"
)

var (
	// ErrUnknownBank indicates the registry has no entry for the prefix.
	ErrUnknownBank = errors.New("unknown bank prefix")
	// ErrDeliveryFailure indicates a signed transfer could not be delivered
	// to the counterpart bank.
	ErrDeliveryFailure = errors.New("transfer delivery failed")
)

// Client talks to the central bank registry and to counterpart banks.
type Client struct {
	BaseURL    string
	APIKey     string
	TestMode   bool
	HTTPClient *http.Client

	maxAttempts int

	// LocalJWKS supplies this bank's own key set in test mode, so loopback
	// transfers can be verified without network access.
	LocalJWKS func(ctx context.Context) (domain.JWKS, error)
}

// NewClient creates a new central bank client. deliveryTimeout bounds each
// outbound call; maxAttempts bounds retries for transient delivery failures.
func NewClient(baseURL, apiKey string, testMode bool, deliveryTimeout time.Duration, maxAttempts int) *Client {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 5 * time.Second
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		TestMode:    testMode,
		HTTPClient:  &http.Client{Timeout: deliveryTimeout},
		maxAttempts: maxAttempts,
	}
}

// GetBankInfo resolves a bank prefix via the registry's bank list.
func (c *Client) GetBankInfo(ctx context.Context, bankPrefix string) (*domain.BankInfo, error) {
	if c.TestMode {
		return c.mockBankInfo(bankPrefix), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/banks", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bank list request: %w", err)
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bank list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bank list request returned status %d", resp.StatusCode)
	}

	var banks []domain.BankInfo
	if err := json.NewDecoder(resp.Body).Decode(&banks); err != nil {
		return nil, fmt.Errorf("failed to decode bank list: %w", err)
	}

	for i := range banks {
		if banks[i].Prefix == bankPrefix {
			return &banks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBank, bankPrefix)
}

// VerifyBank asks the registry whether the prefix belongs to a legitimate,
// active participant. Any failure to verify means untrusted: the method
// returns false and never an error.
func (c *Client) VerifyBank(ctx context.Context, bankPrefix string) bool {
	if c.TestMode {
		return len(bankPrefix) == domain.BankPrefixLength
	}

	url := fmt.Sprintf("%s/banks/%s/verify", c.BaseURL, bankPrefix)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Printf("level=warn component=centralbank op=verify_bank prefix=%s err=%v", bankPrefix, err)
		return false
	}
	c.authorize(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=centralbank op=verify_bank prefix=%s err=%v", bankPrefix, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=centralbank op=verify_bank prefix=%s status=%d", bankPrefix, resp.StatusCode)
		return false
	}

	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("level=warn component=centralbank op=verify_bank prefix=%s err=%v", bankPrefix, err)
		return false
	}
	return result.Valid
}

// GetJWKS resolves the bank and fetches its published key set.
func (c *Client) GetJWKS(ctx context.Context, bankPrefix string) (domain.JWKS, error) {
	info, err := c.GetBankInfo(ctx, bankPrefix)
	if err != nil {
		return domain.JWKS{}, err
	}

	if c.TestMode {
		if c.LocalJWKS != nil {
			return c.LocalJWKS(ctx)
		}
		return domain.JWKS{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.JWKSURL, nil)
	if err != nil {
		return domain.JWKS{}, fmt.Errorf("failed to create jwks request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return domain.JWKS{}, fmt.Errorf("failed to fetch jwks for %s: %w", bankPrefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.JWKS{}, fmt.Errorf("jwks request for %s returned status %d", bankPrefix, resp.StatusCode)
	}

	var jwks domain.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return domain.JWKS{}, fmt.Errorf("failed to decode jwks for %s: %w", bankPrefix, err)
	}
	return jwks, nil
}

// SubmitTransaction delivers a signed transfer token to the counterpart
// bank's transaction endpoint and returns the acknowledged receiver name.
// 5xx responses are retried with backoff up to the configured attempt
// budget; anything else fails immediately.
func (c *Client) SubmitTransaction(ctx context.Context, transactionURL, signedToken string) (string, error) {
	if c.TestMode {
		return c.mockSubmit(signedToken)
	}

	body, err := json.Marshal(map[string]string{"jwt": signedToken})
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer submission: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrDeliveryFailure, ctx.Err())
			case <-time.After(backoff):
			}
		}

		receiverName, retryable, err := c.submitOnce(ctx, transactionURL, body)
		if err == nil {
			return receiverName, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		log.Printf("level=warn component=centralbank op=submit_transaction attempt=%d url=%s err=%v", attempt, transactionURL, err)
	}
	return "", fmt.Errorf("%w: %v", ErrDeliveryFailure, lastErr)
}

func (c *Client) submitOnce(ctx context.Context, transactionURL string, body []byte) (receiverName string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, transactionURL, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Network-level failures are treated as transient.
		return "", true, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("counterpart returned status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("counterpart rejected transfer with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var ack struct {
		ReceiverName string `json:"receiverName"`
	}
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return "", false, fmt.Errorf("failed to decode counterpart acknowledgment: %w", err)
	}
	if ack.ReceiverName == "" {
		return "", false, errors.New("counterpart acknowledgment missing receiver name")
	}
	return ack.ReceiverName, false, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func (c *Client) mockBankInfo(bankPrefix string) *domain.BankInfo {
	return &domain.BankInfo{
		Prefix:         bankPrefix,
		Name:           bankPrefix + " Test Bank",
		TransactionURL: "http://localhost:8080/transfers/b2b",
		JWKSURL:        "http://localhost:8080/transfers/jwks",
	}
}

// mockSubmit simulates the counterpart by decoding the token payload locally.
func (c *Client) mockSubmit(signedToken string) (string, error) {
	parts := strings.Split(signedToken, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed token", ErrDeliveryFailure)
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	return "Test Receiver", nil
}

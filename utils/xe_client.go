package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/gpay-xe/models"
)

// XEClientInterface is the slice of the XE payments API the service consumes.
type XEClientInterface interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error)
	ApproveContract(ctx context.Context, contractNumber string) (models.ApprovalResponse, error)
}

// XEError is a non-2xx answer from the XE API.
type XEError struct {
	StatusCode int                    `json:"-"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

func (e *XEError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("xe api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("xe api error %d: %s", e.StatusCode, e.Message)
}

type CreatePaymentRequest struct {
	ClientReference string          `json:"clientReference"`
	RecipientID     string          `json:"recipientId"`
	SellCurrency    string          `json:"sellCurrency"`
	BuyCurrency     string          `json:"buyCurrency"`
	Amount          decimal.Decimal `json:"amount"`
	FixedCurrency   string          `json:"fixedCurrency"`
	Purpose         string          `json:"purpose,omitempty"`
}

type xeMoney struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type xeFxDetail struct {
	Sell          xeMoney         `json:"sell"`
	Buy           xeMoney         `json:"buy"`
	Rate          decimal.Decimal `json:"rate"`
	InverseRate   decimal.Decimal `json:"inverseRate"`
	ValueDate     string          `json:"valueDate"`
	EffectiveDate *time.Time      `json:"effectiveDate"`
}

type xeSettlementDetail struct {
	SettlementDate           string          `json:"settlementDate"`
	BankAccount              string          `json:"bankAccount"`
	AccountHolder            string          `json:"accountHolder"`
	SettlementMethod         string          `json:"settlementMethod"`
	Currency                 string          `json:"currency"`
	Fees                     decimal.Decimal `json:"fees"`
	NetSettlementAmount      decimal.Decimal `json:"netSettlementAmount"`
	Margin                   decimal.Decimal `json:"margin"`
	BalanceSettlementAmount  decimal.Decimal `json:"balanceSettlementAmount"`
	BalanceSettlementDueDate string          `json:"balanceSettlementDueDate"`
}

type xeSettlementOption struct {
	Method      string `json:"method"`
	IsAvailable bool   `json:"isAvailable"`
	Currency    string `json:"currency"`
}

type xeCreatePaymentBody struct {
	ContractNumber   string `json:"contractNumber"`
	ClientReference  string `json:"clientReference"`
	Status           string `json:"status"`
	QuoteStatus      string `json:"quoteStatus"`
	SettlementStatus string `json:"settlementStatus"`
	Quote            struct {
		QuoteTime *time.Time   `json:"quoteTime"`
		ExpiresAt *time.Time   `json:"expiresAt"`
		FxDetails []xeFxDetail `json:"fxDetails"`
	} `json:"quote"`
	SettlementDetails []xeSettlementDetail `json:"settlementDetails"`
	SettlementOptions []xeSettlementOption `json:"settlementOptions"`
}

// CreatePaymentResponse is the decoded create-payment answer plus the raw body
// kept for audit.
type CreatePaymentResponse struct {
	ContractNumber    string
	ClientReference   string
	Status            models.PaymentStatus
	QuoteStatus       models.QuoteStatus
	SettlementStatus  models.SettlementStatus
	QuoteTime         *time.Time
	QuoteExpiresAt    *time.Time
	QuoteLegs         []models.QuoteLeg
	SettlementLegs    []models.SettlementLeg
	SettlementOptions []models.SettlementOption
	Raw               json.RawMessage
}

type XEClient struct {
	httpClient    *http.Client
	baseURL       string
	accountNumber string
	apiKey        string
}

func NewXEClient(baseURL, accountNumber, apiKey string, timeout time.Duration) XEClientInterface {
	return &XEClient{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(baseURL, "/"),
		accountNumber: accountNumber,
		apiKey:        apiKey,
	}
}

func (x *XEClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error) {
	raw, err := x.do(ctx, http.MethodPost, "/v2/payments", req)
	if err != nil {
		return nil, err
	}

	var body xeCreatePaymentBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode create payment response: %w", err)
	}
	if body.ContractNumber == "" {
		return nil, errors.New("create payment response is missing the contract number")
	}

	resp := &CreatePaymentResponse{
		ContractNumber:   body.ContractNumber,
		ClientReference:  body.ClientReference,
		Status:           models.PaymentStatus(body.Status),
		QuoteStatus:      models.QuoteStatus(body.QuoteStatus),
		SettlementStatus: models.SettlementStatus(body.SettlementStatus),
		QuoteTime:        body.Quote.QuoteTime,
		QuoteExpiresAt:   body.Quote.ExpiresAt,
		Raw:              raw,
	}
	for _, fx := range body.Quote.FxDetails {
		resp.QuoteLegs = append(resp.QuoteLegs, models.QuoteLeg{
			SellCurrency:  fx.Sell.Currency,
			SellAmount:    fx.Sell.Amount,
			BuyCurrency:   fx.Buy.Currency,
			BuyAmount:     fx.Buy.Amount,
			Rate:          fx.Rate,
			InverseRate:   fx.InverseRate,
			ValueDate:     fx.ValueDate,
			EffectiveDate: fx.EffectiveDate,
		})
	}
	for _, sd := range body.SettlementDetails {
		resp.SettlementLegs = append(resp.SettlementLegs, models.SettlementLeg{
			SettlementDate:           sd.SettlementDate,
			DestinationAccount:       sd.BankAccount,
			DestinationAccountHolder: sd.AccountHolder,
			SettlementMethod:         sd.SettlementMethod,
			SettlementCurrency:       sd.Currency,
			Fees:                     sd.Fees,
			NetSettlementAmount:      sd.NetSettlementAmount,
			Margin:                   sd.Margin,
			BalanceSettlementAmount:  sd.BalanceSettlementAmount,
			BalanceSettlementDate:    sd.BalanceSettlementDueDate,
		})
	}
	for _, so := range body.SettlementOptions {
		resp.SettlementOptions = append(resp.SettlementOptions, models.SettlementOption{
			Method:      so.Method,
			IsAvailable: so.IsAvailable,
			Currency:    so.Currency,
		})
	}
	return resp, nil
}

func (x *XEClient) ApproveContract(ctx context.Context, contractNumber string) (models.ApprovalResponse, error) {
	path := fmt.Sprintf("/v2/contracts/%s/approve", url.PathEscape(contractNumber))
	raw, err := x.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, err
	}

	resp := models.ApprovalResponse{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode approval response: %w", err)
	}
	return resp, nil
}

func (x *XEClient) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(x.accountNumber, x.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xe request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read xe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		xeErr := &XEError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, xeErr); err != nil || xeErr.Message == "" {
			xeErr.Message = strings.TrimSpace(string(raw))
			if xeErr.Message == "" {
				xeErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return nil, xeErr
	}
	return raw, nil
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gpay-xe/contracts"
	"github.com/yourusername/gpay-xe/middleware"
	"github.com/yourusername/gpay-xe/models"
	"github.com/yourusername/gpay-xe/sweeper"
	"github.com/yourusername/gpay-xe/testutil"
	"github.com/yourusername/gpay-xe/utils"
	"gorm.io/gorm"
)

type contractsFixture struct {
	db     *gorm.DB
	store  *contracts.Store
	p      testutil.Parties
	mock   *testutil.MockXEClient
	router *gin.Engine
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func paymentResponse(contractNumber string, expiresAt time.Time) *utils.CreatePaymentResponse {
	quoteTime := expiresAt.Add(-2 * time.Minute)
	return &utils.CreatePaymentResponse{
		ContractNumber:   contractNumber,
		Status:           models.PaymentStatusContractUnconfirmed,
		QuoteStatus:      models.QuoteStatusValid,
		SettlementStatus: models.SettlementStatusNotSettled,
		QuoteTime:        &quoteTime,
		QuoteExpiresAt:   &expiresAt,
		QuoteLegs: []models.QuoteLeg{{
			SellCurrency: "USD",
			SellAmount:   decimal.RequireFromString("250.00"),
			BuyCurrency:  "EUR",
			BuyAmount:    decimal.RequireFromString("230.10"),
			Rate:         decimal.RequireFromString("0.9204"),
		}},
		SettlementLegs: []models.SettlementLeg{{
			DestinationAccount: "DE89****3000",
			SettlementMethod:   "DirectDebit",
			Fees:               decimal.RequireFromString("2.00"),
		}},
		Raw: json.RawMessage(fmt.Sprintf(`{"contractNumber":%q}`, contractNumber)),
	}
}

func setupContracts(t *testing.T) *contractsFixture {
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDB(t)
	f := &contractsFixture{db: db, store: contracts.NewStore(db), p: testutil.SeedParties(t, db)}
	f.mock = &testutil.MockXEClient{
		CreatePaymentFunc: func(ctx context.Context, req utils.CreatePaymentRequest) (*utils.CreatePaymentResponse, error) {
			return paymentResponse("XE-"+req.ClientReference[:13], time.Now().UTC().Add(10*time.Minute)), nil
		},
		ApproveContractFunc: func(ctx context.Context, contractNumber string) (models.ApprovalResponse, error) {
			return models.ApprovalResponse{"status": "Confirmed", "quoteStatus": "Valid"}, nil
		},
	}

	log := quietLogger()
	sw := sweeper.New(f.store, f.mock, log, sweeper.Options{ApprovalTimeout: time.Second})
	h := NewContractHandler(db, f.store, f.mock, sw, log)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, f.p.User.ID)
		c.Next()
	})
	router.POST("/contracts", h.CreateContract)
	router.GET("/contracts", h.ListContracts)
	router.GET("/contracts/:id", h.GetContract)
	router.GET("/contract-numbers/:number", h.GetContractByNumber)
	router.POST("/contracts/:id/approve", h.ApproveContract)
	router.POST("/admin/sweep", h.TriggerSweep)
	f.router = router
	return f
}

func (f *contractsFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *contractsFixture) createRequest() gin.H {
	return gin.H{
		"transaction_id": f.p.Transaction.ID,
		"recipient_id":   f.p.Recipient.ID,
		"sell_currency":  "USD",
		"buy_currency":   "EUR",
		"amount":         "250.00",
	}
}

func TestCreateContract(t *testing.T) {
	t.Run("Valid Request", func(t *testing.T) {
		f := setupContracts(t)
		var sent utils.CreatePaymentRequest
		create := f.mock.CreatePaymentFunc
		f.mock.CreatePaymentFunc = func(ctx context.Context, req utils.CreatePaymentRequest) (*utils.CreatePaymentResponse, error) {
			sent = req
			return create(ctx, req)
		}

		w := f.do("POST", "/contracts", f.createRequest())
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		assert.Equal(t, f.p.Recipient.ProviderID, sent.RecipientID)
		assert.Equal(t, "USD", sent.FixedCurrency)
		assert.True(t, sent.Amount.Equal(decimal.RequireFromString("250")))
		require.NotEmpty(t, sent.ClientReference)

		stored, err := f.store.GetByClientReference(context.Background(), sent.ClientReference)
		require.NoError(t, err)
		assert.Equal(t, models.OverallStatusPaymentCreated, stored.OverallStatus)
		assert.Equal(t, f.p.User.ID, stored.UserID)
		require.NotNil(t, stored.QuoteExpiration.ExpiresAt)
		assert.False(t, stored.QuoteExpiration.AutoApprovalAttempted)
		assert.JSONEq(t, fmt.Sprintf(`{"contractNumber":%q}`, stored.Payment.ContractNumber), string(stored.RawPaymentResponse))
		assert.Len(t, stored.Payment.QuoteLegs, 1)
	})

	t.Run("Invalid Amount", func(t *testing.T) {
		f := setupContracts(t)
		body := f.createRequest()
		body["amount"] = "-10"
		w := f.do("POST", "/contracts", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown Transaction", func(t *testing.T) {
		f := setupContracts(t)
		body := f.createRequest()
		body["transaction_id"] = 9999
		w := f.do("POST", "/contracts", body)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Provider Error", func(t *testing.T) {
		f := setupContracts(t)
		f.mock.CreatePaymentFunc = func(ctx context.Context, req utils.CreatePaymentRequest) (*utils.CreatePaymentResponse, error) {
			return nil, &utils.XEError{StatusCode: 400, Code: "INVALID_RECIPIENT", Message: "recipient not found"}
		}

		w := f.do("POST", "/contracts", f.createRequest())
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_RECIPIENT")

		list, err := f.store.List(context.Background(), "", 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("Duplicate Contract Number", func(t *testing.T) {
		f := setupContracts(t)
		f.mock.CreatePaymentFunc = func(ctx context.Context, req utils.CreatePaymentRequest) (*utils.CreatePaymentResponse, error) {
			return paymentResponse("XE-FIXED", time.Now().UTC().Add(10*time.Minute)), nil
		}

		w := f.do("POST", "/contracts", f.createRequest())
		require.Equal(t, http.StatusCreated, w.Code)
		w = f.do("POST", "/contracts", f.createRequest())
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Invalid Provider Status", func(t *testing.T) {
		f := setupContracts(t)
		f.mock.CreatePaymentFunc = func(ctx context.Context, req utils.CreatePaymentRequest) (*utils.CreatePaymentResponse, error) {
			resp := paymentResponse("XE-ODD", time.Now().UTC().Add(10*time.Minute))
			resp.Status = "Pondering"
			return resp, nil
		}

		w := f.do("POST", "/contracts", f.createRequest())
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestGetContract(t *testing.T) {
	f := setupContracts(t)
	c := testutil.NewContract(f.p, time.Now().UTC().Add(10*time.Minute))
	require.NoError(t, f.store.Create(context.Background(), c))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"By ID", fmt.Sprintf("/contracts/%d", c.ID), http.StatusOK},
		{"Missing ID", "/contracts/9999", http.StatusNotFound},
		{"Bad ID", "/contracts/abc", http.StatusBadRequest},
		{"By Number", "/contract-numbers/" + c.Payment.ContractNumber, http.StatusOK},
		{"Missing Number", "/contract-numbers/XE-NOPE", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do("GET", tt.path, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var got models.XeContract
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, c.ClientReference, got.ClientReference)
			}
		})
	}
}

func TestListContracts(t *testing.T) {
	f := setupContracts(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.Create(ctx, testutil.NewContract(f.p, time.Now().UTC().Add(10*time.Minute))))
	}
	expired := testutil.NewContract(f.p, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, f.store.Create(ctx, expired))
	_, _, err := f.store.MarkExpired(ctx, expired.ID, time.Now().UTC())
	require.NoError(t, err)

	decode := func(w *httptest.ResponseRecorder) []models.XeContract {
		var out []models.XeContract
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return out
	}

	w := f.do("GET", "/contracts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(w), 4)

	w = f.do("GET", "/contracts?status=expired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(w)
	require.Len(t, list, 1)
	assert.Equal(t, expired.ID, list[0].ID)

	w = f.do("GET", "/contracts?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(w), 2)

	w = f.do("GET", fmt.Sprintf("/contracts?transaction_id=%d", f.p.Transaction.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(w), 4)

	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/contracts?status=stale", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/contracts?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do("GET", "/contracts?transaction_id=x", nil).Code)
}

func TestApproveContract(t *testing.T) {
	ctx := context.Background()

	t.Run("Approved", func(t *testing.T) {
		f := setupContracts(t)
		c := testutil.NewContract(f.p, time.Now().UTC().Add(10*time.Minute))
		require.NoError(t, f.store.Create(ctx, c))

		w := f.do("POST", fmt.Sprintf("/contracts/%d/approve", c.ID), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		loaded, err := f.store.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OverallStatusPaymentApproved, loaded.OverallStatus)
		require.NotNil(t, loaded.Approval.ApprovedBy)
		assert.Equal(t, f.p.User.ID, *loaded.Approval.ApprovedBy)
		assert.Equal(t, models.PaymentStatusConfirmed, loaded.Approval.UpdatedStatus)
		assert.False(t, loaded.QuoteExpiration.AutoApprovalAttempted)

		w = f.do("POST", fmt.Sprintf("/contracts/%d/approve", c.ID), nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Provider Rejects", func(t *testing.T) {
		f := setupContracts(t)
		f.mock.ApproveContractFunc = func(ctx context.Context, contractNumber string) (models.ApprovalResponse, error) {
			return nil, errors.New("connection refused")
		}
		c := testutil.NewContract(f.p, time.Now().UTC().Add(10*time.Minute))
		require.NoError(t, f.store.Create(ctx, c))

		w := f.do("POST", fmt.Sprintf("/contracts/%d/approve", c.ID), nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), sweeper.ErrorCodeProvider)

		loaded, err := f.store.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OverallStatusFailed, loaded.OverallStatus)
		assert.Equal(t, 1, loaded.ErrorInfo.RetryCount)
		assert.Equal(t, models.ErrorStageContractApproval, loaded.ErrorInfo.LastError.Stage)
	})

	t.Run("Expired Quote", func(t *testing.T) {
		f := setupContracts(t)
		called := false
		f.mock.ApproveContractFunc = func(ctx context.Context, contractNumber string) (models.ApprovalResponse, error) {
			called = true
			return models.ApprovalResponse{}, nil
		}
		c := testutil.NewContract(f.p, time.Now().UTC().Add(-time.Minute))
		require.NoError(t, f.store.Create(ctx, c))

		w := f.do("POST", fmt.Sprintf("/contracts/%d/approve", c.ID), nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.False(t, called)

		loaded, err := f.store.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OverallStatusExpired, loaded.OverallStatus)
		assert.True(t, loaded.QuoteExpiration.IsExpired)
		assert.Nil(t, loaded.Approval.ApprovedAt)
	})

	t.Run("Missing Contract", func(t *testing.T) {
		f := setupContracts(t)
		w := f.do("POST", "/contracts/9999/approve", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestApprovalPathsShareLock(t *testing.T) {
	ctx := context.Background()

	// block makes the first provider call wait until release is closed.
	block := func(f *contractsFixture, calls *atomic.Int32, entered, release chan struct{}, result func(string) (models.ApprovalResponse, error)) {
		f.mock.ApproveContractFunc = func(ctx context.Context, contractNumber string) (models.ApprovalResponse, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return result(contractNumber)
		}
	}

	t.Run("Manual Approval While Sweep In Flight", func(t *testing.T) {
		f := setupContracts(t)
		c := testutil.NewContract(f.p, time.Now().UTC().Add(10*time.Minute))
		require.NoError(t, f.store.Create(ctx, c))

		var calls atomic.Int32
		entered, release := make(chan struct{}), make(chan struct{})
		block(f, &calls, entered, release, func(string) (models.ApprovalResponse, error) {
			return nil, &utils.XEError{StatusCode: 503, Code: "UNAVAILABLE", Message: "try later"}
		})

		swept := make(chan *httptest.ResponseRecorder)
		go func() { swept <- f.do("POST", "/admin/sweep", nil) }()
		<-entered

		w := f.do("POST", fmt.Sprintf("/contracts/%d/approve", c.ID), nil)
		assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

		close(release)
		require.Equal(t, http.StatusOK, (<-swept).Code)
		assert.Equal(t, int32(1), calls.Load())

		loaded, err := f.store.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OverallStatusFailed, loaded.OverallStatus)
		assert.Equal(t, 1, loaded.ErrorInfo.RetryCount)
		assert.Nil(t, loaded.Approval.ApprovedAt)
		assert.Nil(t, loaded.ApprovalLockedAt)
	})

	t.Run("Sweep While Manual Approval In Flight", func(t *testing.T) {
		f := setupContracts(t)
		c := testutil.NewContract(f.p, time.Now().UTC().Add(10*time.Minute))
		require.NoError(t, f.store.Create(ctx, c))

		var calls atomic.Int32
		entered, release := make(chan struct{}), make(chan struct{})
		block(f, &calls, entered, release, func(string) (models.ApprovalResponse, error) {
			return models.ApprovalResponse{"status": "Confirmed"}, nil
		})

		approved := make(chan *httptest.ResponseRecorder)
		go func() { approved <- f.do("POST", fmt.Sprintf("/contracts/%d/approve", c.ID), nil) }()
		<-entered

		w := f.do("POST", "/admin/sweep", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var res sweeper.Result
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Zero(t, res.Approved)
		assert.Equal(t, 1, res.Skipped)

		close(release)
		require.Equal(t, http.StatusOK, (<-approved).Code)
		assert.Equal(t, int32(1), calls.Load())

		loaded, err := f.store.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OverallStatusPaymentApproved, loaded.OverallStatus)
		assert.False(t, loaded.QuoteExpiration.AutoApprovalAttempted)
		assert.False(t, loaded.ErrorInfo.HasErrors)
		assert.Nil(t, loaded.ApprovalLockedAt)
	})
}

func TestCreateContractLogsUnstoredContract(t *testing.T) {
	f := setupContracts(t)
	f.mock.CreatePaymentFunc = func(ctx context.Context, req utils.CreatePaymentRequest) (*utils.CreatePaymentResponse, error) {
		resp := paymentResponse("XE-ORPHAN", time.Now().UTC().Add(10*time.Minute))
		resp.Status = "Pondering"
		return resp, nil
	}

	log, hook := logtest.NewNullLogger()
	h := NewContractHandler(f.db, f.store, f.mock, nil, log)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, f.p.User.ID)
		c.Next()
	})
	router.POST("/contracts", h.CreateContract)
	f.router = router

	w := f.do("POST", "/contracts", f.createRequest())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "XE-ORPHAN", entry.Data["contract_number"])
	assert.Contains(t, entry.Data["raw_response"], "XE-ORPHAN")
	assert.NotEmpty(t, entry.Data["client_reference"])
}

func TestTriggerSweep(t *testing.T) {
	f := setupContracts(t)
	ctx := context.Background()
	pending := testutil.NewContract(f.p, time.Now().UTC().Add(10*time.Minute))
	require.NoError(t, f.store.Create(ctx, pending))
	overdue := testutil.NewContract(f.p, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, f.store.Create(ctx, overdue))

	w := f.do("POST", "/admin/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res sweeper.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Approved)
	assert.Equal(t, 1, res.Expired)

	loaded, err := f.store.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OverallStatusPaymentApproved, loaded.OverallStatus)
	assert.True(t, loaded.QuoteExpiration.AutoApprovalAttempted)
}

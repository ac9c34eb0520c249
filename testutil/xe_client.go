package testutil

import (
	"context"

	"github.com/yourusername/gpay-xe/models"
	"github.com/yourusername/gpay-xe/utils"
)

type MockXEClient struct {
	CreatePaymentFunc   func(ctx context.Context, req utils.CreatePaymentRequest) (*utils.CreatePaymentResponse, error)
	ApproveContractFunc func(ctx context.Context, contractNumber string) (models.ApprovalResponse, error)
}

func (m *MockXEClient) CreatePayment(ctx context.Context, req utils.CreatePaymentRequest) (*utils.CreatePaymentResponse, error) {
	return m.CreatePaymentFunc(ctx, req)
}

func (m *MockXEClient) ApproveContract(ctx context.Context, contractNumber string) (models.ApprovalResponse, error) {
	return m.ApproveContractFunc(ctx, contractNumber)
}

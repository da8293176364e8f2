package drift

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/stackpilot/stackpilot/awsd/models"
	"github.com/stackpilot/stackpilot/state"
)

// MockCloudReader is a mock implementation of CloudReader
type MockCloudReader struct {
	mock.Mock
}

// GetInstance mocks the GetInstance method
func (m *MockCloudReader) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Instance), args.Error(1)
}

// GetVPC mocks the GetVPC method
func (m *MockCloudReader) GetVPC(ctx context.Context, id string) (*models.VPC, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VPC), args.Error(1)
}

// GetSubnet mocks the GetSubnet method
func (m *MockCloudReader) GetSubnet(ctx context.Context, id string) (*models.Subnet, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subnet), args.Error(1)
}

// GetSecurityGroup mocks the GetSecurityGroup method
func (m *MockCloudReader) GetSecurityGroup(ctx context.Context, id string) (*models.SecurityGroup, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SecurityGroup), args.Error(1)
}

// ListInstancesByTag mocks the ListInstancesByTag method
func (m *MockCloudReader) ListInstancesByTag(ctx context.Context, key, value string) ([]models.Instance, error) {
	args := m.Called(ctx, key, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Instance), args.Error(1)
}

// MockStateLoader is a mock implementation of StateLoader
type MockStateLoader struct {
	mock.Mock
}

// Load mocks the Load method
func (m *MockStateLoader) Load() (*state.State, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*state.State), args.Error(1)
}

package services

import (
	"github.com/crowdfactor/backend/internal/access"
	"github.com/crowdfactor/backend/internal/events"
	"github.com/crowdfactor/backend/internal/token"
	"github.com/stretchr/testify/mock"
)

// grantedControl builds an access control with a single role membership,
// the shape every service test needs.
func grantedControl(role, caller string) *access.ConfigControl {
	ctl := access.NewConfigControl()
	ctl.Grant(role, caller)
	return ctl
}

// recordingPublisher captures published events so tests can assert on
// what reached the audit stream.
type recordingPublisher struct {
	published []events.Event
	err       error
}

func (p *recordingPublisher) Publish(event events.Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	return nil
}

type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) Mint(handle string, amount int64) error {
	args := m.Called(handle, amount)
	return args.Error(0)
}

func (m *MockTokenService) Destroy(handle string, amount int64) error {
	args := m.Called(handle, amount)
	return args.Error(0)
}

func (m *MockTokenService) Transfer(handle string, to string, amount int64) error {
	args := m.Called(handle, to, amount)
	return args.Error(0)
}

type MockDepositManager struct {
	mock.Mock
}

func (m *MockDepositManager) CreateDepositTarget(clientID string) (string, error) {
	args := m.Called(clientID)
	return args.String(0), args.Error(1)
}

func (m *MockDepositManager) Deposit(clientID string, tokenHandle string, currency string, depositAmount int64, receiveAmount int64) (int, error) {
	args := m.Called(clientID, tokenHandle, currency, depositAmount, receiveAmount)
	return args.Int(0), args.Error(1)
}

func (m *MockDepositManager) ReleaseDeposit(clientID string, tokenHandle string, currency string, receiverAddress string, depositIndex int) (token.ReleaseResult, error) {
	args := m.Called(clientID, tokenHandle, currency, receiverAddress, depositIndex)
	return args.Get(0).(token.ReleaseResult), args.Error(1)
}

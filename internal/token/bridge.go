package token

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Bridge talks to the custody gateway that fronts the actual token
// contracts. It implements both Service and DepositManager.
type Bridge struct {
	baseURL string
	client  *http.Client
}

// NewBridge builds a Bridge against the configured custody gateway.
func NewBridge() *Bridge {
	return &Bridge{
		baseURL: viper.GetString("token.bridge_url"),
		client:  http.DefaultClient,
	}
}

func (b *Bridge) post(path string, payload interface{}, out interface{}) error {
	url := b.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	logrus.Infof("[TOKEN_BRIDGE] Calling custody gateway: %s", url)
	resp, err := b.client.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		logrus.Errorf("[TOKEN_BRIDGE] Custody gateway request failed: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logrus.Errorf("[TOKEN_BRIDGE] Custody gateway returned non-OK status: %d", resp.StatusCode)
		return fmt.Errorf("custody gateway returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		logrus.Errorf("[TOKEN_BRIDGE] Failed to decode custody gateway response: %v", err)
		return err
	}
	return nil
}

// Mint asks the token contract behind handle to create amount units.
func (b *Bridge) Mint(handle string, amount int64) error {
	return b.post(fmt.Sprintf("/tokens/%s/mint", handle), map[string]interface{}{
		"amount": amount,
	}, nil)
}

// Destroy burns amount units held by the platform on the token side.
func (b *Bridge) Destroy(handle string, amount int64) error {
	return b.post(fmt.Sprintf("/tokens/%s/destroy", handle), map[string]interface{}{
		"amount": amount,
	}, nil)
}

// Transfer moves amount units to an external address.
func (b *Bridge) Transfer(handle string, to string, amount int64) error {
	return b.post(fmt.Sprintf("/tokens/%s/transfer", handle), map[string]interface{}{
		"to":     to,
		"amount": amount,
	}, nil)
}

// CreateDepositTarget provisions a custody address for a client.
func (b *Bridge) CreateDepositTarget(clientID string) (string, error) {
	var result struct {
		Handle string `json:"handle"`
	}
	err := b.post("/deposits/targets", map[string]interface{}{
		"clientId": clientID,
	}, &result)
	if err != nil {
		return "", err
	}
	logrus.Infof("[TOKEN_BRIDGE] Created deposit target for client %s: %s", clientID, result.Handle)
	return result.Handle, nil
}

// Deposit locks depositAmount of the client's tokens in custody and
// returns the index the custody gateway assigned to the deposit.
func (b *Bridge) Deposit(clientID string, tokenHandle string, currency string, depositAmount int64, receiveAmount int64) (int, error) {
	var result struct {
		DepositIndex int `json:"depositIndex"`
	}
	err := b.post("/deposits", map[string]interface{}{
		"clientId":      clientID,
		"tokenHandle":   tokenHandle,
		"currency":      currency,
		"depositAmount": depositAmount,
		"receiveAmount": receiveAmount,
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.DepositIndex, nil
}

// ReleaseDeposit unwinds a custody deposit to receiverAddress.
func (b *Bridge) ReleaseDeposit(clientID string, tokenHandle string, currency string, receiverAddress string, depositIndex int) (ReleaseResult, error) {
	var result ReleaseResult
	err := b.post("/deposits/release", map[string]interface{}{
		"clientId":        clientID,
		"tokenHandle":     tokenHandle,
		"currency":        currency,
		"receiverAddress": receiverAddress,
		"depositIndex":    depositIndex,
	}, &result)
	if err != nil {
		return ReleaseResult{}, err
	}
	logrus.Infof("[TOKEN_BRIDGE] Released deposit %d for client %s: deposited=%d received=%d",
		depositIndex, clientID, result.DepositedAmount, result.ReceivedAmount)
	return result, nil
}

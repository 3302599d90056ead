package models

// Request DTOs for the HTTP surface. Amounts are minimal units of the named
// currency.

type RegisterCurrencyRequest struct {
	Symbol   string `json:"symbol" validate:"required,uppercase,min=2,max=10"`
	Handle   string `json:"handle" validate:"required,max=64"`
	Decimals int    `json:"decimals" validate:"gte=0,lte=18"`
}

type MintRequest struct {
	Currency string `json:"currency" validate:"required"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
}

type DestroyRequest struct {
	Currency string `json:"currency" validate:"required"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
}

type TransferRequest struct {
	Currency string `json:"currency" validate:"required"`
	From     string `json:"from" validate:"required,max=64"`
	To       string `json:"to" validate:"required,max=64"`
	Amount   int64  `json:"amount" validate:"gte=0"`
}

type CreateAuctionRequest struct {
	CurrencySymbol     string `json:"currencySymbol" validate:"required"`
	BorrowerID         string `json:"borrowerId" validate:"required,max=64"`
	InvoiceID          string `json:"invoiceId" validate:"required,max=64"`
	InvoiceNumber      string `json:"invoiceNumber" validate:"required,max=64"`
	InvoiceAmount      int64  `json:"invoiceAmount" validate:"required,gt=0"`
	FundingGoal        int64  `json:"fundingGoal" validate:"required,gt=0,ltefield=InvoiceAmount"`
	PlatformTaxPercent int64  `json:"platformTaxPercent" validate:"gte=0,lte=100"`
	DocumentHash       string `json:"documentHash" validate:"max=128"`
}

type CreateGroupRequest struct {
	Name string `json:"name" validate:"required,max=100"`
	Goal int64  `json:"goal" validate:"required,gt=0"`
}

type BidRequest struct {
	BidderID string `json:"bidderId" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=100"`
	Value    int64  `json:"value" validate:"required,gt=0"`
}

type InitialBidRequest struct {
	GroupName  string `json:"groupName" validate:"required,max=100"`
	Goal       int64  `json:"goal" validate:"required,gt=0"`
	BidderID   string `json:"bidderId" validate:"required,max=64"`
	BidderName string `json:"bidderName" validate:"required,max=100"`
	Value      int64  `json:"value" validate:"required,gt=0"`
}

type InvoicePaymentRequest struct {
	PaidAmount int64 `json:"paidAmount" validate:"required,gt=0"`
}

type DepositRequest struct {
	ActionID      string `json:"actionId" validate:"required,max=64"`
	ClientID      string `json:"clientId" validate:"required,max=64"`
	Currency      string `json:"currency" validate:"required"`
	TokenHandle   string `json:"tokenHandle" validate:"required,max=64"`
	DepositAmount int64  `json:"depositAmount" validate:"required,gt=0"`
	ReceiveAmount int64  `json:"receiveAmount" validate:"required,gt=0"`
}

type WithdrawRequest struct {
	ActionID        string `json:"actionId" validate:"required,max=64"`
	ClientID        string `json:"clientId" validate:"required,max=64"`
	Currency        string `json:"currency" validate:"required"`
	ExternalAddress string `json:"externalAddress" validate:"required,max=128"`
	Amount          int64  `json:"amount" validate:"required,gt=0"`
	Fee             int64  `json:"fee" validate:"gte=0,ltfield=Amount"`
}

type ReleaseDepositRequest struct {
	ActionID        string `json:"actionId" validate:"required,max=64"`
	ClientID        string `json:"clientId" validate:"required,max=64"`
	Currency        string `json:"currency" validate:"required"`
	TokenHandle     string `json:"tokenHandle" validate:"required,max=64"`
	ReceiverAddress string `json:"receiverAddress" validate:"required,max=128"`
	DepositIndex    int    `json:"depositIndex" validate:"gte=0"`
}

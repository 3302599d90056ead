package services

import (
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/crowdfactor/backend/internal/models"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/sirupsen/logrus"
)

// Transaction statuses reported back on the pacs.002 acknowledgement.
const (
	txStatusSettled  = "ACSC"
	txStatusRejected = "RJCT"
)

// AuctionReader loads auction records for settlement matching.
type AuctionReader interface {
	Get(auctionID string) (*models.Auction, error)
}

// PaymentProcessor applies settled invoice payments to their auction.
type PaymentProcessor interface {
	InvoicePaymentReceived(caller, auctionID string, paidAmount int64) (bool, error)
}

// CurrencyLookup resolves currency registrations for unit conversion.
type CurrencyLookup interface {
	Get(symbol string) (*models.Currency, error)
}

// SettlementService consumes inbound ISO 20022 pacs.008 credit transfer
// notifications carrying invoice payments. Each transaction names its
// auction in the end-to-end reference; settled amounts arrive in major
// units and are converted through the registry's decimals.
type SettlementService struct {
	auctions   AuctionReader
	payments   PaymentProcessor
	currencies CurrencyLookup
}

func NewSettlementService(auctions AuctionReader, payments PaymentProcessor, currencies CurrencyLookup) *SettlementService {
	return &SettlementService{
		auctions:   auctions,
		payments:   payments,
		currencies: currencies,
	}
}

// IntakePacs008 processes every credit transfer in the message and
// returns a pacs.002 status report acknowledging each one. Settled and
// already-settled transfers report ACSC; mismatched or underpaying
// transfers report RJCT. Infrastructure failures abort the whole
// intake so the sender's redelivery retries it.
func (s *SettlementService) IntakePacs008(caller string, doc *pacs_v08.FIToFICustomerCreditTransferV08) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	if doc == nil || len(doc.CdtTrfTxInf) == 0 {
		return nil, fmt.Errorf("pacs.008 message carries no credit transfer transactions")
	}

	statuses := make([]pacs_v08.PaymentTransaction80, 0, len(doc.CdtTrfTxInf))
	for i := range doc.CdtTrfTxInf {
		transfer := &doc.CdtTrfTxInf[i]
		status, err := s.applyTransfer(caller, transfer)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, pacs_v08.PaymentTransaction80{
			OrgnlInstrId:    transfer.PmtId.InstrId,
			OrgnlEndToEndId: &[]common.Max35Text{transfer.PmtId.EndToEndId}[0],
			OrgnlTxId:       transfer.PmtId.TxId,
			TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
		})
	}

	return &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(uuid.New().String()),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: statuses,
	}, nil
}

// applyTransfer settles one credit transfer. Business rejections come
// back as a transaction status; only authorization and infrastructure
// errors propagate.
func (s *SettlementService) applyTransfer(caller string, transfer *pacs_v08.CreditTransferTransaction39) (string, error) {
	auctionID := string(transfer.PmtId.EndToEndId)
	currency := string(transfer.IntrBkSttlmAmt.Ccy)

	auction, err := s.auctions.Get(auctionID)
	if errors.Is(err, models.ErrNotFound) {
		logrus.Warnf("[SETTLEMENT] Rejecting transfer %s: no auction matches reference", auctionID)
		return txStatusRejected, nil
	}
	if err != nil {
		return "", err
	}

	if auction.CurrencySymbol != currency {
		logrus.Warnf("[SETTLEMENT] Rejecting transfer for auction %s: settled in %s, auction runs in %s",
			auctionID, currency, auction.CurrencySymbol)
		return txStatusRejected, nil
	}

	registration, err := s.currencies.Get(currency)
	if errors.Is(err, models.ErrUnknownCurrency) {
		logrus.Warnf("[SETTLEMENT] Rejecting transfer for auction %s: currency %s not registered", auctionID, currency)
		return txStatusRejected, nil
	}
	if err != nil {
		return "", err
	}

	paidAmount := toMinimalUnits(transfer.IntrBkSttlmAmt.Value, registration.Decimals)
	recorded, err := s.payments.InvoicePaymentReceived(caller, auctionID, paidAmount)
	switch {
	case err == nil && recorded:
		logrus.Infof("[SETTLEMENT] Settled %d %s against auction %s", paidAmount, currency, auctionID)
		return txStatusSettled, nil
	case err == nil:
		// Re-delivered after the winner group was paid; ack so the
		// sender stops retrying.
		return txStatusSettled, nil
	case errors.Is(err, models.ErrPaymentTooLow), errors.Is(err, models.ErrInvalidState):
		logrus.Warnf("[SETTLEMENT] Rejecting transfer for auction %s: %v", auctionID, err)
		return txStatusRejected, nil
	default:
		return "", err
	}
}

// toMinimalUnits converts a major-unit settlement amount to ledger
// minimal units.
func toMinimalUnits(value float64, decimals int) int64 {
	return int64(math.Round(value * math.Pow10(decimals)))
}

// ToXML renders an ISO 20022 document as an XML string with header.
func (s *SettlementService) ToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// BuildPacs008 constructs the pacs.008 credit transfer notification an
// invoice payer's bank would send for an auction: the end-to-end id
// carries the auction id and the settlement amount is in major units.
func BuildPacs008(auctionID, currency string, amount float64, debtorName, creditorName string) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgID := uuid.New().String()
	txID := uuid.New().String()
	now := time.Now()
	settlementDate := now

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(txID)}[0],
					EndToEndId: common.Max35Text(auctionID),
					TxId:       &[]common.Max35Text{common.Max35Text(txID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier("CROWDFCT")}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(debtorName)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text("CROWDFACTOR"),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(creditorName)}[0],
				},
			},
		},
	}
}

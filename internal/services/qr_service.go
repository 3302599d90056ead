package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/crowdfactor/backend/internal/models"
)

// PaymentReference is the payload encoded into the payment QR handed
// to the invoice payer's bank: which auction to reference and how much
// to settle.
type PaymentReference struct {
	AuctionID     string `json:"auctionId"`
	InvoiceNumber string `json:"invoiceNumber"`
	Currency      string `json:"currency"`
	Amount        int64  `json:"amount"`
	Nonce         string `json:"nonce"`
	Timestamp     int64  `json:"timestamp"`
}

// QRService renders payment references as QR PNGs. References exist
// only while the auction waits for its invoice payment; rendered codes
// are cached in Redis so repeated fetches reuse one nonce until the
// TTL lapses.
type QRService struct {
	auctions AuctionReader
	redis    *redis.Client
	ttl      time.Duration
}

func NewQRService(auctions AuctionReader, redisClient *redis.Client, ttl time.Duration) *QRService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QRService{
		auctions: auctions,
		redis:    redisClient,
		ttl:      ttl,
	}
}

// PaymentReferencePNG returns the QR code for an auction's expected
// invoice payment. Fails InvalidState unless the auction is waiting
// for that payment.
func (s *QRService) PaymentReferencePNG(ctx context.Context, auctionID string) ([]byte, error) {
	auction, err := s.auctions.Get(auctionID)
	if err != nil {
		return nil, err
	}
	if auction.Status != models.AuctionWaitingForInvoicePayment {
		return nil, fmt.Errorf("%w: auction %s is %s, payment reference requires %s",
			models.ErrInvalidState, auctionID, auction.Status, models.AuctionWaitingForInvoicePayment)
	}

	key := fmt.Sprintf("payment_ref:%s", auctionID)
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			return data, nil
		}
	}

	reference := PaymentReference{
		AuctionID:     auction.ID,
		InvoiceNumber: auction.InvoiceNumber,
		Currency:      auction.CurrencySymbol,
		Amount:        auction.InvoiceAmount,
		Nonce:         generateNonce(),
		Timestamp:     time.Now().Unix(),
	}
	payload, err := json.Marshal(reference)
	if err != nil {
		return nil, err
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, err
	}

	if s.redis != nil {
		// Cache failures only cost a regenerated nonce next fetch.
		s.redis.Set(ctx, key, buf.Bytes(), s.ttl)
	}
	return buf.Bytes(), nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

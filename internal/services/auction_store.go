package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/crowdfactor/backend/internal/models"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting the auction read path serve both locked and plain reads.
type querier interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

const auctionColumns = `id, currency_symbol, invoice_id, invoice_number, borrower_id,
		invoice_amount, funding_goal, platform_tax_percent, document_hash,
		status, winner_group_index, paid_amount,
		sent_to_beneficiary, sent_to_losing_groups, sent_to_winner_group,
		version, created_at, updated_at`

// loadAuctionForUpdate reads an auction with its row locked for the
// duration of the transaction. Every mutating auction operation takes
// this lock first, serializing writers per auction.
func loadAuctionForUpdate(tx *sql.Tx, id string) (*models.Auction, error) {
	return loadAuctionRecord(tx, id, true)
}

// loadAuction reads an auction without locking, for query endpoints.
func loadAuction(q querier, id string) (*models.Auction, error) {
	return loadAuctionRecord(q, id, false)
}

func loadAuctionRecord(q querier, id string, forUpdate bool) (*models.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var a models.Auction
	err := q.QueryRow(query, id).Scan(
		&a.ID, &a.CurrencySymbol, &a.InvoiceID, &a.InvoiceNumber, &a.BorrowerID,
		&a.InvoiceAmount, &a.FundingGoal, &a.PlatformTaxPercent, &a.DocumentHash,
		&a.Status, &a.WinnerGroupIndex, &a.PaidAmount,
		&a.SentToBeneficiary, &a.SentToLosingGroups, &a.SentToWinnerGroup,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: auction %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := loadGroups(q, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func loadGroups(q querier, a *models.Auction) error {
	rows, err := q.Query(`
		SELECT group_index, name, goal, amount_raised, tokens_returned
		FROM auction_groups
		WHERE auction_id = $1
		ORDER BY group_index`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		var g models.Group
		if err := rows.Scan(&idx, &g.Name, &g.Goal, &g.AmountRaised, &g.TokensReturned); err != nil {
			return err
		}
		if idx != len(a.Groups) {
			return fmt.Errorf("auction %s group rows not contiguous at %d", a.ID, idx)
		}
		a.Groups = append(a.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return loadBidders(q, a)
}

func loadBidders(q querier, a *models.Auction) error {
	rows, err := q.Query(`
		SELECT group_index, bidder_index, bidder_id, name, bid_amount, tokens_returned
		FROM auction_bidders
		WHERE auction_id = $1
		ORDER BY group_index, bidder_index`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var gi, bi int
		var b models.Bidder
		if err := rows.Scan(&gi, &bi, &b.BidderID, &b.Name, &b.BidAmount, &b.TokensReturned); err != nil {
			return err
		}
		if gi < 0 || gi >= len(a.Groups) || bi != len(a.Groups[gi].Bidders) {
			return fmt.Errorf("auction %s bidder rows not contiguous at %d/%d", a.ID, gi, bi)
		}
		a.Groups[gi].Bidders = append(a.Groups[gi].Bidders, b)
	}
	return rows.Err()
}

// insertAuction writes a freshly created auction record.
func insertAuction(tx *sql.Tx, a *models.Auction) error {
	_, err := tx.Exec(`
		INSERT INTO auctions (id, currency_symbol, invoice_id, invoice_number, borrower_id,
			invoice_amount, funding_goal, platform_tax_percent, document_hash,
			status, winner_group_index, paid_amount,
			sent_to_beneficiary, sent_to_losing_groups, sent_to_winner_group,
			version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.CurrencySymbol, a.InvoiceID, a.InvoiceNumber, a.BorrowerID,
		a.InvoiceAmount, a.FundingGoal, a.PlatformTaxPercent, a.DocumentHash,
		a.Status, a.WinnerGroupIndex, a.PaidAmount,
		a.SentToBeneficiary, a.SentToLosingGroups, a.SentToWinnerGroup,
		a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

// saveAuctionHeader persists the mutable auction columns and bumps the
// version. Zero rows affected means another writer got there first
// despite the row lock, which indicates a retry raced its own commit.
func saveAuctionHeader(tx *sql.Tx, a *models.Auction) error {
	result, err := tx.Exec(`
		UPDATE auctions
		SET status = $1, winner_group_index = $2, paid_amount = $3,
			sent_to_beneficiary = $4, sent_to_losing_groups = $5, sent_to_winner_group = $6,
			version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9`,
		a.Status, a.WinnerGroupIndex, a.PaidAmount,
		a.SentToBeneficiary, a.SentToLosingGroups, a.SentToWinnerGroup,
		time.Now(), a.ID, a.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for auction %s", a.ID)
	}

	a.Version++
	return nil
}

// saveGroup upserts one group row.
func saveGroup(tx *sql.Tx, auctionID string, groupIndex int, g *models.Group) error {
	_, err := tx.Exec(`
		INSERT INTO auction_groups (auction_id, group_index, name, goal, amount_raised, tokens_returned)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (auction_id, group_index)
		DO UPDATE SET amount_raised = EXCLUDED.amount_raised, tokens_returned = EXCLUDED.tokens_returned`,
		auctionID, groupIndex, g.Name, g.Goal, g.AmountRaised, g.TokensReturned)
	return err
}

// saveBidder upserts one bidder row.
func saveBidder(tx *sql.Tx, auctionID string, groupIndex, bidderIndex int, b *models.Bidder) error {
	_, err := tx.Exec(`
		INSERT INTO auction_bidders (auction_id, group_index, bidder_index, bidder_id, name, bid_amount, tokens_returned)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (auction_id, group_index, bidder_index)
		DO UPDATE SET bid_amount = EXCLUDED.bid_amount, tokens_returned = EXCLUDED.tokens_returned`,
		auctionID, groupIndex, bidderIndex, b.BidderID, b.Name, b.BidAmount, b.TokensReturned)
	return err
}

// saveLosingGroupFlags persists the tokens_returned flag of every
// losing group, in index order. Called after refund bookkeeping so the
// group-level cascade lands with the bidder rows.
func saveLosingGroupFlags(tx *sql.Tx, a *models.Auction) error {
	for gi := range a.Groups {
		if gi == a.WinnerGroupIndex {
			continue
		}
		if err := saveGroup(tx, a.ID, gi, &a.Groups[gi]); err != nil {
			return err
		}
	}
	return nil
}

// listAuctions returns auction header records, newest first, optionally
// filtered by status. Groups are loaded per auction via Get.
func listAuctions(db *sql.DB, status string, limit int) ([]models.Auction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + auctionColumns + ` FROM auctions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		var a models.Auction
		if err := rows.Scan(
			&a.ID, &a.CurrencySymbol, &a.InvoiceID, &a.InvoiceNumber, &a.BorrowerID,
			&a.InvoiceAmount, &a.FundingGoal, &a.PlatformTaxPercent, &a.DocumentHash,
			&a.Status, &a.WinnerGroupIndex, &a.PaidAmount,
			&a.SentToBeneficiary, &a.SentToLosingGroups, &a.SentToWinnerGroup,
			&a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

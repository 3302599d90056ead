package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func openAuction() *Auction {
	return &Auction{
		ID:                 "auc-1",
		CurrencySymbol:     "GBP",
		BorrowerID:         "borrower-1",
		InvoiceAmount:      5000,
		FundingGoal:        5000,
		PlatformTaxPercent: 5,
		Status:             AuctionOpen,
		WinnerGroupIndex:   NoWinnerIndex,
	}
}

func TestAuction_OpenBidding(t *testing.T) {
	t.Run("pending auction opens", func(t *testing.T) {
		a := openAuction()
		a.Status = AuctionPending

		err := a.OpenBidding()
		assert.NoError(t, err)
		assert.Equal(t, AuctionOpen, a.Status)
	})

	t.Run("reopening fails", func(t *testing.T) {
		a := openAuction()

		err := a.OpenBidding()
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, AuctionOpen, a.Status)
	})
}

func TestAuction_AddGroup(t *testing.T) {
	t.Run("groups get consecutive indexes", func(t *testing.T) {
		a := openAuction()

		first, err := a.AddGroup("Group A", 5000)
		assert.NoError(t, err)
		assert.Equal(t, 0, first)

		second, err := a.AddGroup("Group B", 5000)
		assert.NoError(t, err)
		assert.Equal(t, 1, second)
	})

	t.Run("rejected outside the bidding window", func(t *testing.T) {
		a := openAuction()
		a.Status = AuctionClosed

		_, err := a.AddGroup("Late", 5000)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Empty(t, a.Groups)
	})
}

func TestAuction_PlaceBid(t *testing.T) {
	t.Run("new bidder", func(t *testing.T) {
		a := openAuction()
		a.AddGroup("Group A", 5000)

		res, err := a.PlaceBid(0, "bidder-1", "Ada", 2000)
		assert.NoError(t, err)
		assert.True(t, res.NewBidder)
		assert.Equal(t, int64(2000), res.FinalValue)
		assert.Equal(t, int64(5000), res.GroupGoal)
		assert.False(t, res.GoalReached)
		assert.Equal(t, int64(2000), a.Groups[0].AmountRaised)
	})

	t.Run("re-bid accumulates", func(t *testing.T) {
		a := openAuction()
		a.AddGroup("Group A", 5000)
		a.PlaceBid(0, "bidder-1", "Ada", 2000)

		res, err := a.PlaceBid(0, "bidder-1", "Ada", 3000)
		assert.NoError(t, err)
		assert.False(t, res.NewBidder)
		assert.Equal(t, 0, res.BidderIndex)
		assert.Equal(t, int64(5000), res.FinalValue)
		assert.True(t, res.GoalReached)
		assert.Len(t, a.Groups[0].Bidders, 1)
		assert.Equal(t, int64(5000), a.Groups[0].AmountRaised)
	})

	t.Run("raise may exceed the goal", func(t *testing.T) {
		a := openAuction()
		a.AddGroup("Group A", 5000)
		a.PlaceBid(0, "bidder-1", "Ada", 4000)

		res, err := a.PlaceBid(0, "bidder-2", "Grace", 3000)
		assert.NoError(t, err)
		assert.True(t, res.GoalReached)
		assert.Equal(t, int64(7000), a.Groups[0].AmountRaised)
	})

	t.Run("unknown group", func(t *testing.T) {
		a := openAuction()

		_, err := a.PlaceBid(2, "bidder-1", "Ada", 100)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("closed auction rejects bids", func(t *testing.T) {
		a := openAuction()
		a.AddGroup("Group A", 5000)
		a.Status = AuctionClosed

		_, err := a.PlaceBid(0, "bidder-1", "Ada", 100)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("overflowing raise leaves the group untouched", func(t *testing.T) {
		a := openAuction()
		a.AddGroup("Group A", 5000)
		a.PlaceBid(0, "bidder-1", "Ada", math.MaxInt64)

		_, err := a.PlaceBid(0, "bidder-2", "Grace", 1)
		assert.ErrorIs(t, err, ErrArithmeticOverflow)
		assert.Len(t, a.Groups[0].Bidders, 1)
		assert.Equal(t, int64(math.MaxInt64), a.Groups[0].AmountRaised)
	})
}

func TestAuction_SelectWinner(t *testing.T) {
	t.Run("greatest raise among goal reachers", func(t *testing.T) {
		a := openAuction()
		a.Groups = []Group{
			{Name: "A", Goal: 5000, AmountRaised: 6000},
			{Name: "B", Goal: 5000, AmountRaised: 7000},
			{Name: "C", Goal: 9000, AmountRaised: 8000}, // short of goal
		}

		idx, ok := a.SelectWinner()
		assert.True(t, ok)
		assert.Equal(t, 1, idx)
	})

	t.Run("tie goes to the lowest index", func(t *testing.T) {
		a := openAuction()
		a.Groups = []Group{
			{Name: "A", Goal: 5000, AmountRaised: 5000},
			{Name: "B", Goal: 5000, AmountRaised: 5000},
		}

		idx, ok := a.SelectWinner()
		assert.True(t, ok)
		assert.Equal(t, 0, idx)
	})

	t.Run("no group reached its goal", func(t *testing.T) {
		a := openAuction()
		a.Groups = []Group{
			{Name: "A", Goal: 5000, AmountRaised: 4999},
		}

		_, ok := a.SelectWinner()
		assert.False(t, ok)
	})
}

func TestAuction_Close(t *testing.T) {
	t.Run("fixes the winner", func(t *testing.T) {
		a := openAuction()
		a.Groups = []Group{
			{Name: "A", Goal: 5000, AmountRaised: 2000},
			{Name: "B", Goal: 5000, AmountRaised: 5000},
		}

		assert.True(t, a.Close())
		assert.Equal(t, AuctionClosed, a.Status)
		assert.Equal(t, 1, a.WinnerGroupIndex)
	})

	t.Run("second close is a no-op and keeps the winner", func(t *testing.T) {
		a := openAuction()
		a.Groups = []Group{
			{Name: "A", Goal: 5000, AmountRaised: 5000},
		}

		assert.True(t, a.Close())
		winner := a.WinnerGroupIndex

		assert.False(t, a.Close())
		assert.Equal(t, winner, a.WinnerGroupIndex)
		assert.Equal(t, AuctionClosed, a.Status)
	})

	t.Run("no winner is a distinct terminal state", func(t *testing.T) {
		a := openAuction()
		a.Groups = []Group{
			{Name: "A", Goal: 5000, AmountRaised: 4000},
		}

		assert.True(t, a.Close())
		assert.Equal(t, AuctionNoWinner, a.Status)
		assert.Equal(t, NoWinnerIndex, a.WinnerGroupIndex)
	})
}

func TestAuction_Refunds(t *testing.T) {
	closedAuction := func() *Auction {
		a := openAuction()
		a.Groups = []Group{
			{Name: "A", Goal: 5000, AmountRaised: 2000, Bidders: []Bidder{
				{BidderID: "bidder-a1", Name: "Ada", BidAmount: 2000},
			}},
			{Name: "B", Goal: 5000, AmountRaised: 5000, Bidders: []Bidder{
				{BidderID: "bidder-b1", Name: "Grace", BidAmount: 3000},
				{BidderID: "bidder-b2", Name: "Edsger", BidAmount: 2000},
			}},
		}
		a.Close()
		return a
	}

	t.Run("only losing bidders are pending", func(t *testing.T) {
		a := closedAuction()

		items := a.PendingRefunds()
		assert.Len(t, items, 1)
		assert.Equal(t, 0, items[0].GroupIndex)
		assert.Equal(t, "bidder-a1", items[0].BidderID)
		assert.Equal(t, int64(2000), items[0].Amount)
	})

	t.Run("marking cascades group and auction flags", func(t *testing.T) {
		a := closedAuction()

		err := a.MarkRefunded(0, 0)
		assert.NoError(t, err)
		assert.True(t, a.Groups[0].TokensReturned)
		assert.True(t, a.SentToLosingGroups)
		assert.Empty(t, a.PendingRefunds())
	})

	t.Run("a refunded bidder is never pending again", func(t *testing.T) {
		a := closedAuction()
		a.MarkRefunded(0, 0)

		assert.Empty(t, a.PendingRefunds())
		err := a.MarkRefunded(0, 0)
		assert.NoError(t, err)
		assert.True(t, a.Groups[0].Bidders[0].TokensReturned)
	})

	t.Run("winner group is not refundable", func(t *testing.T) {
		a := closedAuction()

		err := a.MarkRefunded(1, 0)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.False(t, a.Groups[1].Bidders[0].TokensReturned)
	})

	t.Run("unknown indexes", func(t *testing.T) {
		a := closedAuction()

		assert.ErrorIs(t, a.MarkRefunded(7, 0), ErrNotFound)
		assert.ErrorIs(t, a.MarkRefunded(0, 7), ErrNotFound)
	})

	t.Run("no pending refunds while open", func(t *testing.T) {
		a := openAuction()
		a.AddGroup("A", 5000)
		a.PlaceBid(0, "bidder-1", "Ada", 100)

		assert.Empty(t, a.PendingRefunds())
	})

	t.Run("every group refunds when nobody won", func(t *testing.T) {
		a := openAuction()
		a.Groups = []Group{
			{Name: "A", Goal: 5000, AmountRaised: 2000, Bidders: []Bidder{{BidderID: "bidder-a1", BidAmount: 2000}}},
			{Name: "B", Goal: 5000, AmountRaised: 1000, Bidders: []Bidder{{BidderID: "bidder-b1", BidAmount: 1000}}},
		}
		a.Close()
		assert.Equal(t, AuctionNoWinner, a.Status)

		items := a.PendingRefunds()
		assert.Len(t, items, 2)
	})

	t.Run("empty losing group does not block completion", func(t *testing.T) {
		a := closedAuction()
		a.Groups = append(a.Groups, Group{Name: "C", Goal: 5000})

		a.MarkRefunded(0, 0)
		assert.True(t, a.SentToLosingGroups)
	})
}

func TestAuction_BeneficiaryAmount(t *testing.T) {
	t.Run("tax is floored and withheld", func(t *testing.T) {
		a := openAuction()
		a.PlatformTaxPercent = 3
		a.Groups = []Group{{Name: "B", Goal: 5000, AmountRaised: 5050}}
		a.WinnerGroupIndex = 0

		amount, err := a.BeneficiaryAmount()
		assert.NoError(t, err)
		// floor(5050 * 3 / 100) = 151 withheld
		assert.Equal(t, int64(4899), amount)
	})

	t.Run("no winner fixed", func(t *testing.T) {
		a := openAuction()

		_, err := a.BeneficiaryAmount()
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestAuction_RecordPayment(t *testing.T) {
	waiting := func() *Auction {
		a := openAuction()
		a.Status = AuctionWaitingForInvoicePayment
		a.WinnerGroupIndex = 0
		a.Groups = []Group{{Name: "B", Goal: 5000, AmountRaised: 5000, Bidders: []Bidder{{BidderID: "bidder-1", BidAmount: 5000}}}}
		return a
	}

	t.Run("payment advances the auction", func(t *testing.T) {
		a := waiting()

		err := a.RecordPayment(6000)
		assert.NoError(t, err)
		assert.Equal(t, int64(6000), a.PaidAmount)
		assert.Equal(t, AuctionPaymentReceived, a.Status)
	})

	t.Run("short payment changes nothing", func(t *testing.T) {
		a := waiting()

		err := a.RecordPayment(4999)
		assert.ErrorIs(t, err, ErrPaymentTooLow)
		assert.Equal(t, AuctionWaitingForInvoicePayment, a.Status)
		assert.Zero(t, a.PaidAmount)
	})

	t.Run("wrong status", func(t *testing.T) {
		a := waiting()
		a.Status = AuctionClosed

		err := a.RecordPayment(6000)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestAuction_Payouts(t *testing.T) {
	paid := func(bids []int64, paidAmount int64) *Auction {
		a := openAuction()
		g := Group{Name: "B", Goal: 1}
		for i, bid := range bids {
			g.Bidders = append(g.Bidders, Bidder{BidderID: string(rune('a' + i)), BidAmount: bid})
			g.AmountRaised += bid
		}
		a.Groups = []Group{g}
		a.WinnerGroupIndex = 0
		a.Status = AuctionPaymentReceived
		a.PaidAmount = paidAmount
		return a
	}

	t.Run("exact proportional split", func(t *testing.T) {
		a := paid([]int64{100, 300}, 1000)

		items := a.PendingPayouts()
		assert.Len(t, items, 2)
		assert.Equal(t, int64(250), items[0].Amount)
		assert.Equal(t, int64(750), items[1].Amount)

		var total int64
		for _, it := range items {
			total += it.Amount
		}
		assert.Equal(t, int64(1000), total)
	})

	t.Run("floor division retains the shortfall", func(t *testing.T) {
		a := paid([]int64{1, 1, 1}, 10)

		items := a.PendingPayouts()
		assert.Len(t, items, 3)
		var total int64
		for _, it := range items {
			assert.Equal(t, int64(3), it.Amount)
			total += it.Amount
		}
		// 1 unit stays on the system account, never redistributed
		assert.Equal(t, int64(9), total)
		assert.LessOrEqual(t, a.PaidAmount-total, int64(len(items)-1))
	})

	t.Run("paying out completes the auction", func(t *testing.T) {
		a := paid([]int64{100, 300}, 1000)

		assert.NoError(t, a.MarkPaidOut(0))
		assert.Equal(t, AuctionPaymentReceived, a.Status)

		assert.NoError(t, a.MarkPaidOut(1))
		assert.True(t, a.SentToWinnerGroup)
		assert.Equal(t, AuctionCompleted, a.Status)
		assert.Empty(t, a.PendingPayouts())
	})

	t.Run("paid bidders drop out of pending", func(t *testing.T) {
		a := paid([]int64{100, 300}, 1000)
		a.MarkPaidOut(0)

		items := a.PendingPayouts()
		assert.Len(t, items, 1)
		assert.Equal(t, 1, items[0].BidderIndex)
	})

	t.Run("unknown bidder index", func(t *testing.T) {
		a := paid([]int64{100}, 1000)

		assert.ErrorIs(t, a.MarkPaidOut(5), ErrNotFound)
	})

	t.Run("nothing pending before payment", func(t *testing.T) {
		a := paid([]int64{100}, 1000)
		a.Status = AuctionWaitingForInvoicePayment

		assert.Empty(t, a.PendingPayouts())
	})
}

func TestAuction_FullLifecycle(t *testing.T) {
	a := &Auction{
		ID:               "auc-gbp",
		CurrencySymbol:   "GBP",
		BorrowerID:       "borrower-1",
		InvoiceAmount:    5000,
		FundingGoal:      5000,
		Status:           AuctionPending,
		WinnerGroupIndex: NoWinnerIndex,
	}

	assert.NoError(t, a.OpenBidding())

	ga, _ := a.AddGroup("Group A", 5000)
	gb, _ := a.AddGroup("Group B", 5000)

	_, err := a.PlaceBid(ga, "bidder-a1", "Ada", 2000)
	assert.NoError(t, err)
	res, err := a.PlaceBid(gb, "bidder-b1", "Grace", 3000)
	assert.NoError(t, err)
	assert.False(t, res.GoalReached)
	res, err = a.PlaceBid(gb, "bidder-b2", "Edsger", 2000)
	assert.NoError(t, err)
	assert.True(t, res.GoalReached)

	assert.True(t, a.Close())
	assert.Equal(t, gb, a.WinnerGroupIndex)

	refunds := a.PendingRefunds()
	assert.Len(t, refunds, 1)
	assert.Equal(t, "bidder-a1", refunds[0].BidderID)
	assert.NoError(t, a.MarkRefunded(refunds[0].GroupIndex, refunds[0].BidderIndex))
	assert.Empty(t, a.PendingRefunds())

	amount, err := a.BeneficiaryAmount()
	assert.NoError(t, err)
	assert.Equal(t, int64(5000), amount) // no platform tax on this auction
	assert.NoError(t, a.MarkBeneficiaryFunded())
	assert.Equal(t, AuctionWaitingForInvoicePayment, a.Status)

	assert.ErrorIs(t, a.RecordPayment(4000), ErrPaymentTooLow)
	assert.NoError(t, a.RecordPayment(5000))

	payouts := a.PendingPayouts()
	assert.Len(t, payouts, 2)
	assert.Equal(t, int64(3000), payouts[0].Amount)
	assert.Equal(t, int64(2000), payouts[1].Amount)
	for _, p := range payouts {
		assert.NoError(t, a.MarkPaidOut(p.BidderIndex))
	}

	assert.Equal(t, AuctionCompleted, a.Status)
	assert.True(t, a.SentToBeneficiary)
	assert.True(t, a.SentToLosingGroups)
	assert.True(t, a.SentToWinnerGroup)
}

func TestProRataShare(t *testing.T) {
	t.Run("floors the quotient", func(t *testing.T) {
		assert.Equal(t, int64(250), ProRataShare(100, 1000, 400))
		assert.Equal(t, int64(3), ProRataShare(1, 10, 3))
	})

	t.Run("large operands do not overflow", func(t *testing.T) {
		// bid * paid exceeds int64, big.Int carries the product
		assert.Equal(t, int64(math.MaxInt64), ProRataShare(math.MaxInt64, math.MaxInt64, math.MaxInt64))
		assert.Equal(t, int64(4611686018427387903), ProRataShare(math.MaxInt64/2, math.MaxInt64, math.MaxInt64))
	})

	t.Run("empty raise pays nothing", func(t *testing.T) {
		assert.Zero(t, ProRataShare(1, 10, 0))
	})
}

func TestSafeAdd(t *testing.T) {
	sum, err := SafeAdd(math.MaxInt64-1, 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), sum)

	_, err = SafeAdd(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

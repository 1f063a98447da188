package gateway

import (
	"context"
	"testing"
	"time"

	"exit-systemv1/internal/model"
	"exit-systemv1/pkg/smartconnect"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrices struct {
	price decimal.Decimal
	err   error
}

func (s stubPrices) CurrentPrice(ctx context.Context, w model.Watchable) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.price, nil
}

func tickFor(w model.Watchable, price string) smartconnect.Tick {
	return smartconnect.Tick{
		Token:      w.SecurityID,
		Exchange:   smartconnect.ExchangeNSEFO,
		LTP:        decimal.RequireFromString(price),
		ExchangeTS: time.Now(),
	}
}

func optionWatchable() model.Watchable {
	return model.Watchable{
		Kind:       model.KindOption,
		SecurityID: "49081",
		Segment:    "NSE_FO",
		Symbol:     "NIFTY26SEP24500CE",
		Underlying: "NIFTY",
		OptionType: "CE",
		LotSize:    75,
	}
}

func TestSimFlattenFillsAtCurrentPrice(t *testing.T) {
	g := NewSim(stubPrices{price: decimal.RequireFromString("118.4")})
	p, err := model.NewPosition("ORD-1", optionWatchable(), model.DirectionLong, 75, decimal.NewFromInt(100))
	require.NoError(t, err)

	res, err := g.Flatten(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "118.4", res.ExitPrice.String())
	assert.NotEmpty(t, res.OrderRef)
	assert.Contains(t, res.OrderRef, "SIM-")
}

func TestSimPinnedPriceWinsOverDelegate(t *testing.T) {
	w := optionWatchable()
	g := NewSim(stubPrices{price: decimal.NewFromInt(100)})
	g.SetPrice(w, decimal.NewFromInt(150))

	price, err := g.CurrentPrice(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, "150", price.String())
}

func TestSimNoPriceSourceUnavailable(t *testing.T) {
	g := NewSim(nil)
	_, err := g.CurrentPrice(context.Background(), optionWatchable())
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)
}

func TestSimFlattenFailsWhenPriceUnavailable(t *testing.T) {
	g := NewSim(stubPrices{err: model.ErrPriceUnavailable})
	p, err := model.NewPosition("ORD-2", optionWatchable(), model.DirectionLong, 75, decimal.NewFromInt(100))
	require.NoError(t, err)

	_, err = g.Flatten(context.Background(), p)
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)
}

func TestExchangeMapping(t *testing.T) {
	assert.Equal(t, "NFO", restExchange("NSE_FO"))
	assert.Equal(t, "NSE", restExchange("NSE_CM"))
	assert.Equal(t, "NSE", restExchange("IDX_I"))
	assert.Equal(t, 2, feedExchangeType("NSE_FO"))
	assert.Equal(t, 1, feedExchangeType("IDX_I"))
}

func TestFeedPricesServesRecentTick(t *testing.T) {
	fp := NewFeedPrices(nil, nil)
	w := optionWatchable()
	fp.onTick(tickFor(w, "121.55"))

	price, err := fp.CurrentPrice(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, "121.55", price.String())
}

func TestFeedPricesUnknownTokenUnavailable(t *testing.T) {
	fp := NewFeedPrices(nil, nil)
	_, err := fp.CurrentPrice(context.Background(), optionWatchable())
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)
}

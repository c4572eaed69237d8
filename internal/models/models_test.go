package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMarketSnapshot(t *testing.T) {
	s := NewMarketSnapshot(
		1000,
		Quote{Bid: 2345.5, Ask: 2346.0, Size: "size_100k"},
		Quote{Bid: 2300.0, Ask: 2301.2, Size: "size_50k"},
		Ptr(0.0001), Ptr(0.00004),
		365,
		12,
	)

	assert.InDelta(t, 2345.5-2301.2, s.SpreadOpen, 1e-9)
	assert.InDelta(t, 2300.0-2346.0, s.SpreadClose, 1e-9)
	require.NotNil(t, s.FundingDiffRaw)
	require.NotNil(t, s.FundingDiffAnnual)
	assert.InDelta(t, 0.00006, *s.FundingDiffRaw, 1e-12)
	assert.InDelta(t, 0.00006*365, *s.FundingDiffAnnual, 1e-12)
	assert.Equal(t, "size_100k", s.QuoteSizePaxg)
	assert.Equal(t, "size_50k", s.QuoteSizeXaut)
}

func TestNewMarketSnapshotWithoutFunding(t *testing.T) {
	s := NewMarketSnapshot(1000, Quote{Bid: 1, Ask: 2}, Quote{Bid: 1, Ask: 2}, Ptr(0.1), nil, 365, 0)

	assert.Nil(t, s.FundingDiffRaw)
	assert.Nil(t, s.FundingDiffAnnual)
	require.NotNil(t, s.PaxgFunding)
}

func TestStatusCanAdvance(t *testing.T) {
	assert.True(t, StatusPendingConfirm.CanAdvance(StatusOpenConfirmed))
	assert.True(t, StatusOpenConfirmed.CanAdvance(StatusCloseSignalled))
	assert.True(t, StatusOpenConfirmed.CanAdvance(StatusClosed))
	assert.True(t, StatusCloseSignalled.CanAdvance(StatusClosed))

	assert.False(t, StatusOpenConfirmed.CanAdvance(StatusPendingConfirm))
	assert.False(t, StatusCloseSignalled.CanAdvance(StatusOpenConfirmed))
	assert.False(t, StatusClosed.CanAdvance(StatusClosed))
	assert.False(t, StatusPendingConfirm.CanAdvance(StatusClosed))
}

func TestPositionCloneIsDeep(t *testing.T) {
	p := &PositionRecord{PositionID: "a", CloseTrigger: Ptr(-39.0)}
	c := p.Clone()
	*c.CloseTrigger = 1

	assert.Equal(t, -39.0, *p.CloseTrigger)
}

func TestNormalizeChatIDs(t *testing.T) {
	assert.Equal(t, []int64{-5, 1, 7}, NormalizeChatIDs([]int64{7, 1, -5, 7}))
	assert.False(t, RuntimeConfig{}.IsAllowed(1))
	assert.True(t, RuntimeConfig{AllowedChatIDs: []int64{1}}.IsAllowed(1))
}

package models

const Pair = "PAXG_XAUT"

// Quote: лучшая цена одного инструмента на выбранном размере котировки.
type Quote struct {
	Bid  float64
	Ask  float64
	Size string
}

// MarketSnapshot: неизменяемый срез рынка за один опрос.
type MarketSnapshot struct {
	TsMs int64

	PaxgBid float64
	PaxgAsk float64
	XautBid float64
	XautAsk float64

	SpreadOpen  float64 // PAXG bid - XAUT ask
	SpreadClose float64 // XAUT bid - PAXG ask

	PaxgFunding       *float64
	XautFunding       *float64
	FundingDiffRaw    *float64
	FundingDiffAnnual *float64
	AnnualFactor      float64

	QuoteSizePaxg string
	QuoteSizeXaut string
	LatencyMs     int64
}

// NewMarketSnapshot считает спреды и разницу фандинга из сырых котировок.
func NewMarketSnapshot(
	tsMs int64,
	paxg, xaut Quote,
	paxgFunding, xautFunding *float64,
	annualFactor float64,
	latencyMs int64,
) MarketSnapshot {
	s := MarketSnapshot{
		TsMs:          tsMs,
		PaxgBid:       paxg.Bid,
		PaxgAsk:       paxg.Ask,
		XautBid:       xaut.Bid,
		XautAsk:       xaut.Ask,
		SpreadOpen:    paxg.Bid - xaut.Ask,
		SpreadClose:   xaut.Bid - paxg.Ask,
		PaxgFunding:   cloneFloat(paxgFunding),
		XautFunding:   cloneFloat(xautFunding),
		AnnualFactor:  annualFactor,
		QuoteSizePaxg: paxg.Size,
		QuoteSizeXaut: xaut.Size,
		LatencyMs:     latencyMs,
	}
	if paxgFunding != nil && xautFunding != nil {
		raw := *paxgFunding - *xautFunding
		annual := raw * annualFactor
		s.FundingDiffRaw = &raw
		s.FundingDiffAnnual = &annual
	}
	return s
}

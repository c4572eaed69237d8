package models

type PositionStatus string

const (
	StatusPendingConfirm PositionStatus = "PENDING_CONFIRM"
	StatusOpenConfirmed  PositionStatus = "OPEN_CONFIRMED"
	StatusCloseSignalled PositionStatus = "CLOSE_SIGNALLED"
	StatusClosed         PositionStatus = "CLOSED"
)

// ActiveStatuses: все нетерминальные статусы в порядке жизненного цикла.
var ActiveStatuses = []PositionStatus{
	StatusPendingConfirm,
	StatusOpenConfirmed,
	StatusCloseSignalled,
}

// OpenStatuses: позиции, которые можно закрыть.
var OpenStatuses = []PositionStatus{
	StatusOpenConfirmed,
	StatusCloseSignalled,
}

func (s PositionStatus) rank() int {
	switch s {
	case StatusPendingConfirm:
		return 1
	case StatusOpenConfirmed:
		return 2
	case StatusCloseSignalled:
		return 3
	case StatusClosed:
		return 4
	}
	return 0
}

func (s PositionStatus) Valid() bool { return s.rank() > 0 }

func (s PositionStatus) Terminal() bool { return s == StatusClosed }

// CanAdvance сообщает, является ли переход s -> next легальным шагом вперёд.
// OPEN_CONFIRMED может сразу уйти в CLOSED, минуя CLOSE_SIGNALLED.
func (s PositionStatus) CanAdvance(next PositionStatus) bool {
	switch s {
	case StatusPendingConfirm:
		return next == StatusOpenConfirmed
	case StatusOpenConfirmed:
		return next == StatusCloseSignalled || next == StatusClosed
	case StatusCloseSignalled:
		return next == StatusClosed
	}
	return false
}

// StatusIn ...
func StatusIn(s PositionStatus, set []PositionStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// PositionMetadata: контекст рынка в момент сигнала.
type PositionMetadata struct {
	SpreadClose       *float64 `json:"spread_close,omitempty"`
	FundingDiffAnnual *float64 `json:"funding_diff_annual,omitempty"`
}

// PositionRecord: одна подтверждаемая человеком сделка от сигнала до закрытия.
type PositionRecord struct {
	PositionID  string
	Status      PositionStatus
	CreatedAtTs int64
	UpdatedAtTs int64

	SignalSpread    float64
	SignalTs        int64
	LastOpenAlertTs *int64

	// заполняются начиная с OPEN_CONFIRMED
	EntrySpreadActual *float64
	OpenedAtConfirmTs *int64
	CloseTrigger      *float64

	CloseSignalledTs  *int64
	LastCloseAlertTs  *int64
	CloseSpreadActual *float64
	ClosedAtConfirmTs *int64
	ChatID            *int64

	Metadata PositionMetadata
}

// Clone возвращает глубокую копию, чтобы хранилища не делили указатели с вызывающим кодом.
func (p *PositionRecord) Clone() *PositionRecord {
	if p == nil {
		return nil
	}
	c := *p
	c.LastOpenAlertTs = cloneInt(p.LastOpenAlertTs)
	c.EntrySpreadActual = cloneFloat(p.EntrySpreadActual)
	c.OpenedAtConfirmTs = cloneInt(p.OpenedAtConfirmTs)
	c.CloseTrigger = cloneFloat(p.CloseTrigger)
	c.CloseSignalledTs = cloneInt(p.CloseSignalledTs)
	c.LastCloseAlertTs = cloneInt(p.LastCloseAlertTs)
	c.CloseSpreadActual = cloneFloat(p.CloseSpreadActual)
	c.ClosedAtConfirmTs = cloneInt(p.ClosedAtConfirmTs)
	c.ChatID = cloneInt(p.ChatID)
	c.Metadata = PositionMetadata{
		SpreadClose:       cloneFloat(p.Metadata.SpreadClose),
		FundingDiffAnnual: cloneFloat(p.Metadata.FundingDiffAnnual),
	}
	return &c
}

// PositionUpdate: поля, которые пишутся вместе со сменой статуса.
// nil означает «не трогать».
type PositionUpdate struct {
	UpdatedAtTs int64

	EntrySpreadActual *float64
	OpenedAtConfirmTs *int64
	CloseTrigger      *float64
	CloseSignalledTs  *int64
	LastCloseAlertTs  *int64
	CloseSpreadActual *float64
	ClosedAtConfirmTs *int64
	ChatID            *int64
}

// Apply переносит заданные поля в запись.
func (u PositionUpdate) Apply(p *PositionRecord) {
	p.UpdatedAtTs = u.UpdatedAtTs
	if u.EntrySpreadActual != nil {
		p.EntrySpreadActual = cloneFloat(u.EntrySpreadActual)
	}
	if u.OpenedAtConfirmTs != nil {
		p.OpenedAtConfirmTs = cloneInt(u.OpenedAtConfirmTs)
	}
	if u.CloseTrigger != nil {
		p.CloseTrigger = cloneFloat(u.CloseTrigger)
	}
	if u.CloseSignalledTs != nil {
		p.CloseSignalledTs = cloneInt(u.CloseSignalledTs)
	}
	if u.LastCloseAlertTs != nil {
		p.LastCloseAlertTs = cloneInt(u.LastCloseAlertTs)
	}
	if u.CloseSpreadActual != nil {
		p.CloseSpreadActual = cloneFloat(u.CloseSpreadActual)
	}
	if u.ClosedAtConfirmTs != nil {
		p.ClosedAtConfirmTs = cloneInt(u.ClosedAtConfirmTs)
	}
	if u.ChatID != nil {
		p.ChatID = cloneInt(u.ChatID)
	}
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Ptr ...
func Ptr[T any](v T) *T { return &v }

package models

type AlertType string

const (
	AlertOpenSignal        AlertType = "OPEN_SIGNAL"
	AlertOpenSignalRepeat  AlertType = "OPEN_SIGNAL_REPEAT"
	AlertCloseSignal       AlertType = "CLOSE_SIGNAL"
	AlertCloseSignalRepeat AlertType = "CLOSE_SIGNAL_REPEAT"
	AlertOpenConfirmed     AlertType = "OPEN_CONFIRMED"
	AlertCloseConfirmed    AlertType = "CLOSE_CONFIRMED"
	AlertAPIFailure        AlertType = "API_FAILURE"
)

// AlertRecord: запись журнала отправленных уведомлений.
type AlertRecord struct {
	AlertID    string
	TsMs       int64
	AlertType  AlertType
	PositionID string
	Message    string
	Spread     *float64
}

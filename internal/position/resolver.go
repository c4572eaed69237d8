package position

import "var_gold/internal/models"

type Outcome int

const (
	NotFound Outcome = iota
	Found
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	}
	return "not_found"
}

// Resolution: результат неявного выбора позиции.
type Resolution struct {
	Outcome  Outcome
	Position *models.PositionRecord
}

// ResolveSole выбирает единственного кандидата. Ноль или несколько: нет совпадения.
func ResolveSole(candidates []*models.PositionRecord) Resolution {
	switch len(candidates) {
	case 0:
		return Resolution{Outcome: NotFound}
	case 1:
		return Resolution{Outcome: Found, Position: candidates[0]}
	}
	return Resolution{Outcome: Ambiguous}
}

// ResolveLatest берёт последний по signal_ts (список уже отсортирован по возрастанию).
func ResolveLatest(candidates []*models.PositionRecord) Resolution {
	if len(candidates) == 0 {
		return Resolution{Outcome: NotFound}
	}
	return Resolution{Outcome: Found, Position: candidates[len(candidates)-1]}
}

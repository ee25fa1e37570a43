package agent

import (
	"math"

	"afml/internal/models"
)

// DefaultHoldThreshold - порог, ниже которого сигнал считается шумом
const DefaultHoldThreshold = 0.1

// Decision - результат интерпретации скалярного действия политики
type Decision struct {
	ActionType    string  `json:"action_type"` // long / short / hold
	Operation     string  `json:"operation"`
	ShouldExecute bool    `json:"should_execute"` // false для hold
	Intensity     float64 `json:"intensity"`      // |action|, доля сайзинга
}

// Interpret превращает действие в диапазоне [-1, 1] в торговую операцию
//
// |action| ниже порога - hold. Знак выбирает направление. Операция
// зависит от текущей позиции, причём противоположный сигнал при
// открытой позиции только закрывает её и никогда не разворачивает:
// разворот потребовал бы двух операций за один шаг.
func Interpret(action, holdThreshold float64, positionSide string) Decision {
	intensity := math.Abs(action)
	if intensity < holdThreshold {
		return Decision{
			ActionType: models.ActionHold,
			Operation:  models.OpHold,
			Intensity:  intensity,
		}
	}

	if action > 0 {
		return decideLong(intensity, positionSide)
	}
	return decideShort(intensity, positionSide)
}

func decideLong(intensity float64, positionSide string) Decision {
	d := Decision{
		ActionType:    models.ActionLong,
		ShouldExecute: true,
		Intensity:     intensity,
	}
	switch positionSide {
	case "":
		d.Operation = models.OpOpenLong
	case models.SideLong:
		d.Operation = models.OpIncreaseLong
	case models.SideShort:
		// Закрытие, не разворот
		d.Operation = models.OpCloseShort
	}
	return d
}

func decideShort(intensity float64, positionSide string) Decision {
	d := Decision{
		ActionType:    models.ActionShort,
		ShouldExecute: true,
		Intensity:     intensity,
	}
	switch positionSide {
	case "":
		d.Operation = models.OpOpenShort
	case models.SideShort:
		d.Operation = models.OpIncreaseShort
	case models.SideLong:
		d.Operation = models.OpCloseLong
	}
	return d
}

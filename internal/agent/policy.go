// Package agent содержит границу торговой политики и интерпретацию
// её скалярного действия в конкретную операцию.
package agent

import (
	"context"
	"fmt"
)

// Observation - вход политики на одном шаге торгового цикла
type Observation struct {
	Step         int64   `json:"step"`
	Price        float64 `json:"price"`
	Balance      float64 `json:"balance"`
	Equity       float64 `json:"equity"`
	PositionSide string  `json:"position_side,omitempty"` // "" если позиции нет
	PositionQty  float64 `json:"position_qty"`
	PositionPnL  float64 `json:"position_pnl"`
}

// Policy возвращает скалярное действие в диапазоне [-1, 1]
//
// Политика детерминирована: одно и то же наблюдение даёт одно и то же
// действие. Обучение и инференс модели - внешние коллабораторы,
// торговое ядро видит только этот интерфейс.
type Policy interface {
	Action(ctx context.Context, obs Observation) (float64, error)
}

// PolicyFunc адаптирует функцию к интерфейсу Policy
type PolicyFunc func(ctx context.Context, obs Observation) (float64, error)

// Action реализует Policy
func (f PolicyFunc) Action(ctx context.Context, obs Observation) (float64, error) {
	return f(ctx, obs)
}

// HoldPolicy всегда возвращает нулевое действие
// Используется для прогона инфраструктуры без торговой модели
type HoldPolicy struct{}

// Action реализует Policy
func (HoldPolicy) Action(ctx context.Context, obs Observation) (float64, error) {
	return 0, nil
}

// registry - именованные конструкторы политик для выбора в конфигурации
// Внешняя модель регистрируется здесь при сборке бинаря
var registry = map[string]func() Policy{
	"hold": func() Policy { return HoldPolicy{} },
}

// Register добавляет именованный конструктор политики
// Повторная регистрация имени перезаписывает предыдущую
func Register(name string, build func() Policy) {
	registry[name] = build
}

// New создаёт политику по имени из конфигурации
func New(name string) (Policy, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown policy %q", name)
	}
	return build(), nil
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Класс ошибки определяет поведение retry-цикла
//
// Transient: сетевые сбои, таймауты, rate limiting - повторяем с backoff
// Permanent: биржа отклонила запрос (плохие параметры, недостаточный
// баланс, невалидная подпись) - повтор бессмыслен, фейлимся сразу
type Class int

const (
	ClassTransient Class = iota
	ClassPermanent
)

// Config конфигурация retry логики
//
// Экспоненциальный backoff:
// после неудачной попытки k ждём InitialDelay * Multiplier^(k-1)
// (перед первой попыткой задержки нет, после последней - тоже)
//
// JitterFactor добавляет случайность чтобы избежать "thundering herd".
// Для детерминированных тестов ставится в 0.
type Config struct {
	// MaxAttempts - максимальное количество попыток (включая первую)
	MaxAttempts int

	// InitialDelay - задержка после первой неудачной попытки
	// По умолчанию: 100ms
	InitialDelay time.Duration

	// MaxDelay - максимальная задержка между попытками
	// По умолчанию: 30s
	MaxDelay time.Duration

	// Multiplier - множитель экспоненциального роста
	// По умолчанию: 2.0
	Multiplier float64

	// JitterFactor - фактор случайности (0.0 - 1.0)
	JitterFactor float64

	// Classify определяет класс ошибки (Transient/Permanent)
	// По умолчанию: DefaultClassify
	Classify func(error) Class

	// OnRetry - callback перед каждым повтором (для логирования и метрик)
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig подходит для большинства запросов к бирже:
// 4 попытки, задержки 100ms, 200ms, 400ms
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// AggressiveConfig для критичных операций (экстренное закрытие позиций):
// 6 попыток, задержки 50ms, 100ms, 200ms, 400ms, 800ms
func AggressiveConfig() Config {
	return Config{
		MaxAttempts:  6,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// ConservativeConfig для фонового опроса (снапшот аккаунта в мониторе):
// 3 попытки, задержки 500ms, 1s
func ConservativeConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.Classify == nil {
		c.Classify = DefaultClassify
	}
}

// delayAfter вычисляет задержку после неудачной попытки attempt (1-indexed)
func (c *Config) delayAfter(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		jitter := delay * c.JitterFactor * (rand.Float64()*2 - 1)
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

// ExhaustedError сигнализирует что бюджет попыток исчерпан на transient
// ошибках. Отличается от первой же permanent ошибки: caller может
// алертить по-разному ("биржа недоступна" vs "запрос отклонён").
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted проверяет является ли ошибка исчерпанием бюджета попыток
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Do выполняет операцию с повторными попытками
//
// Возвращает:
//   - nil: операция успешна
//   - permanent ошибку как есть, без повторов
//   - *ExhaustedError с последней transient ошибкой после MaxAttempts попыток
//
// Пример:
//
//	err := retry.Do(ctx, func() error {
//	    return exch.ClosePosition(ctx, symbol, qty)
//	}, retry.AggressiveConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
//
//	account, err := retry.DoWithResult(ctx, func() (*AccountInfo, error) {
//	    return exch.GetAccount(ctx)
//	}, retry.DefaultConfig())
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()

	var lastErr error
	var zero T

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		// Проверяем контекст перед каждой попыткой
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, ctx.Err()
		default:
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}

		// Permanent ошибка - повтор не может помочь, не тратим бюджет
		if cfg.Classify(err) == ClassPermanent {
			return zero, err
		}

		lastErr = err

		// Последняя попытка - не ждём
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delayAfter(attempt)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		// Ждём с возможностью отмены
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, lastErr
		}
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxAttempts, Last: lastErr}
}

// ============================================================
// Классификация ошибок
// ============================================================

// Classifiable интерфейс для ошибок знающих свой класс
type Classifiable interface {
	error
	Transient() bool
}

// DefaultClassify классифицирует ошибку по умолчанию
//
// Permanent если:
// - ошибка (или wrapped) реализует Classifiable и Transient() == false
// - ошибка контекста (cancel, deadline) - повтор бессмыслен
//
// Всё остальное (сетевые сбои, таймауты транспорта) считается transient.
func DefaultClassify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	var classifiable Classifiable
	if errors.As(err, &classifiable) {
		if classifiable.Transient() {
			return ClassTransient
		}
		return ClassPermanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	return ClassTransient
}

// ============================================================
// Wrapper errors
// ============================================================

// PermanentError оборачивает ошибку которую не нужно повторять
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func (e *PermanentError) Transient() bool {
	return false
}

// Permanent помечает ошибку как не подлежащую повтору
//
//	if validationError {
//	    return retry.Permanent(errors.New("invalid order size"))
//	}
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError оборачивает ошибку которую нужно повторять
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string {
	return e.Err.Error()
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

func (e *TemporaryError) Transient() bool {
	return true
}

// Temporary помечает ошибку как transient
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}

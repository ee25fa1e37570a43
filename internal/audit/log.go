// Package audit реализует журнал торговой сессии: два append-only CSV
// файла на сессию (шаги и экстренные события) плюс plain-text fallback
// для случая, когда даже запись экстренного CSV не удалась.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"afml/internal/models"
	"afml/pkg/utils"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	sessionLayout   = "20060102_150405"
)

// Схема файла шагов фиксирована: внешние инструменты анализа читают
// ровно эти колонки в этом порядке. Не переупорядочивать.
var stepHeader = []string{
	"timestamp", "paso", "action", "precio", "status",
	"balance", "equity", "max_drawdown", "pnl_total",
	"posicion_abierta", "tipo_posicion_activa", "precio_entrada_activa",
	"cantidad_activa", "pnl_no_realizado",
	"tipo_accion", "operacion", "resultado", "error",
	"trade_id", "precio_entrada", "cantidad",
	"cambio_verificado", "equity_previa", "equity_posterior",
}

var emergencyHeader = []string{
	"timestamp", "razon", "balance_final", "equity_final",
	"posiciones_cerradas", "detalles",
}

// SessionLog - журнал одной торговой сессии
//
// Все записи сериализуются мьютексом: журнал разделяют торговый цикл
// и монитор просадки. Файлы открываются при создании, заголовок
// пишется ровно один раз. Каждая запись сбрасывается на диск сразу -
// при аварийном завершении процесса журнал остаётся полным.
type SessionLog struct {
	mu sync.Mutex

	dir       string
	sessionID string

	stepsPath string
	stepsFile *os.File
	stepsW    *csv.Writer

	emergPath string
	emergFile *os.File
	emergW    *csv.Writer

	logger *utils.Logger
}

// NewSessionLog создаёт журнал новой сессии в каталоге dir
// Идентификатор сессии входит в имена обоих файлов
func NewSessionLog(dir string, startedAt time.Time) (*SessionLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	sessionID := startedAt.Format(sessionLayout)

	l := &SessionLog{
		dir:       dir,
		sessionID: sessionID,
		stepsPath: filepath.Join(dir, "registro_"+sessionID+".csv"),
		emergPath: filepath.Join(dir, "emergencias_"+sessionID+".csv"),
		logger:    utils.L().WithComponent("audit"),
	}

	var err error
	l.stepsFile, l.stepsW, err = openCSV(l.stepsPath, stepHeader)
	if err != nil {
		return nil, err
	}
	l.emergFile, l.emergW, err = openCSV(l.emergPath, emergencyHeader)
	if err != nil {
		l.stepsFile.Close()
		return nil, err
	}

	return l, nil
}

func openCSV(path string, header []string) (*os.File, *csv.Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	w := csv.NewWriter(f)

	// Заголовок только для нового файла
	info, err := f.Stat()
	if err == nil && info.Size() == 0 {
		if err := w.Write(header); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("write header %s: %w", path, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("flush header %s: %w", path, err)
		}
	}

	return f, w, nil
}

// SessionID возвращает идентификатор сессии
func (l *SessionLog) SessionID() string { return l.sessionID }

// StepsPath возвращает путь к файлу шагов
func (l *SessionLog) StepsPath() string { return l.stepsPath }

// EmergenciesPath возвращает путь к файлу экстренных событий
func (l *SessionLog) EmergenciesPath() string { return l.emergPath }

// AppendStep дописывает одну строку в файл шагов
//
// Ошибка возвращается вызывающему, но торговый цикл обязан её только
// залогировать: сбой журнала не останавливает торговлю.
func (l *SessionLog) AppendStep(rec *models.StepRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := stepRow(rec)
	if err := l.stepsW.Write(row); err != nil {
		return fmt.Errorf("append step %d: %w", rec.Step, err)
	}
	l.stepsW.Flush()
	if err := l.stepsW.Error(); err != nil {
		return fmt.Errorf("flush step %d: %w", rec.Step, err)
	}
	return nil
}

// AppendEmergency дописывает строку в файл экстренных событий
//
// Никогда не возвращает ошибку наружу: при сбое CSV событие
// сохраняется в plain-text fallback файл. Потеря записи об экстренном
// закрытии недопустима, пока хоть какой-то носитель доступен.
func (l *SessionLog) AppendEmergency(rec *models.EmergencyRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := []string{
		rec.Timestamp.Format(timestampLayout),
		rec.Reason,
		formatFloat(rec.FinalBalance),
		formatFloat(rec.FinalEquity),
		strconv.Itoa(rec.PositionsClosed),
		rec.Details,
	}

	err := l.emergW.Write(row)
	if err == nil {
		l.emergW.Flush()
		err = l.emergW.Error()
	}
	if err == nil {
		return
	}

	l.logger.Error("emergency csv write failed, using fallback: " + err.Error())
	l.writeFallback(rec)
}

// writeFallback пишет экстренное событие в текстовый файл
func (l *SessionLog) writeFallback(rec *models.EmergencyRecord) {
	path := filepath.Join(l.dir, "error_emergencia_"+l.sessionID+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Error("emergency fallback write failed: " + err.Error())
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "[%s] %s | balance=%s equity=%s closed=%d | %s\n",
		rec.Timestamp.Format(timestampLayout),
		rec.Reason,
		formatFloat(rec.FinalBalance),
		formatFloat(rec.FinalEquity),
		rec.PositionsClosed,
		rec.Details,
	)
}

// Close сбрасывает буферы и закрывает оба файла
func (l *SessionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stepsW.Flush()
	l.emergW.Flush()

	var firstErr error
	if err := l.stepsW.Error(); err != nil {
		firstErr = err
	}
	if err := l.emergW.Error(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.stepsFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.emergFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// stepRow сериализует запись шага в строку CSV
// Отсутствующие значения - пустой маркер, колонки никогда не сдвигаются
func stepRow(rec *models.StepRecord) []string {
	return []string{
		rec.Timestamp.Format(timestampLayout),
		strconv.FormatInt(rec.Step, 10),
		formatFloat(rec.Action),
		formatFloat(rec.Price),
		rec.Status,
		formatFloat(rec.Balance),
		formatFloat(rec.Equity),
		formatFloat(rec.MaxDrawdown),
		formatFloat(rec.TotalPnL),
		strconv.FormatBool(rec.PositionOpen),
		rec.PositionSide,
		formatFloatPtr(rec.PositionEntry),
		formatFloatPtr(rec.PositionQty),
		formatFloatPtr(rec.UnrealizedPnL),
		rec.ActionType,
		rec.Operation,
		formatBoolPtr(rec.Success),
		rec.Error,
		rec.TradeID,
		formatFloatPtr(rec.EntryPrice),
		formatFloatPtr(rec.Quantity),
		formatBoolPtr(rec.Verified),
		formatFloatPtr(rec.EquityBefore),
		formatFloatPtr(rec.EquityAfter),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatBoolPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

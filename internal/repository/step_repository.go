// Package repository зеркалирует журнал сессии в PostgreSQL для
// ретроспективного анализа. CSV остаётся первичным носителем: сбой
// зеркала не влияет на торговлю.
package repository

import (
	"database/sql"
	"errors"
	"time"

	"afml/internal/models"
)

// Ошибки репозитория шагов
var (
	ErrStepNotFound = errors.New("step not found")
)

// StepRepository - работа с таблицей steps
type StepRepository struct {
	db *sql.DB
}

// NewStepRepository создает новый экземпляр репозитория
func NewStepRepository(db *sql.DB) *StepRepository {
	return &StepRepository{db: db}
}

// Create создает запись о шаге торгового цикла
func (r *StepRepository) Create(sessionID string, rec *models.StepRecord) error {
	query := `
		INSERT INTO steps (session_id, step, ts, action, price, status, balance, equity, max_drawdown,
			position_open, position_side, action_type, operation, success, error_message, trade_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.Exec(
		query,
		sessionID,
		rec.Step,
		rec.Timestamp,
		rec.Action,
		rec.Price,
		rec.Status,
		rec.Balance,
		rec.Equity,
		rec.MaxDrawdown,
		rec.PositionOpen,
		nullString(rec.PositionSide),
		rec.ActionType,
		rec.Operation,
		nullBool(rec.Success),
		nullString(rec.Error),
		nullString(rec.TradeID),
	)
	return err
}

// GetBySession возвращает все шаги сессии в порядке выполнения
func (r *StepRepository) GetBySession(sessionID string) ([]*models.StepRecord, error) {
	query := `
		SELECT step, ts, action, price, status, balance, equity, max_drawdown,
			position_open, position_side, action_type, operation, success, error_message, trade_id
		FROM steps
		WHERE session_id = $1
		ORDER BY step`

	rows, err := r.db.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.StepRecord
	for rows.Next() {
		rec := &models.StepRecord{}
		var side, errMsg, tradeID sql.NullString
		var success sql.NullBool

		err := rows.Scan(
			&rec.Step,
			&rec.Timestamp,
			&rec.Action,
			&rec.Price,
			&rec.Status,
			&rec.Balance,
			&rec.Equity,
			&rec.MaxDrawdown,
			&rec.PositionOpen,
			&side,
			&rec.ActionType,
			&rec.Operation,
			&success,
			&errMsg,
			&tradeID,
		)
		if err != nil {
			return nil, err
		}

		rec.PositionSide = side.String
		rec.Error = errMsg.String
		rec.TradeID = tradeID.String
		if success.Valid {
			rec.Success = models.BoolPtr(success.Bool)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountBySession возвращает количество шагов сессии
func (r *StepRepository) CountBySession(sessionID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM steps WHERE session_id = $1`, sessionID).Scan(&count)
	return count, err
}

// EmergencyRepository - работа с таблицей emergencies
type EmergencyRepository struct {
	db *sql.DB
}

// NewEmergencyRepository создает новый экземпляр репозитория
func NewEmergencyRepository(db *sql.DB) *EmergencyRepository {
	return &EmergencyRepository{db: db}
}

// Create создает запись об экстренном закрытии
func (r *EmergencyRepository) Create(sessionID string, rec *models.EmergencyRecord) error {
	query := `
		INSERT INTO emergencies (session_id, ts, reason, final_balance, final_equity, positions_closed, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(
		query,
		sessionID,
		rec.Timestamp,
		rec.Reason,
		rec.FinalBalance,
		rec.FinalEquity,
		rec.PositionsClosed,
		nullString(rec.Details),
	)
	return err
}

// GetBySession возвращает экстренные события сессии
func (r *EmergencyRepository) GetBySession(sessionID string) ([]*models.EmergencyRecord, error) {
	query := `
		SELECT ts, reason, final_balance, final_equity, positions_closed, details
		FROM emergencies
		WHERE session_id = $1
		ORDER BY ts`

	rows, err := r.db.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.EmergencyRecord
	for rows.Next() {
		rec := &models.EmergencyRecord{}
		var details sql.NullString
		if err := rows.Scan(&rec.Timestamp, &rec.Reason, &rec.FinalBalance, &rec.FinalEquity, &rec.PositionsClosed, &details); err != nil {
			return nil, err
		}
		rec.Details = details.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

// LastDrawdownEmergency возвращает время последнего экстренного
// закрытия по просадке, zero time если его не было
// Используется гейтом перезапуска
func (r *EmergencyRepository) LastDrawdownEmergency() (time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(`
		SELECT ts FROM emergencies
		WHERE reason LIKE 'Max drawdown:%'
		ORDER BY ts DESC
		LIMIT 1`).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return ts, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

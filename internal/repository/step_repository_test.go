package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"afml/internal/models"
)

// ============================================================
// StepRepository Tests
// ============================================================

func TestNewStepRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewStepRepository(db)
	if repo == nil {
		t.Fatal("NewStepRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestStepRepositoryCreate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		rec         *models.StepRecord
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			rec: &models.StepRecord{
				Timestamp:   now,
				Step:        7,
				Action:      0.8,
				Price:       50000,
				Status:      models.StepStatusOK,
				Balance:     10000,
				Equity:      10100,
				MaxDrawdown: 0.02,
				ActionType:  models.ActionLong,
				Operation:   models.OpOpenLong,
				Success:     models.BoolPtr(true),
				TradeID:     "ord-1",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO steps`).
					WithArgs("20260314_103000", int64(7), now, 0.8, 50000.0, models.StepStatusOK,
						10000.0, 10100.0, 0.02, false, sqlmock.AnyArg(),
						models.ActionLong, models.OpOpenLong, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			rec: &models.StepRecord{
				Timestamp: now,
				Step:      8,
				Status:    models.StepStatusOK,
				Operation: models.OpHold,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO steps`).
					WillReturnError(errors.New("connection refused"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewStepRepository(db)
			err = repo.Create("20260314_103000", tt.rec)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestStepRepositoryGetBySession(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"step", "ts", "action", "price", "status", "balance", "equity", "max_drawdown",
		"position_open", "position_side", "action_type", "operation", "success", "error_message", "trade_id",
	}).
		AddRow(1, now, 0.0, 50000.0, models.StepStatusOK, 10000.0, 10000.0, 0.0,
			false, nil, models.ActionHold, models.OpHold, nil, nil, nil).
		AddRow(2, now, 0.8, 50100.0, models.StepStatusOK, 10000.0, 10050.0, 0.0,
			true, models.SideLong, models.ActionLong, models.OpOpenLong, true, nil, "ord-1")

	mock.ExpectQuery(`SELECT .* FROM steps`).
		WithArgs("20260314_103000").
		WillReturnRows(rows)

	repo := NewStepRepository(db)
	records, err := repo.GetBySession("20260314_103000")
	if err != nil {
		t.Fatalf("GetBySession() error = %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Operation != models.OpHold {
		t.Errorf("records[0].Operation = %q", records[0].Operation)
	}
	if records[0].Success != nil {
		t.Error("records[0].Success != nil for hold step")
	}
	if records[1].TradeID != "ord-1" {
		t.Errorf("records[1].TradeID = %q", records[1].TradeID)
	}
	if records[1].Success == nil || !*records[1].Success {
		t.Error("records[1].Success not restored")
	}
}

// ============================================================
// EmergencyRepository Tests
// ============================================================

func TestEmergencyRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectExec(`INSERT INTO emergencies`).
		WithArgs("20260314_103000", now, "Max drawdown: 18.00%", 8200.0, 8200.0, 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewEmergencyRepository(db)
	err = repo.Create("20260314_103000", &models.EmergencyRecord{
		Timestamp:       now,
		Reason:          "Max drawdown: 18.00%",
		FinalBalance:    8200,
		FinalEquity:     8200,
		PositionsClosed: 2,
		Details:         "all positions closed",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEmergencyRepositoryLastDrawdownEmergency(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 3, 14, 10, 45, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT ts FROM emergencies`).
		WillReturnRows(sqlmock.NewRows([]string{"ts"}).AddRow(ts))

	repo := NewEmergencyRepository(db)
	got, err := repo.LastDrawdownEmergency()
	if err != nil {
		t.Fatalf("LastDrawdownEmergency() error = %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("ts = %v, want %v", got, ts)
	}
}

func TestEmergencyRepositoryLastDrawdownEmergency_Empty(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT ts FROM emergencies`).
		WillReturnRows(sqlmock.NewRows([]string{"ts"}))

	repo := NewEmergencyRepository(db)
	got, err := repo.LastDrawdownEmergency()
	if err != nil {
		t.Fatalf("LastDrawdownEmergency() error = %v", err)
	}
	if !got.IsZero() {
		t.Errorf("ts = %v, want zero time", got)
	}
}

package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"afml/internal/models"
)

// Индексы колонок файла шагов (см. stepHeader)
const (
	colEquity      = 6
	colMaxDrawdown = 7
	colOperation   = 15
)

// ReadStats читает файл шагов и агрегирует статистику сессии
//
// Используется API статуса и восстановлением после рестарта. Файл
// читается с диска целиком: журнал - источник истины, а не память
// процесса.
func ReadStats(stepsPath string) (*models.SessionStats, error) {
	f, err := os.Open(stepsPath)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(stepHeader)

	// Заголовок
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return &models.SessionStats{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	stats := &models.SessionStats{}
	first := true

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		stats.TotalSteps++

		if op := row[colOperation]; op != "" && op != models.OpHold {
			stats.Operations++
		}

		equity, _ := strconv.ParseFloat(row[colEquity], 64)
		if first {
			stats.InitialEquity = equity
			first = false
		}
		stats.FinalEquity = equity

		dd, _ := strconv.ParseFloat(row[colMaxDrawdown], 64)
		if dd > stats.MaxDrawdown {
			stats.MaxDrawdown = dd
		}
	}

	return stats, nil
}

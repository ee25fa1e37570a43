package bot

// DrawdownTracker отслеживает просадку от пика equity
//
// Каждый владелец (торговый цикл, монитор) держит собственный экземпляр
// и не разделяет его ни с кем: единственное разделяемое состояние -
// EmergencyState. Tracker не потокобезопасен и не обязан им быть.
type DrawdownTracker struct {
	peak        float64
	drawdown    float64
	maxDrawdown float64
}

// Update учитывает новое значение equity и возвращает текущую просадку
//
// Просадка - доля от пика: (peak - equity) / peak. Пик только растёт;
// первый вызов устанавливает его без просадки.
func (t *DrawdownTracker) Update(equity float64) float64 {
	if equity > t.peak {
		t.peak = equity
	}

	if t.peak <= 0 {
		t.drawdown = 0
		return 0
	}

	t.drawdown = (t.peak - equity) / t.peak
	if t.drawdown < 0 {
		t.drawdown = 0
	}
	if t.drawdown > t.maxDrawdown {
		t.maxDrawdown = t.drawdown
	}
	return t.drawdown
}

// Drawdown возвращает текущую просадку
func (t *DrawdownTracker) Drawdown() float64 { return t.drawdown }

// MaxDrawdown возвращает максимальную просадку за сессию
func (t *DrawdownTracker) MaxDrawdown() float64 { return t.maxDrawdown }

// Peak возвращает пик equity
func (t *DrawdownTracker) Peak() float64 { return t.peak }

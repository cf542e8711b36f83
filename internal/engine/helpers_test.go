package engine

import (
	"time"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
)

func bar(ts time.Time, open, high, low, close float64) *models.Bar {
	return &models.Bar{
		Symbol:    "MES",
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    100,
	}
}

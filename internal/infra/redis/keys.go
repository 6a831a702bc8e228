package redis

import (
	"strconv"
	"time"
)

const (
	KeyPrefixUpdate     = "atr:update:"
	KeyPrefixConversion = "atr:conversion:"
)

// UpdateKey identifies a processed webhook update.
func UpdateKey(updateID int) string {
	return KeyPrefixUpdate + strconv.Itoa(updateID)
}

// ConversionKey identifies a user's conversion on a UTC day.
func ConversionKey(telegramUserID string, day time.Time) string {
	return KeyPrefixConversion + telegramUserID + ":" + day.UTC().Format("2006-01-02")
}

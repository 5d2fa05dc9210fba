package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// GenerateTransactionID returns a gateway-style payment reference.
func GenerateTransactionID() string {
	timestamp := time.Now().Unix()
	randomNum, err := rand.Int(rand.Reader, big.NewInt(999999999))
	if err != nil {
		return fmt.Sprintf("txn_%d_%s", timestamp, uuid.NewString()[:8])
	}
	return fmt.Sprintf("txn_%d_%09d", timestamp, randomNum.Int64())
}

func GenerateUUID() string {
	return uuid.NewString()
}

package common

import (
	"math/rand"
	"time"
)

// GenerateTrxNo returns a short random alphanumeric suffix used when
// building transaction and gateway order references.
func GenerateTrxNo() string {
	const characters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	result := make([]byte, 7)
	for i := range result {
		result[i] = characters[r.Intn(len(characters))]
	}
	return string(result)
}

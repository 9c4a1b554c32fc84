package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateTrxNo(t *testing.T) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		trx := GenerateTrxNo()
		assert.Len(t, trx, 7)
		for _, ch := range trx {
			assert.True(t, strings.ContainsRune(alphabet, ch), "unexpected character %c", ch)
		}
		seen[trx] = true
	}
	// Not a uniqueness guarantee, but 50 collisions would mean the
	// generator is broken.
	assert.Greater(t, len(seen), 1)
}

func TestPaginateResponse(t *testing.T) {
	data := []string{"item1", "item2"}

	res := PaginateResponse(data, 100, 1, 10, "")
	assert.Equal(t, "success", res.Message)
	assert.Equal(t, int64(100), res.Count)
	assert.Equal(t, 1, res.CurrentPage)
	assert.Equal(t, 10, res.LastPage)
	assert.Equal(t, 2, res.NextPage)
	assert.Equal(t, 0, res.PrevPage)

	// Last page has no next
	res = PaginateResponse(data, 100, 10, 10, "")
	assert.Equal(t, 0, res.NextPage)
	assert.Equal(t, 9, res.PrevPage)

	// Middle page links both ways
	res = PaginateResponse(data, 100, 5, 10, "Fee configurations fetched")
	assert.Equal(t, "Fee configurations fetched", res.Message)
	assert.Equal(t, 4, res.PrevPage)
	assert.Equal(t, 6, res.NextPage)

	// Partial last page still counts
	res = PaginateResponse(data, 101, 1, 10, "")
	assert.Equal(t, 11, res.LastPage)
}

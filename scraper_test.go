package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cpacia/cupforecast/ratings"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	assert.NoError(t, err)

	err = applyMigrations(db)
	assert.NoError(t, err)
	return db
}

func Test_seedRatings(t *testing.T) {
	db := openTestDB(t)

	err := seedRatings(db)
	assert.NoError(t, err)

	rows, meta, err := loadRatings(db)
	assert.NoError(t, err)
	assert.Len(t, rows, 64)
	assert.Equal(t, "ESP", rows[0].Code)
	assert.Equal(t, uint(1), meta.Version)
	assert.Equal(t, "seed", meta.Source)

	// A second seed leaves the stored snapshot alone.
	err = seedRatings(db)
	assert.NoError(t, err)
	_, meta, err = loadRatings(db)
	assert.NoError(t, err)
	assert.Equal(t, uint(1), meta.Version)
}

func Test_updateRatings(t *testing.T) {
	db := openTestDB(t)

	_, err := updateRatings(db, nil, "empty")
	assert.ErrorIs(t, err, ratings.ErrNoRows)

	meta, err := updateRatings(db, []ratings.Rating{
		{Rank: 1, Code: "BRA", Name: "Brazil", Rating: 2000},
		{Rank: 2, Code: "ARG", Name: "Argentina", Rating: 2100},
	}, "first")
	assert.NoError(t, err)
	assert.Equal(t, uint(1), meta.Version)

	meta, err = updateRatings(db, []ratings.Rating{
		{Rank: 1, Code: "ARG", Name: "Argentina", Rating: 2150},
	}, "second")
	assert.NoError(t, err)
	assert.Equal(t, uint(2), meta.Version)

	rows, stored, err := loadRatings(db)
	assert.NoError(t, err)
	assert.Equal(t, []ratings.Rating{{Rank: 1, Code: "ARG", Name: "Argentina", Rating: 2150}}, rows)
	assert.Equal(t, uint(2), stored.Version)
	assert.Equal(t, "second", stored.Source)

	var metas int64
	assert.NoError(t, db.Model(&RatingsMeta{}).Count(&metas).Error)
	assert.Equal(t, int64(1), metas)
}

func Test_refreshRatings(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, seedRatings(db))

	page := `<html><body><table class="ratings"><tbody>
<tr><td>1</td><td>FRA</td><td>France</td><td>2120</td></tr>
<tr><td>2</td><td>ENG</td><td>England</td><td>2080</td></tr>
<tr><td>3</td><td>NED</td><td>Netherlands</td><td>2010</td></tr>
</tbody></table></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer server.Close()

	meta, n, err := refreshRatings(db, server.URL)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint(2), meta.Version)
	assert.Equal(t, server.URL, meta.Source)

	rows, _, err := loadRatings(db)
	assert.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "FRA", rows[0].Code)
	assert.Equal(t, 2010.0, rows[2].Rating)

	// A failed fetch keeps what is stored.
	_, _, err = refreshRatings(db, server.URL+"/empty.tsv")
	assert.Error(t, err)
	rows, meta, err = loadRatings(db)
	assert.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, uint(2), meta.Version)
}

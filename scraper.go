package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/cpacia/cupforecast/ratings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// refreshRatings fetches ratings from url and replaces the stored snapshot.
func refreshRatings(db *gorm.DB, url string) (*RatingsMeta, int, error) {
	rows, err := ratings.Fetch(url)
	if err != nil {
		return nil, 0, err
	}
	meta, err := updateRatings(db, rows, url)
	if err != nil {
		return nil, 0, err
	}
	return meta, len(rows), nil
}

// updateRatings swaps the whole ratings table in one transaction and bumps
// the snapshot version.
func updateRatings(db *gorm.DB, rows []ratings.Rating, source string) (*RatingsMeta, error) {
	if len(rows) == 0 {
		return nil, ratings.ErrNoRows
	}
	dbRows := make([]*RatingRow, 0, len(rows))
	for _, r := range rows {
		dbRows = append(dbRows, &RatingRow{
			Rank:   r.Rank,
			Code:   r.Code,
			Name:   r.Name,
			Rating: r.Rating,
		})
	}

	meta := &RatingsMeta{}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("1 = 1").Delete(&RatingRow{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&dbRows).Error; err != nil {
			return err
		}

		err := tx.First(meta).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		meta.Version++
		meta.Source = source
		meta.Date = datatypes.Date(time.Now())
		return tx.Save(meta).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store ratings: %w", err)
	}
	return meta, nil
}

// seedRatings loads the built in snapshot into an empty database.
func seedRatings(db *gorm.DB) error {
	var n int64
	if err := db.Model(&RatingRow{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	rows, err := ratings.Seed()
	if err != nil {
		return err
	}
	_, err = updateRatings(db, rows, "seed")
	return err
}

// loadRatings returns the stored snapshot, best rated first.
func loadRatings(db *gorm.DB) ([]ratings.Rating, *RatingsMeta, error) {
	var rows []*RatingRow
	if err := db.Order("rating desc").Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	meta := &RatingsMeta{}
	if err := db.First(meta).Error; err != nil {
		return nil, nil, fmt.Errorf("ratings metadata: %w", err)
	}
	out := make([]ratings.Rating, len(rows))
	for i, r := range rows {
		out[i] = ratings.Rating{Rank: r.Rank, Code: r.Code, Name: r.Name, Rating: r.Rating}
	}
	return out, meta, nil
}

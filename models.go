package main

import (
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Credentials struct {
	Username string `json:"username" gorm:"index"`
	Password string `json:"password"`
}

type PWChangeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type DBCredentials struct {
	gorm.Model
	Username     string
	PasswordHash string
}

// RatingRow is one team in the current ratings snapshot.
type RatingRow struct {
	gorm.Model
	Rank   int     `json:"rank"`
	Code   string  `json:"code" gorm:"uniqueIndex"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
}

// RatingsMeta describes the stored snapshot. Version moves on every
// refresh and keys the simulation cache.
type RatingsMeta struct {
	gorm.Model
	Version uint           `json:"version"`
	Source  string         `json:"source"`
	Date    datatypes.Date `json:"date"`
}

// Scenario is a saved set of bracket locks.
type Scenario struct {
	gorm.Model
	UUID      string         `json:"id" gorm:"uniqueIndex"`
	Name      string         `json:"name" gorm:"uniqueIndex"`
	CreatedBy string         `json:"createdBy"`
	Locks     datatypes.JSON `json:"locks" gorm:"type:json"`
}

type OverrideRequest struct {
	MatchID int    `json:"matchId" validate:"required"`
	Team    string `json:"team" validate:"required"`
}

type ScenarioRequest struct {
	Name      string `json:"name" validate:"required,max=64"`
	SessionID string `json:"sessionId" validate:"required,uuid"`
}

type LoadScenarioRequest struct {
	SessionID string `json:"sessionId" validate:"required,uuid"`
}

type RefreshRequest struct {
	URL string `json:"url" validate:"omitempty,url"`
}

func applyMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&DBCredentials{},
		&RatingRow{},
		&RatingsMeta{},
		&Scenario{},
	)
}

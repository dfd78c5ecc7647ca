package repository

import "time"

// ReadConfig tunes the read side.
type ReadConfig struct {
	// ViewTTL bounds how long a cached public view may lag the database. Zero keeps entries forever.
	ViewTTL time.Duration
}

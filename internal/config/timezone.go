package config

import (
	"log"
	"time"
)

// Location resolves the reference timezone used for dayKey bucketing.
func Location(cfg Config) *time.Location {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("[config] unknown timezone %q, falling back to UTC", cfg.Timezone)
		return time.UTC
	}
	return loc
}

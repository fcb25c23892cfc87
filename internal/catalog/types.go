// types.go
package catalog

import "time"

// RawBanner is one banner as written in YAML. Pointer fields distinguish
// "unset, inherit the default" from an explicit zero.
type RawBanner struct {
	Version       string             `yaml:"version"`
	ID            string             `yaml:"id"`
	Name          string             `yaml:"name"`
	Type          string             `yaml:"type"`
	Rates         map[string]float64 `yaml:"rates,omitempty"`
	Pity          *PityConfig        `yaml:"pity,omitempty"`
	FeaturedItems []string           `yaml:"featured_items,omitempty"`
	Pool          []string           `yaml:"pool,omitempty"`
	FeaturedRate  *float64           `yaml:"featured_rate,omitempty"`
	Tokens        *TokenConfig       `yaml:"tokens,omitempty"`
	StartAt       *time.Time         `yaml:"start_at,omitempty"`
	EndAt         *time.Time         `yaml:"end_at,omitempty"`
	Notes         string             `yaml:"notes,omitempty"`
}

type PityConfig struct {
	SoftStart          *int     `yaml:"soft_start"`
	Hard               *int     `yaml:"hard"`
	SoftIncrease       *float64 `yaml:"soft_increase"`
	GuaranteeAfterLoss *bool    `yaml:"guarantee_after_loss"`
}

type TokenConfig struct {
	PerDraw           *int64   `yaml:"per_draw"`
	MultiPullSize     *int     `yaml:"multi_pull_size"`
	MultiPullDiscount *float64 `yaml:"multi_pull_discount"`
}

type RawItem struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Rarity string `yaml:"rarity"`
}

type itemsFile struct {
	Items []RawItem `yaml:"items"`
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StrategyGuards holds the tunable thresholds and caps shared by the event
// generators and the order placement layers.
type StrategyGuards struct {
	// Hedged pair opening/closing (strategies 2/3)
	MaxUnhedgedNotional           float64 `yaml:"max_unhedged_notional"`
	SpreadThresholdOpen           float64 `yaml:"spread_threshold_open"`
	SpreadThresholdClose          float64 `yaml:"spread_threshold_close"`
	SpreadThresholdOpenOffset     float64 `yaml:"spread_threshold_open_offset"`
	SpreadThresholdCloseOffset    float64 `yaml:"spread_threshold_close_offset"`
	MaxSizeNotional               float64 `yaml:"max_size_notional"`
	MinSizeNotional               float64 `yaml:"min_size_notional"`
	MaxPositionNotionalSize       float64 `yaml:"max_position_notional_size"`
	MaxPositionCount              int     `yaml:"max_position_count"`
	PositionCountThresholdSize    float64 `yaml:"position_count_threshold_notional_size"`
	Strategy3EventExpiryMs        int64   `yaml:"strategy_3_event_expiry_ms"`
	PairOrderType                 string  `yaml:"pair_order_type"` // limit_market | market_market
	BidOffset                     float64 `yaml:"bid_offset"`

	// Directional strategy (strategy 1)
	OpenOrderNotional             float64 `yaml:"open_order_notional"`
	MinOrderNotional              float64 `yaml:"min_order_notional"`
	ClosePositionLimitProfitRatio float64 `yaml:"close_position_limit_profit_ratio"`
	OpenOrderCancelAgeMs          int64   `yaml:"open_order_cancel_age_ms"`
	CloseOrderCancelAgeMs         int64   `yaml:"close_order_cancel_age_ms"`

	// Signal thresholds
	BpThresholdHigh     float64 `yaml:"bp_threshold_high"`     // |bp| below -> Normal
	BpThresholdCritical float64 `yaml:"bp_threshold_critical"` // |bp| below -> High, else Critical
	SignalCooldownMs    int64   `yaml:"signal_cooldown_ms"`
}

// DefaultStrategyGuards are the compiled-in production values.
func DefaultStrategyGuards() StrategyGuards {
	return StrategyGuards{
		MaxUnhedgedNotional:           100,
		SpreadThresholdOpen:           0.0020,
		SpreadThresholdClose:          0.0,
		SpreadThresholdOpenOffset:     0.0018,
		SpreadThresholdCloseOffset:    0.0002,
		MaxSizeNotional:               25,
		MinSizeNotional:               22,
		MaxPositionNotionalSize:       40,
		MaxPositionCount:              40,
		PositionCountThresholdSize:    5,
		Strategy3EventExpiryMs:        5000,
		PairOrderType:                 "market_market",
		BidOffset:                     1.0,
		OpenOrderNotional:             15,
		MinOrderNotional:              10,
		ClosePositionLimitProfitRatio: 1.0005,
		OpenOrderCancelAgeMs:          1100,
		CloseOrderCancelAgeMs:         5000,
		BpThresholdHigh:               5,
		BpThresholdCritical:           10,
		SignalCooldownMs:              1000,
	}
}

// LoadStrategyGuards reads guard overrides from a YAML file on top of the
// defaults. An empty path returns the defaults unchanged.
func LoadStrategyGuards(path string) (StrategyGuards, error) {
	guards := DefaultStrategyGuards()
	if path == "" {
		return guards, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return guards, fmt.Errorf("read strategy config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &guards); err != nil {
		return guards, fmt.Errorf("parse strategy config: %w", err)
	}
	return guards, nil
}

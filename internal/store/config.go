package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode             string `yaml:"mode"` // DRY_RUN or LIVE
	ExecutorID       string `yaml:"executor_id"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`

	Control struct {
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		Channel       string `yaml:"channel"`
	} `yaml:"control"`

	Terminal struct {
		URL                string `yaml:"url"`
		PoolSize           int    `yaml:"pool_size"`
		RequestTimeoutMs   int    `yaml:"request_timeout_ms"`
		ReadTimeoutMs      int    `yaml:"read_timeout_ms"` // lightweight GET_* requests
		PingTimeoutMs      int    `yaml:"ping_timeout_ms"`
		ReconnectSeconds   int    `yaml:"reconnect_seconds"`
		MaxConnectAttempts int    `yaml:"max_connect_attempts"` // 0 = unlimited
	} `yaml:"terminal"`

	RateLimit struct {
		WindowMs    int `yaml:"window_ms"`
		MaxRequests int `yaml:"max_requests"`
	} `yaml:"rate_limit"`

	Safety struct {
		MaxDailyLoss       float64  `yaml:"max_daily_loss"`
		MaxPositions       int      `yaml:"max_positions"`
		MaxLotSize         float64  `yaml:"max_lot_size"`
		MaxDrawdownPercent float64  `yaml:"max_drawdown_percent"`
		MaxTotalExposure   float64  `yaml:"max_total_exposure"`
		MaxCorrelation     float64  `yaml:"max_correlation"`
		MaxSpread          float64  `yaml:"max_spread"`
		RequireMarginCheck bool     `yaml:"require_margin_check"`
		CheckTradingHours  bool     `yaml:"check_trading_hours"`
		CheckNewsEvents    bool     `yaml:"check_news_events"`
		AllowedSessions    []string `yaml:"allowed_sessions"`
	} `yaml:"safety"`

	Emergency struct {
		LockMinutes          int     `yaml:"lock_minutes"`
		CriticalLockMinutes  int     `yaml:"critical_lock_minutes"`
		MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
		MaxErrorRate         float64 `yaml:"max_error_rate"`
	} `yaml:"emergency"`

	Queue struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"queue"`

	History struct {
		Size int `yaml:"size"`
	} `yaml:"history"`

	News struct {
		APIURL             string `yaml:"api_url"`
		CacheMinutes       int    `yaml:"cache_minutes"`
		PauseBeforeMinutes int    `yaml:"pause_before_minutes"`
		PauseAfterMinutes  int    `yaml:"pause_after_minutes"`
		HighImpactOnly     bool   `yaml:"high_impact_only"`
	} `yaml:"news"`

	Backup struct {
		Dir string `yaml:"dir"`
	} `yaml:"backup"`
}

// RequestTimeout returns the default per-request RPC deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Terminal.RequestTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the deadline for lightweight read requests.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Terminal.ReadTimeoutMs) * time.Millisecond
}

// RateWindow returns the sliding rate-limit window.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Terminal.URL == "" {
		return fmt.Errorf("terminal.url cannot be empty")
	}
	if c.Terminal.PoolSize <= 0 {
		return fmt.Errorf("terminal.pool_size must be positive, got %d", c.Terminal.PoolSize)
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowMs <= 0 {
		return fmt.Errorf("rate_limit window/max must be positive, got %dms/%d",
			c.RateLimit.WindowMs, c.RateLimit.MaxRequests)
	}
	if c.Safety.MaxLotSize <= 0 {
		return fmt.Errorf("safety.max_lot_size must be positive, got %.2f", c.Safety.MaxLotSize)
	}
	if c.Safety.MaxDrawdownPercent <= 0 || c.Safety.MaxDrawdownPercent > 100 {
		return fmt.Errorf("safety.max_drawdown_percent must be between 0-100, got %.2f", c.Safety.MaxDrawdownPercent)
	}
	if c.Terminal.MaxConnectAttempts < 0 {
		return fmt.Errorf("terminal.max_connect_attempts cannot be negative, got %d", c.Terminal.MaxConnectAttempts)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

func applyDefaults(c *Config) {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.HeartbeatSeconds == 0 {
		c.HeartbeatSeconds = 30
	}
	if c.Control.Channel == "" {
		c.Control.Channel = "executor-commands"
	}
	if c.Terminal.PoolSize == 0 {
		c.Terminal.PoolSize = 3
	}
	if c.Terminal.RequestTimeoutMs == 0 {
		c.Terminal.RequestTimeoutMs = 5000
	}
	if c.Terminal.ReadTimeoutMs == 0 {
		c.Terminal.ReadTimeoutMs = 3000
	}
	if c.Terminal.PingTimeoutMs == 0 {
		c.Terminal.PingTimeoutMs = 5000
	}
	if c.Terminal.ReconnectSeconds == 0 {
		c.Terminal.ReconnectSeconds = 10
	}
	if c.RateLimit.WindowMs == 0 {
		c.RateLimit.WindowMs = 60000
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.Safety.MaxDailyLoss == 0 {
		c.Safety.MaxDailyLoss = 500
	}
	if c.Safety.MaxPositions == 0 {
		c.Safety.MaxPositions = 10
	}
	if c.Safety.MaxLotSize == 0 {
		c.Safety.MaxLotSize = 1.0
	}
	if c.Safety.MaxDrawdownPercent == 0 {
		c.Safety.MaxDrawdownPercent = 20
	}
	if c.Emergency.LockMinutes == 0 {
		c.Emergency.LockMinutes = 30
	}
	if c.Emergency.CriticalLockMinutes == 0 {
		c.Emergency.CriticalLockMinutes = 60
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 1000
	}
	if c.History.Size == 0 {
		c.History.Size = 1000
	}
	if c.News.CacheMinutes == 0 {
		c.News.CacheMinutes = 30
	}
	if c.News.PauseBeforeMinutes == 0 {
		c.News.PauseBeforeMinutes = 30
	}
	if c.News.PauseAfterMinutes == 0 {
		c.News.PauseAfterMinutes = 30
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "backups"
	}
}

package config

import "time"

type Config struct {
	Web    Web
	DB     DB
	Cors   Cors
	Player Player
	Rate   Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type DB struct {
	User       string `conf:"default:postgres"`
	Password   string `conf:"default:postgres,mask"`
	Host       string `conf:"default:localhost"`
	Name       string `conf:"default:academy"`
	DisableTLS bool   `conf:"default:true"`
}

type Cors struct {
	Origin string `conf:"default:"`
}

// Player tunes the server-side watch trackers.
type Player struct {
	// SessionTTL is how long an idle tracker survives before the
	// registry tears it down and flushes its pending progress.
	SessionTTL    time.Duration `conf:"default:30m"`
	SweepInterval time.Duration `conf:"default:1m"`
}

type Rate struct {
	Burst    int     `conf:"default:10"`
	Expiry   int     `conf:"default:10"`
	LimitRPS float64 `conf:"default:5"`
}

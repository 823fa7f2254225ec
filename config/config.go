package config

import (
	"time"

	"github.com/ardanlabs/conf/v3"
)

type Web struct {
	Address         string        `conf:"default:0.0.0.0:3000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type Cors struct {
	Origin string
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost:5432"`
	Name         string `conf:"default:pengu"`
	MaxIdleConns int    `conf:"default:10"`
	MaxOpenConns int    `conf:"default:20"`
	DisableTLS   bool   `conf:"default:true"`
}

type Redis struct {
	URL     string `conf:"mask"`
	Channel string `conf:"default:pengu:realtime"`
}

type Auth struct {
	JWTSecret string `conf:"default:dev-secret,mask"`
}

type CPX struct {
	Secret string `conf:"default:cpx-secret,mask"`
}

type Stripe struct {
	WebhookSecret string `conf:"mask"`
}

type Withdrawal struct {
	TimeZone   string        `conf:"default:Asia/Dhaka"`
	RateBurst  int           `conf:"default:3"`
	RateEvery  time.Duration `conf:"default:20s"`
	RateExpiry time.Duration `conf:"default:10m"`
}

type Log struct {
	Level  string `conf:"default:info"`
	Format string `conf:"default:text"`
}

type Config struct {
	conf.Version
	Web        Web
	Cors       Cors
	DB         DB
	Redis      Redis
	Auth       Auth
	CPX        CPX
	Stripe     Stripe
	Withdrawal Withdrawal
	Log        Log
}

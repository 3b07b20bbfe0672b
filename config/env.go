package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Env は環境変数から読み込む接続先・秘密情報です。
type Env struct {
	Addr     string `env:"ATENDE_ADDR,default=:8080"`
	DBDriver string `env:"ATENDE_DB_DRIVER,default=sqlite3"`
	DBDSN    string `env:"ATENDE_DB_DSN,default=./atende.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"`

	JWTSecret       string `env:"ATENDE_JWT_SECRET"`
	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`

	AMQPURL      string `env:"ATENDE_AMQP_URL"`
	AMQPExchange string `env:"ATENDE_AMQP_EXCHANGE,default=atende.events"`
	RedisAddr    string `env:"ATENDE_REDIS_ADDR"`

	CheckoutURL           string `env:"CHECKOUT_URL"`
	CheckoutAPIKey        string `env:"CHECKOUT_API_KEY"`
	CheckoutWebhookSecret string `env:"CHECKOUT_WEBHOOK_SECRET"`
	CheckoutSuccessURL    string `env:"CHECKOUT_SUCCESS_URL,default=http://localhost:8080/checkout/ok"`
	CheckoutCancelURL     string `env:"CHECKOUT_CANCEL_URL,default=http://localhost:8080/checkout/cancel"`

	ChromeBin   string `env:"ATENDE_CHROME_BIN"`
	CompanyName string `env:"ATENDE_COMPANY_NAME,default=Memorial Pet"`
}

// LoadEnv は .env を読み込んだ後、環境変数を Env にデコードします。
// .env が存在しない場合は環境変数のみを使います。
func LoadEnv(path string) (Env, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return Env{}, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	var env Env
	if err := envdecode.Decode(&env); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Env{}, fmt.Errorf("failed to decode environment: %w", err)
	}
	return env, nil
}

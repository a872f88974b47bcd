package app

import (
	"time"

	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
	"github.com/yungbote/neurobridge-backend/internal/utils"
)

// Config holds every environment-tunable of spec §6's Configuration /
// Environment tables, loaded the way the teacher's app/config.go loads its
// own settings (utils.GetEnv* helpers, debug-logged lookups).
type Config struct {
	HTTPAddr string

	RedisAddr       string
	RedisKeyPrefix  string
	EventChannelPfx string

	ReconcileInterval   time.Duration
	MaxInFlightPerStage int
	LeaseTTLMultiplier  float64
	QueueOrderingStable bool

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	OperatorJWTSecret string

	RunServer       bool
	RunOrchestrator bool
	RunWorkers      bool
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		HTTPAddr: utils.GetEnv("HTTP_ADDR", ":8080", log),

		RedisAddr:       utils.GetEnv("REDIS_ADDR", "localhost:6379", log),
		RedisKeyPrefix:  utils.GetEnv("REDIS_KEY_PREFIX", "nanopore:steps:", log),
		EventChannelPfx: utils.GetEnv("EVENT_CHANNEL_PREFIX", "nanopore:events:", log),

		ReconcileInterval:   utils.GetEnvAsDuration("RECONCILE_INTERVAL", 5*time.Second, log),
		MaxInFlightPerStage: utils.GetEnvAsInt("MAX_IN_FLIGHT_PER_STAGE", 4, log),
		LeaseTTLMultiplier:  utils.GetEnvAsFloat("LEASE_TTL_MULTIPLIER", 2.0, log),
		QueueOrderingStable: utils.GetEnvAsBool("QUEUE_ORDERING_STABLE", true, log),

		RetryAttempts:  utils.GetEnvAsInt("RETRY_ATTEMPTS", 3, log),
		RetryBaseDelay: utils.GetEnvAsDuration("RETRY_BASE_DELAY", 1*time.Second, log),
		RetryMaxDelay:  utils.GetEnvAsDuration("RETRY_MAX_DELAY", 30*time.Second, log),

		OperatorJWTSecret: utils.GetEnv("OPERATOR_JWT_SECRET", "", log),

		RunServer:       utils.GetEnvAsBool("RUN_SERVER", true, log),
		RunOrchestrator: utils.GetEnvAsBool("RUN_ORCHESTRATOR", true, log),
		RunWorkers:      utils.GetEnvAsBool("RUN_WORKERS", true, log),
	}
}

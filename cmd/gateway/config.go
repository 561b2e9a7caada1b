package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"anomaly-gateway/middleware/anomaly/application"
	"anomaly-gateway/middleware/anomaly/domain"
	"anomaly-gateway/middleware/anomaly/infra"
)

type config struct {
	listenAddr  string
	upstreamURL string
	metricsAddr string
	logLevel    string

	rateWindow          time.Duration
	rateThreshold       int
	burstWindow         time.Duration
	burstThreshold      int
	connectionThreshold int
	softRateThreshold   int
	reaperInterval      time.Duration
	signatures          []string
	attackHeader        string
	rulesFile           string

	keyHeader  string
	trustXFF   bool
	failMode   application.FailMode
	retryAfter time.Duration
	addHeaders bool

	storeBackend string
	storeShards  int
	maxEntries   int
	sink         string

	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	sinkTTL       time.Duration
	streamMaxLen  int64

	recordWorkers   int
	recordQueue     int
	recordMaxPerSec float64
	recordBlocked   bool
	logFeatures     bool

	destIP   string
	destPort int
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.metricsAddr = os.Getenv("METRICS_ADDR")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")

	cfg.rateWindow = getenvDurationDefault("RATE_LIMIT_WINDOW", 60*time.Second)
	cfg.rateThreshold = getenvIntDefault("RATE_LIMIT_THRESHOLD", 100)
	cfg.burstWindow = getenvDurationDefault("BURST_WINDOW", 10*time.Second)
	cfg.burstThreshold = getenvIntDefault("BURST_THRESHOLD", 20)
	cfg.connectionThreshold = getenvIntDefault("CONNECTION_THRESHOLD", 50)
	cfg.softRateThreshold = getenvIntDefault("SOFT_RATE_THRESHOLD", 30)
	cfg.reaperInterval = getenvDurationDefault("REAPER_INTERVAL", 60*time.Second)
	if v, ok := os.LookupEnv("SIGNATURES"); ok {
		// SIGNATURES="" desliga a checagem de User-Agent
		cfg.signatures = splitList(v)
	}
	cfg.attackHeader = getenvDefault("ATTACK_HEADER", domain.DefaultAttackHeader)
	cfg.rulesFile = os.Getenv("RULES_FILE")

	cfg.keyHeader = os.Getenv("KEY_HEADER")
	// IMPORTANTE: X-Forwarded-For é definido pelo cliente. O padrão true só faz
	// sentido atrás de um proxy que sobrescreve o header.
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", true)
	failMode, err := application.ParseFailMode(os.Getenv("FAIL_MODE"))
	if err != nil {
		return config{}, fmt.Errorf("FAIL_MODE: %w", err)
	}
	cfg.failMode = failMode
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_ANOMALY_HEADERS", false)

	cfg.storeBackend = strings.ToLower(getenvDefault("STORE_BACKEND", "memory"))
	cfg.storeShards = getenvIntDefault("STORE_SHARDS", 32)
	cfg.maxEntries = getenvIntDefault("STORE_MAX_ENTRIES", infra.DefaultMaxEntries)
	cfg.sink = strings.ToLower(getenvDefault("SINK", "log"))

	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "anomaly")
	cfg.sinkTTL = getenvDurationDefault("SINK_TTL", 24*time.Hour)
	cfg.streamMaxLen = int64(getenvIntDefault("SINK_STREAM_MAXLEN", 100000))

	cfg.recordWorkers = getenvIntDefault("RECORD_WORKERS", 4)
	cfg.recordQueue = getenvIntDefault("RECORD_QUEUE", 1024)
	cfg.recordMaxPerSec = getenvFloatDefault("RECORD_MAX_PER_SEC", 0)
	cfg.recordBlocked = getenvBoolDefault("RECORD_BLOCKED", false)
	cfg.logFeatures = getenvBoolDefault("LOG_FEATURES", false)

	destHost, destPort, err := net.SplitHostPort(getenvDefault("DEST_ADDR", "127.0.0.1:8000"))
	if err != nil {
		return config{}, fmt.Errorf("DEST_ADDR: %w", err)
	}
	cfg.destIP = destHost
	cfg.destPort, err = strconv.Atoi(destPort)
	if err != nil {
		return config{}, fmt.Errorf("DEST_ADDR: invalid port %q", destPort)
	}

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateWindow <= 0 || cfg.burstWindow <= 0 {
		return config{}, errors.New("RATE_LIMIT_WINDOW and BURST_WINDOW must be > 0")
	}
	if cfg.burstWindow > cfg.rateWindow {
		return config{}, errors.New("BURST_WINDOW must not exceed RATE_LIMIT_WINDOW")
	}
	if cfg.rateThreshold <= 0 || cfg.burstThreshold <= 0 || cfg.connectionThreshold <= 0 || cfg.softRateThreshold <= 0 {
		return config{}, errors.New("thresholds must be > 0")
	}
	if cfg.reaperInterval <= 0 {
		return config{}, errors.New("REAPER_INTERVAL must be > 0")
	}
	switch cfg.storeBackend {
	case "memory", "redis":
	default:
		return config{}, fmt.Errorf("STORE_BACKEND must be memory or redis, got %q", cfg.storeBackend)
	}
	switch cfg.sink {
	case "log", "memory", "redis":
	default:
		return config{}, fmt.Errorf("SINK must be log, memory or redis, got %q", cfg.sink)
	}
	if cfg.needsRedis() && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when STORE_BACKEND=redis or SINK=redis")
	}
	if cfg.storeShards <= 0 {
		return config{}, errors.New("STORE_SHARDS must be > 0")
	}
	if cfg.maxEntries <= 0 {
		return config{}, errors.New("STORE_MAX_ENTRIES must be > 0")
	}
	if cfg.maxCount() > 0 && cfg.rateThreshold >= cfg.maxCount() {
		// a contagem da store satura em STORE_MAX_ENTRIES
		return config{}, fmt.Errorf("RATE_LIMIT_THRESHOLD (%d) must be below STORE_MAX_ENTRIES (%d)", cfg.rateThreshold, cfg.maxEntries)
	}
	if cfg.recordWorkers <= 0 || cfg.recordQueue <= 0 {
		return config{}, errors.New("RECORD_WORKERS and RECORD_QUEUE must be > 0")
	}
	return cfg, nil
}

func (c config) needsRedis() bool {
	return c.storeBackend == "redis" || c.sink == "redis"
}

// maxCount é o teto da contagem por cliente; só a store em memória tem um.
func (c config) maxCount() int {
	if c.storeBackend == "memory" {
		return c.maxEntries
	}
	return 0
}

// rules monta as regras a partir do ambiente. RULES_FILE, se definido, tem
// precedência e é lido em main.
func (c config) rules() domain.Rules {
	sigs := c.signatures
	if sigs == nil {
		sigs = domain.DefaultSignatures()
	}
	return domain.Rules{
		Thresholds: domain.Thresholds{
			RateLimit:   c.rateThreshold,
			Burst:       c.burstThreshold,
			Connections: c.connectionThreshold,
			SoftRate:    c.softRateThreshold,
		},
		Signatures:   sigs,
		AttackHeader: c.attackHeader,
	}.Normalize()
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

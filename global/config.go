package global

import (
	"os"
	"strconv"
	"time"
)

// Config is the process configuration, loaded once in main() and passed
// by reference into the server and session manager constructors.
type Config struct {
	Addr      string // HTTP/WS listen address
	StaticDir string // static file root; empty disables static serving

	SessionTTL   time.Duration
	Debounce     time.Duration // session write-back coalescing window
	CleanupEvery time.Duration // fallback map sweep interval
	Namespace    string        // fast tier key prefix

	StreamHighWater int // upload reconstructor buffer bound, bytes

	RedisAddr     string // empty disables the fast tier
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	MongoURI      string // empty disables the durable tier
	MongoDatabase string

	NATSURL     string // empty disables invalidation fan-out
	NATSSubject string

	JWTSecret []byte
	NodeID    int64
}

func Load() *Config {
	return &Config{
		Addr:      getEnv("ADDR", ":8080"),
		StaticDir: getEnv("STATIC_DIR", ""),

		SessionTTL:   getDuration("SESSION_TTL", 2*time.Hour),
		Debounce:     getDuration("SESSION_DEBOUNCE", 100*time.Millisecond),
		CleanupEvery: getDuration("SESSION_CLEANUP_EVERY", 5*time.Minute),
		Namespace:    getEnv("SESSION_NAMESPACE", "sess:"),

		StreamHighWater: getInt("STREAM_HIGH_WATER", 1<<20),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		RedisPoolSize: getInt("REDIS_POOL_SIZE", 20),

		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "gproject"),

		NATSURL:     getEnv("NATS_URL", ""),
		NATSSubject: getEnv("NATS_SUBJECT", "session.invalidate"),

		JWTSecret: []byte(getEnv("JWT_SECRET", "dev-only-secret-change-me")),
		NodeID:    int64(getInt("NODE_ID", 1)),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

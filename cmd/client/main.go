package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/classroom/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

func (v configVar[T]) bind() {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

var (
	sessionID = configVar[int64]{
		envKey:  "CLASSROOM_SESSION_ID",
		flagKey: "session-id",
		usage:   "Session to join",
	}
	userID = configVar[int64]{
		envKey:  "CLASSROOM_USER_ID",
		flagKey: "user-id",
		usage:   "User id sent with every request",
	}
	role = configVar[string]{
		envKey:       "CLASSROOM_ROLE",
		flagKey:      "role",
		defaultValue: "student",
		usage:        "teacher or student",
	}
	displayName = configVar[string]{
		envKey:  "CLASSROOM_DISPLAY_NAME",
		flagKey: "display-name",
		usage:   "Name shown on locally echoed chat messages",
	}
	joinOnStart = configVar[bool]{
		envKey:  "CLASSROOM_JOIN",
		flagKey: "join",
		usage:   "Join the session over REST before connecting",
	}
	backendURL = configVar[string]{
		envKey:       "CLASSROOM_BACKEND_URL",
		flagKey:      "backend-url",
		defaultValue: "http://localhost:8000",
		usage:        "Backend base url",
	}
	backendTimeout = configVar[time.Duration]{
		envKey:       "CLASSROOM_BACKEND_TIMEOUT",
		flagKey:      "backend-timeout",
		defaultValue: 10 * time.Second,
		usage:        "Timeout of backend REST calls",
	}
	transportKind = configVar[string]{
		envKey:       "CLASSROOM_TRANSPORT",
		flagKey:      "transport",
		defaultValue: "websocket",
		usage:        "websocket or sse",
	}
	reconnectBackoff = configVar[time.Duration]{
		envKey:       "CLASSROOM_RECONNECT_BACKOFF",
		flagKey:      "reconnect-backoff",
		defaultValue: 2 * time.Second,
		usage:        "Delay between reconnect attempts",
	}
	iceDebounce = configVar[time.Duration]{
		envKey:       "CLASSROOM_ICE_DEBOUNCE",
		flagKey:      "ice-debounce",
		defaultValue: 150 * time.Millisecond,
		usage:        "Window for batching local ICE candidates",
	}
	iceServers = configVar[[]string]{
		envKey:       "CLASSROOM_ICE_SERVERS",
		flagKey:      "ice-servers",
		defaultValue: []string{"stun:stun.l.google.com:19302"},
		usage:        "STUN/TURN urls",
	}
	captureEnabled = configVar[bool]{
		envKey:       "CLASSROOM_CAPTURE",
		flagKey:      "capture",
		defaultValue: true,
		usage:        "Send a local audio track",
	}
	host = configVar[string]{
		envKey:       "CLASSROOM_HOST",
		flagKey:      "host",
		defaultValue: "127.0.0.1",
		usage:        "Control api host",
	}
	port = configVar[int]{
		envKey:       "CLASSROOM_PORT",
		flagKey:      "port",
		defaultValue: 8090,
		usage:        "Control api port, 0 disables it",
	}
	logLevel = configVar[string]{
		envKey:       "CLASSROOM_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	redisHost = configVar[string]{
		envKey:  "REDIS_HOST",
		flagKey: "redis-host",
		usage:   "Redis host for the journal, empty disables it",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
		usage:        "Redis port",
	}
	redisPassword = configVar[string]{
		envKey:  "REDIS_PASSWORD",
		flagKey: "redis-password",
		usage:   "Redis password",
	}
	journalMaxLen = configVar[int64]{
		envKey:       "CLASSROOM_JOURNAL_MAX_LEN",
		flagKey:      "journal-max-len",
		defaultValue: 10000,
		usage:        "Journal entries kept per session in redis",
	}
	journalTTL = configVar[time.Duration]{
		envKey:       "CLASSROOM_JOURNAL_TTL",
		flagKey:      "journal-ttl",
		defaultValue: 24 * time.Hour,
		usage:        "Expiry of the redis journal keys",
	}
	postgresDSN = configVar[string]{
		envKey:  "POSTGRES_DSN",
		flagKey: "postgres-dsn",
		usage:   "Postgres dsn for session_logs, empty disables it",
	}
	natsURL = configVar[string]{
		envKey:  "NATS_URL",
		flagKey: "nats-url",
		usage:   "NATS url for notifications, empty disables it",
	}
	natsPrefix = configVar[string]{
		envKey:       "NATS_SUBJECT_PREFIX",
		flagKey:      "nats-prefix",
		defaultValue: "classroom.sessions",
		usage:        "NATS subject prefix",
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.Int64(sessionID.flagKey, sessionID.defaultValue, sessionID.usage)
	pflag.Int64(userID.flagKey, userID.defaultValue, userID.usage)
	pflag.String(role.flagKey, role.defaultValue, role.usage)
	pflag.String(displayName.flagKey, displayName.defaultValue, displayName.usage)
	pflag.Bool(joinOnStart.flagKey, joinOnStart.defaultValue, joinOnStart.usage)
	pflag.String(backendURL.flagKey, backendURL.defaultValue, backendURL.usage)
	pflag.Duration(backendTimeout.flagKey, backendTimeout.defaultValue, backendTimeout.usage)
	pflag.String(transportKind.flagKey, transportKind.defaultValue, transportKind.usage)
	pflag.Duration(reconnectBackoff.flagKey, reconnectBackoff.defaultValue, reconnectBackoff.usage)
	pflag.Duration(iceDebounce.flagKey, iceDebounce.defaultValue, iceDebounce.usage)
	pflag.StringSlice(iceServers.flagKey, iceServers.defaultValue, iceServers.usage)
	pflag.Bool(captureEnabled.flagKey, captureEnabled.defaultValue, captureEnabled.usage)
	pflag.String(host.flagKey, host.defaultValue, host.usage)
	pflag.Int(port.flagKey, port.defaultValue, port.usage)
	pflag.String(logLevel.flagKey, logLevel.defaultValue, logLevel.usage)
	pflag.String(redisHost.flagKey, redisHost.defaultValue, redisHost.usage)
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, redisPort.usage)
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, redisPassword.usage)
	pflag.Int64(journalMaxLen.flagKey, journalMaxLen.defaultValue, journalMaxLen.usage)
	pflag.Duration(journalTTL.flagKey, journalTTL.defaultValue, journalTTL.usage)
	pflag.String(postgresDSN.flagKey, postgresDSN.defaultValue, postgresDSN.usage)
	pflag.String(natsURL.flagKey, natsURL.defaultValue, natsURL.usage)
	pflag.String(natsPrefix.flagKey, natsPrefix.defaultValue, natsPrefix.usage)
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	sessionID.bind()
	userID.bind()
	role.bind()
	displayName.bind()
	joinOnStart.bind()
	backendURL.bind()
	backendTimeout.bind()
	transportKind.bind()
	reconnectBackoff.bind()
	iceDebounce.bind()
	iceServers.bind()
	captureEnabled.bind()
	host.bind()
	port.bind()
	logLevel.bind()
	redisHost.bind()
	redisPort.bind()
	redisPassword.bind()
	journalMaxLen.bind()
	journalTTL.bind()
	postgresDSN.bind()
	natsURL.bind()
	natsPrefix.bind()

	config := &app.AppConfig{
		SessionID:        viper.GetInt64(sessionID.flagKey),
		UserID:           viper.GetInt64(userID.flagKey),
		Role:             viper.GetString(role.flagKey),
		DisplayName:      viper.GetString(displayName.flagKey),
		JoinOnStart:      viper.GetBool(joinOnStart.flagKey),
		BackendURL:       viper.GetString(backendURL.flagKey),
		BackendTimeout:   viper.GetDuration(backendTimeout.flagKey),
		Transport:        viper.GetString(transportKind.flagKey),
		ReconnectBackoff: viper.GetDuration(reconnectBackoff.flagKey),
		ICEDebounce:      viper.GetDuration(iceDebounce.flagKey),
		ICEServers:       viper.GetStringSlice(iceServers.flagKey),
		CaptureEnabled:   viper.GetBool(captureEnabled.flagKey),
		Host:             viper.GetString(host.flagKey),
		Port:             viper.GetInt(port.flagKey),
		LogLevel:         viper.GetString(logLevel.flagKey),
		RedisHost:        viper.GetString(redisHost.flagKey),
		RedisPort:        viper.GetInt(redisPort.flagKey),
		RedisPassword:    viper.GetString(redisPassword.flagKey),
		JournalMaxLen:    viper.GetInt64(journalMaxLen.flagKey),
		JournalTTL:       viper.GetDuration(journalTTL.flagKey),
		PostgresDSN:      viper.GetString(postgresDSN.flagKey),
		NatsURL:          viper.GetString(natsURL.flagKey),
		NatsPrefix:       viper.GetString(natsPrefix.flagKey),
	}
	if config.DisplayName == "" {
		config.DisplayName = fmt.Sprintf("user-%d", config.UserID)
	}

	return config
}

func main() {
	// a missing .env is fine, the environment and flags still apply
	_ = godotenv.Load()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting client with config: %s\n", jsonConfig)

	if err := app.Run(context.Background(), appConfig); err != nil {
		log.Fatal(err)
	}
}

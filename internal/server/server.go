package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"clinical-rag/internal/db"
	"clinical-rag/internal/handlers"
	"clinical-rag/internal/repositories"
	"clinical-rag/internal/routes"
	"clinical-rag/internal/services"
	"clinical-rag/internal/session"

	"github.com/gorilla/mux"
)

// corsMiddleware adds CORS headers to all responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewServer wires the full pipeline and returns the configured HTTP server.
// Postgres and the OpenAI key are mandatory; Redis is optional and its
// absence only disables the embedding cache.
func NewServer() (*http.Server, error) {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Record store (Postgres + pgvector)
	pgConfig, err := getPostgresConfig()
	if err != nil {
		return nil, err
	}
	postgres, err := db.NewPostgres(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	logger.Println("Postgres connected successfully")

	recordRepo := repositories.NewPostgresRecordRepository(postgres.Pool())
	exchangeRepo := repositories.NewPostgresExchangeRepository(postgres.Pool())

	// Embedding cache (Redis, optional)
	var cache repositories.EmbeddingCache = repositories.NoopEmbeddingCache{}
	redisClient, err := db.NewRedisClient(getRedisConfig())
	if err == nil {
		if err := redisClient.Ping(ctx); err == nil {
			cache = repositories.NewRedisEmbeddingCache(redisClient.GetClient(), getCacheTTL())
			logger.Println("Redis connected, embedding cache enabled")
		} else {
			logger.Printf("Redis unreachable, embedding cache disabled: %v", err)
		}
	} else {
		logger.Printf("Redis client unavailable, embedding cache disabled: %v", err)
	}

	// Language-model provider
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	chatModel := envOr("OPENAI_CHAT_MODEL", "gpt-4o-mini")
	embedModel := envOr("OPENAI_EMBED_MODEL", "")
	maxTokens := envInt("OPENAI_MAX_TOKENS", 2000)
	openaiClient := services.NewOpenAIClient(apiKey, chatModel, embedModel, maxTokens)
	logger.Printf("OpenAI client initialized (chat model: %s)", chatModel)

	// Pipeline services
	resolver := services.NewPatientResolver(recordRepo, logger)
	embedder := services.NewEmbeddingService(openaiClient, cache, logger)
	retrieverConfig := getRetrieverConfig()
	retriever := services.NewRetriever(recordRepo, retrieverConfig, logger)
	assembler := services.NewContextAssembler(envInt("CONTEXT_BUDGET_CHARS", 16000), logger)
	generator := services.NewGenerator(openaiClient, logger)
	recorder := services.NewRecorder(exchangeRepo, logger)

	engine := services.NewEngine(resolver, embedder, retriever, assembler, generator, retrieverConfig.TopK, logger)

	// Streaming sessions
	sessionConfig := getSessionConfig(chatModel)
	manager := session.NewManager(session.Dependencies{
		Engine:    engine,
		Generator: generator,
		Recorder:  recorder,
	}, sessionConfig, logger)

	// Handlers
	queryHandler := handlers.NewQueryHandler(engine, recorder, logger)
	historyHandler := handlers.NewHistoryHandler(recorder, logger)
	wsHandler := handlers.NewWSHandler(manager, newAuthenticator(logger), logger)

	h := &routes.Handlers{
		Health:  handlers.HealthCheckHandler,
		Query:   queryHandler,
		History: historyHandler,
		WS:      wsHandler,
	}

	router := mux.NewRouter()
	routes.RegisterRoutes(router, h)

	return &http.Server{
		Addr:    ":" + envOr("PORT", "8080"),
		Handler: corsMiddleware(router),
	}, nil
}

// tokenAuthenticator checks the shared token on websocket connections. The
// user id rides as a query parameter; token possession is the credential.
type tokenAuthenticator struct {
	secret string
}

func newAuthenticator(logger *log.Logger) handlers.Authenticator {
	secret := os.Getenv("CHAT_API_TOKEN")
	if secret == "" {
		logger.Println("CHAT_API_TOKEN not set, accepting any non-empty token (development mode)")
	}
	return &tokenAuthenticator{secret: secret}
}

func (a *tokenAuthenticator) Authenticate(r *http.Request) (int64, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return 0, errors.New("missing token")
	}
	if a.secret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) != 1 {
		return 0, errors.New("invalid token")
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, errors.New("missing or invalid user_id")
	}
	return userID, nil
}

// getPostgresConfig reads the record-store configuration from environment
// variables.
func getPostgresConfig() (db.PostgresConfig, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return db.PostgresConfig{}, errors.New("DATABASE_URL is required")
	}

	config := db.DefaultPostgresConfig(url)
	if maxConns := envInt("POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}
	return config, nil
}

// getRedisConfig reads Redis configuration from environment variables
func getRedisConfig() db.RedisConfig {
	config := db.DefaultRedisConfig()

	if host := os.Getenv("REDIS_HOST"); host != "" {
		config.Host = host
	}
	if port := envInt("REDIS_PORT", 0); port > 0 {
		config.Port = port
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Password = password
	}
	if dbNum := envInt("REDIS_DB", -1); dbNum >= 0 {
		config.DB = dbNum
	}
	if poolSize := envInt("REDIS_POOL_SIZE", 0); poolSize > 0 {
		config.PoolSize = poolSize
	}

	return config
}

// getRetrieverConfig reads ranking knobs from environment variables.
func getRetrieverConfig() services.RetrieverConfig {
	config := services.DefaultRetrieverConfig()

	if topK := envInt("RETRIEVAL_TOP_K", 0); topK > 0 {
		config.TopK = topK
	}
	if limit := envInt("RETRIEVAL_PER_SOURCE_LIMIT", 0); limit > 0 {
		config.PerSourceLimit = limit
	}
	if minScore, ok := envFloat("RETRIEVAL_MIN_SCORE"); ok {
		config.MinScore = minScore
	}
	if w, ok := envFloat("RETRIEVAL_SIMILARITY_WEIGHT"); ok {
		config.SimilarityWeight = w
	}
	if w, ok := envFloat("RETRIEVAL_RECENCY_WEIGHT"); ok {
		config.RecencyWeight = w
	}
	if years := envInt("RETRIEVAL_YEARS_BACK", -1); years >= 0 {
		config.YearsBack = years
	}

	return config
}

// getSessionConfig reads session bounds from environment variables.
func getSessionConfig(modelName string) session.Config {
	config := session.DefaultConfig()
	config.ModelName = modelName

	if limit := envInt("SESSION_RATE_LIMIT", 0); limit > 0 {
		config.RateLimit = limit
	}
	if depth := envInt("SESSION_QUEUE_DEPTH", 0); depth > 0 {
		config.QueueDepth = depth
	}
	if secs := envInt("EXCHANGE_TIMEOUT_SECONDS", 0); secs > 0 {
		config.ExchangeTimeout = time.Duration(secs) * time.Second
	}
	if secs := envInt("SESSION_IDLE_TIMEOUT_SECONDS", 0); secs > 0 {
		config.IdleTimeout = time.Duration(secs) * time.Second
	}

	return config
}

func getCacheTTL() time.Duration {
	if secs := envInt("EMBEDDING_CACHE_TTL_SECONDS", 0); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 15 * time.Minute
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string) (float64, bool) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

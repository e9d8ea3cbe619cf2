package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"cloud.google.com/go/compute/metadata"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/greenlens/greenlens/auth/gate"
	"github.com/greenlens/greenlens/auth/jwtverifier"
	"github.com/greenlens/greenlens/chat"
	"github.com/greenlens/greenlens/handler"
	"github.com/greenlens/greenlens/memorystore"
	"github.com/greenlens/greenlens/metrics"
	"github.com/greenlens/greenlens/secrets"
	"github.com/greenlens/greenlens/static"
)

var (
	listenPort                string
	logLevel                  string
	geminiAPIKey              string
	geminiURL                 = flagx.MustNewURL(static.GeminiURL)
	geminiModel               string
	chatTimeout               time.Duration
	firebaseProjectID         string
	firebaseClientEmail       string
	firebasePrivateKey        string
	firebaseCredentialsFile   string
	firebaseCredentialsSecret string
	secretProject             string
	jwksURL                   = flagx.URL{}
	jwksCacheTTL              time.Duration
	verifyTimeout             time.Duration
	requireVerifiedAuth       bool
	redisAddress              string
	redisConnectRetries       int
	allowedOrigins            = flagx.StringArray{}
)

func init() {
	// PORT is part of the default App Engine and Cloud Run environment.
	flag.StringVar(&listenPort, "port", static.DefaultPort, "Port to listen on for API requests")
	flag.StringVar(&logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
	flag.StringVar(&geminiAPIKey, "gemini-api-key", "", "API key for the Gemini API (required)")
	flag.Var(&geminiURL, "gemini-url", "Base URL of the Gemini models API")
	flag.StringVar(&geminiModel, "gemini-model", static.GeminiModel, "Gemini model used for chat replies")
	flag.DurationVar(&chatTimeout, "chat-timeout", static.ChatTimeout, "Timeout for Gemini API requests")
	flag.StringVar(&firebaseProjectID, "firebase-project-id", "", "Firebase project id for inline service account credentials")
	flag.StringVar(&firebaseClientEmail, "firebase-client-email", "", "Client email for inline service account credentials")
	flag.StringVar(&firebasePrivateKey, "firebase-private-key", "", "PEM private key for inline service account credentials; literal \\n is expanded")
	flag.StringVar(&firebaseCredentialsFile, "firebase-credentials-file", "", "Path to a service account JSON file")
	flag.StringVar(&firebaseCredentialsSecret, "firebase-credentials-secret", "", "Secret Manager secret holding a service account JSON document")
	flag.StringVar(&secretProject, "secret-project", "", "Project of the Secret Manager secret; defaults to the GCE metadata project")
	flag.Var(&jwksURL, "jwks-url", "URL of the token signing key set")
	flag.DurationVar(&jwksCacheTTL, "jwks-cache-ttl", static.JWKSCacheTTL, "How long the token signing key set is cached")
	flag.DurationVar(&verifyTimeout, "verify-timeout", static.VerifyTimeout, "Timeout for verifying one token")
	flag.BoolVar(&requireVerifiedAuth, "require-verified-auth", false, "Reject all tokens instead of falling back to unverified decoding when credentials are missing")
	flag.StringVar(&redisAddress, "redis-address", "localhost:6379", "Address of the Redis user store")
	flag.IntVar(&redisConnectRetries, "redis-connect-retries", static.RedisConnectRetries, "Number of Redis connection retries at startup")
	flag.Var(&allowedOrigins, "allowed-origins", "CORS allowed origins (default *)")
}

var mainCtx, mainCancel = context.WithCancel(context.Background())

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse env args")
	lvl, err := log.ParseLevel(logLevel)
	rtx.Must(err, "Invalid log level")
	log.SetLevel(lvl)

	if geminiAPIKey == "" {
		log.Fatal("Gemini API key is missing: set GEMINI_API_KEY")
	}

	prom := prometheusx.MustServeMetrics()
	defer prom.Close()

	// CREDENTIAL VERIFIER - a missing or invalid configuration degrades the
	// gate to fallback mode, it never stops the server.
	loader, err := credentialLoader(mainCtx)
	if err != nil {
		log.WithError(err).Error("Invalid credential configuration")
	}
	verifier, err := jwtverifier.Initialize(mainCtx, loader, jwtverifier.Config{
		JWKSURL:  jwksURL.URL,
		CacheTTL: jwksCacheTTL,
	})
	if err != nil {
		log.WithError(err).Error("Failed to initialize the credential verifier")
		if requireVerifiedAuth {
			log.Warn("Verified authentication is required: all protected requests will be rejected")
		} else {
			log.Warn("********************************************************************")
			log.Warn("FALLBACK MODE: bearer token signatures will NOT be verified.")
			log.Warn("Configure service account credentials for full token verification.")
			log.Warn("********************************************************************")
		}
	}
	g := gate.New(verifier, gate.WithTimeout(verifyTimeout), gate.WithRequireVerified(requireVerifiedAuth))

	// USER STORE
	cfg := memorystore.NewDialConfig(redisAddress)
	cfg.Retries = redisConnectRetries
	pool, err := memorystore.Dial(mainCtx, cfg)
	rtx.Must(err, "Failed to connect to the user store")
	defer pool.Close()
	users := memorystore.NewUserClient(pool)

	// CHAT
	gemini, err := chat.NewClient(geminiAPIKey, geminiURL.URL, geminiModel, chatTimeout)
	rtx.Must(err, "Failed to create Gemini client")

	c := handler.NewClient(users, gemini, g)
	origins := []string(allowedOrigins)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	srv := &http.Server{
		Addr:    ":" + listenPort,
		Handler: withCORS(newMux(c, g), origins),
	}
	log.WithFields(log.Fields{
		"port":      listenPort,
		"auth_mode": g.Mode(),
	}).Info("Server running")
	rtx.Must(httpx.ListenAndServeAsync(srv), "Could not start server")
	defer srv.Close()
	<-mainCtx.Done()
}

// credentialLoader selects the single configured credential source.
func credentialLoader(ctx context.Context) (secrets.Loader, error) {
	env := secrets.NewEnvConfig(firebaseProjectID, firebaseClientEmail, firebasePrivateKey)
	file := secrets.NewLocalConfig(firebaseCredentialsFile)

	var client secrets.SecretClient
	project := secretProject
	if firebaseCredentialsSecret != "" {
		if project == "" && metadata.OnGCE() {
			p, err := metadata.ProjectIDWithContext(ctx)
			if err != nil {
				log.WithError(err).Warn("Failed to read project from GCE metadata")
			}
			project = p
		}
		sm, err := secretmanager.NewClient(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to create Secret Manager client")
		} else {
			client = sm
		}
	}
	secret := secrets.NewSecretConfig(project, firebaseCredentialsSecret, client)
	return secrets.Select(env, file, secret)
}

// newMux registers the API routes. Protected routes run behind the
// authentication gate.
func newMux(c *handler.Client, g *gate.Gate) *http.ServeMux {
	protected := alice.New(g.Require)

	mux := http.NewServeMux()
	// Users look up and register accounts before they hold a token.
	mux.Handle("POST /api/users/check-username", instrument("/api/users/check-username", http.HandlerFunc(c.CheckUsername)))
	mux.Handle("POST /api/users/get-email", instrument("/api/users/get-email", http.HandlerFunc(c.GetEmail)))
	mux.Handle("POST /api/users", instrument("/api/users", http.HandlerFunc(c.CreateUser)))
	// Chat and logout require a bearer token.
	mux.Handle("POST /chat", instrument("/chat", protected.ThenFunc(c.Chat)))
	mux.Handle("POST /api/logout", instrument("/api/logout", protected.ThenFunc(c.Logout)))
	// Health and liveness checks.
	mux.HandleFunc("GET /health", c.Health)
	mux.HandleFunc("GET /v0/live", c.Live)
	mux.HandleFunc("GET /v0/ready", c.Ready)
	return mux
}

func instrument(path string, h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(
		metrics.RequestHandlerDuration.MustCurryWith(prometheus.Labels{"path": path}), h)
}

func withCORS(h http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(h)
}

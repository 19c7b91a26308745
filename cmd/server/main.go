package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satoru707/CollabCode/internal/analysis"
	"github.com/satoru707/CollabCode/internal/api"
	"github.com/satoru707/CollabCode/internal/chat"
	"github.com/satoru707/CollabCode/internal/gateway"
	"github.com/satoru707/CollabCode/internal/presence"
	"github.com/satoru707/CollabCode/internal/session"
	"github.com/satoru707/CollabCode/internal/workspace"
	"github.com/satoru707/CollabCode/internal/ws"
)

func main() {
	dbPath := os.Getenv("COLLABCODE_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/collabcode.db"
	}

	store, err := workspace.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize workspace store: %v", err)
	}
	defer store.Close()

	registry := session.NewRegistry()
	tracker := presence.NewTracker()
	relay := chat.NewRelay()

	hub := ws.NewHub()
	go hub.Run()

	gw := gateway.New(registry, tracker, relay, store, hub)

	janitor := session.NewJanitor(registry, store, tracker, relay, session.DefaultJanitorConfig())
	janitor.Start()

	var analyzer analysis.Analyzer
	if analyzerURL := os.Getenv("COLLABCODE_ANALYZER_URL"); analyzerURL != "" {
		analyzer = analysis.NewHTTPAnalyzer(analyzerURL, 15*time.Second)
		log.Printf("Analysis service: %s", analyzerURL)
	}

	apiHandler := api.New(hub, registry, store, analyzer)
	router := apiHandler.Router()

	// WebSocket endpoint
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, gw, w, r)
	})

	handler := corsMiddleware(router)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		janitor.Stop()
		store.Close()
		os.Exit(0)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("CollabCode server starting on :%s", port)
	log.Printf("Database: %s", dbPath)
	log.Println("Endpoints:")
	log.Println("  - WebSocket:  /ws")
	log.Println("  - Health:     GET /health")
	log.Println("  - Stats:      GET /api/stats")
	log.Println("  - Workspaces: GET/POST /api/workspaces")
	log.Println("  - Workspace:  GET /api/workspaces/{id}")
	log.Println("  - Projects:   GET/POST /api/workspaces/{id}/projects")
	log.Println("  - Project:    GET /api/projects/{id}")
	log.Println("  - Analyze:    POST /api/analyze")

	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

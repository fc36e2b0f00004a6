package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/max-clinch/ChainSphere/internal/api"
	"github.com/max-clinch/ChainSphere/internal/config"
	"github.com/max-clinch/ChainSphere/internal/lottery"
	"github.com/max-clinch/ChainSphere/internal/service"
	"github.com/max-clinch/ChainSphere/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ledgerStore, err := store.NewStore(cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer ledgerStore.Close()

	ctx := context.Background()
	if err := ledgerStore.Migrate(ctx); err != nil {
		log.Fatalf("Schema migration failed: %v", err)
	}

	// The round sequence continues from the persisted winner history.
	startRound, err := ledgerStore.CountWinners(ctx)
	if err != nil {
		log.Fatalf("Unable to read winner history: %v", err)
	}

	gateway, local := buildGateway(cfg)
	engine := lottery.NewEngine(lottery.Config{
		Interval: cfg.LotteryInterval,
		Reward:   cfg.LotteryReward,
	}, gateway, ledgerStore, startRound)

	if local != nil {
		local.Bind(func(requestID string, randomWords []uint64) {
			if _, err := engine.HandleFulfillment(context.Background(), requestID, randomWords); err != nil {
				log.Printf("local fulfillment for %s failed: %v", requestID, err)
			}
		})
	}

	svc := service.NewLedgerService(ledgerStore, engine, cfg.EditFee, cfg.SignupBonus)
	handler := api.NewHandler(svc, engine, cfg.ProviderToken)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	handler.Register(r)

	log.Printf("Server starting on :%s (env=%s, interval=%s, reward=%d)",
		cfg.Port, cfg.Env, cfg.LotteryInterval, cfg.LotteryReward)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}

// buildGateway picks the configured randomness provider, falling back to the
// in-process dev provider when none is set. The second return value is
// non-nil only for the local provider, which needs the fulfillment sink bound
// after the engine exists.
func buildGateway(cfg *config.Config) (lottery.RandomnessGateway, *lottery.LocalProvider) {
	if cfg.ProviderURL != "" {
		callback := cfg.CallbackBaseURL + "/api/v1/lottery/fulfill"
		log.Printf("Using randomness provider %s (callback %s)", cfg.ProviderURL, callback)
		return lottery.NewProviderClient(cfg.ProviderURL, cfg.ProviderToken, callback), nil
	}
	log.Print("RANDOMNESS_PROVIDER_URL not set, using local dev provider")
	local := lottery.NewLocalProvider(2 * time.Second)
	return local, local
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// Keeper is the external upkeep cadence: it polls checkUpkeep on a fixed
// interval and calls performUpkeep whenever the engine says a draw is due.
// Retries are its responsibility, not the engine's.

// Config holds the keeper settings
var (
	targetURL string
	interval  time.Duration
	duration  time.Duration
)

// Counters
var (
	checks       uint64
	triggers     uint64
	notNeeded    uint64
	rejected409  uint64
	failOther    uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.DurationVar(&interval, "interval", 30*time.Second, "Polling interval")
	flag.DurationVar(&duration, "duration", 0, "Total run time (0 = run forever)")
}

type upkeepResponse struct {
	Needed        bool  `json:"needed"`
	PoolBalance   int64 `json:"pool_balance"`
	EligibleCount int   `json:"eligible_count"`
}

type performResponse struct {
	RequestID string `json:"request_id"`
	Round     int64  `json:"round"`
}

func main() {
	flag.Parse()
	log.Printf("Starting keeper: target=%s interval=%s", targetURL, interval)

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		poll(client)
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		<-ticker.C
	}
	printResults(time.Since(start))
}

func poll(client *http.Client) {
	atomic.AddUint64(&checks, 1)

	resp, err := client.Get(targetURL + "/api/v1/lottery/upkeep")
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		log.Printf("checkUpkeep failed: %v", err)
		return
	}
	var check upkeepResponse
	err = json.NewDecoder(resp.Body).Decode(&check)
	resp.Body.Close()
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}

	if !check.Needed {
		atomic.AddUint64(&notNeeded, 1)
		return
	}

	log.Printf("upkeep needed (pool=%d eligible=%d), triggering", check.PoolBalance, check.EligibleCount)
	perform, err := client.Post(targetURL+"/api/v1/lottery/upkeep", "application/json", nil)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		log.Printf("performUpkeep failed: %v", err)
		return
	}
	defer perform.Body.Close()

	switch perform.StatusCode {
	case http.StatusAccepted:
		var out performResponse
		if err := json.NewDecoder(perform.Body).Decode(&out); err == nil {
			log.Printf("round %d requesting randomness, request=%s", out.Round, out.RequestID)
		}
		atomic.AddUint64(&triggers, 1)
	case http.StatusConflict:
		// Lost the race against another keeper or conditions changed between
		// check and perform. The engine rejected hard, nothing mutated.
		atomic.AddUint64(&rejected409, 1)
	default:
		atomic.AddUint64(&failOther, 1)
		log.Printf("performUpkeep returned %d", perform.StatusCode)
	}
}

func printResults(d time.Duration) {
	results := map[string]interface{}{
		"duration_sec": d.Seconds(),
		"checks":       atomic.LoadUint64(&checks),
		"triggers":     atomic.LoadUint64(&triggers),
		"not_needed":   atomic.LoadUint64(&notNeeded),
		"rejected":     atomic.LoadUint64(&rejected409),
		"errors":       atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("keeper_results_%d.json", time.Now().Unix())
	file, err := os.Create(filename)
	if err != nil {
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}

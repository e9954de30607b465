//go:build ignore

// Load test for the accept path: many drivers race for the same rides and
// exactly one of them may win each. Run against `carreto serve --store memory --seed`
// or a Postgres-backed server:
//
//	go run scripts/loadtest.go -url http://localhost:8080 -rides 50 -racers 10
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	TotalRequests int64
	Winners       int64
	GuardFailures int64
	OtherFailures int64
	TotalLatency  int64
	MinLatency    int64
	MaxLatency    int64
}

func (s *Stats) observe(latency int64) {
	atomic.AddInt64(&s.TotalRequests, 1)
	atomic.AddInt64(&s.TotalLatency, latency)
	for {
		old := atomic.LoadInt64(&s.MinLatency)
		if latency >= old || atomic.CompareAndSwapInt64(&s.MinLatency, old, latency) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.MaxLatency)
		if latency <= old || atomic.CompareAndSwapInt64(&s.MaxLatency, old, latency) {
			break
		}
	}
}

var (
	baseURL = flag.String("url", "http://localhost:8080", "server base URL")
	bairro  = flag.String("bairro", "centro", "bairro to load")
	item    = flag.String("item", "sofa", "catalog item id for the rides")
	rides   = flag.Int("rides", 50, "rides to create and race for")
	racers  = flag.Int("racers", 10, "drivers racing for each ride")
)

func main() {
	flag.Parse()

	fmt.Println("carreto accept race")
	fmt.Println("===================")

	fmt.Printf("\n1. Registering %d funded, online drivers...\n", *racers**rides)
	drivers := registerDrivers(*racers * *rides)
	if len(drivers) < *racers {
		log.Fatalf("only %d drivers registered", len(drivers))
	}

	fmt.Printf("\n2. Creating %d rides...\n", *rides)
	rideIDs := createRides(*rides)

	fmt.Printf("\n3. Racing %d drivers per ride...\n", *racers)
	stats := race(rideIDs, drivers, *racers)
	printStats(stats, len(rideIDs))
}

func post(path string, payload interface{}) (*http.Response, error) {
	body, _ := json.Marshal(payload)
	return http.Post(*baseURL+path, "application/json", bytes.NewReader(body))
}

func registerDrivers(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		resp, err := post("/v1/drivers", map[string]string{
			"bairro_id": *bairro,
			"name":      fmt.Sprintf("Loadtest Driver %d", i),
			"phone":     fmt.Sprintf("+55119%08d", i),
			"vehicle":   "Fiorino",
		})
		if err != nil {
			continue
		}
		var driver struct {
			ID string `json:"id"`
		}
		json.NewDecoder(resp.Body).Decode(&driver)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			continue
		}

		for _, step := range []struct {
			path string
			body interface{}
		}{
			{"/v1/drivers/" + driver.ID + "/wallet/adjust", map[string]interface{}{"amount": 100, "note": "loadtest"}},
			{"/v1/drivers/" + driver.ID + "/heartbeat", map[string]float64{"lat": -23.55, "lng": -46.63}},
		} {
			if r, err := post(step.path, step.body); err == nil {
				io.Copy(io.Discard, r.Body)
				r.Body.Close()
			}
		}
		ids = append(ids, driver.ID)
	}
	return ids
}

func createRides(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		resp, err := post("/v1/rides", map[string]interface{}{
			"client_id":      fmt.Sprintf("loadtest-client-%d", i),
			"bairro_id":      *bairro,
			"pickup":         map[string]interface{}{"lat": -23.55, "lng": -46.63, "address": "Rua A"},
			"dropoff":        map[string]interface{}{"lat": -23.56, "lng": -46.65, "address": "Rua B"},
			"distance_km":    8,
			"duration_min":   20,
			"items":          []map[string]interface{}{{"catalog_item_id": *item, "quantity": 1}},
			"payment_method": "cash",
		})
		if err != nil {
			continue
		}
		var ride struct {
			ID string `json:"id"`
		}
		json.NewDecoder(resp.Body).Decode(&ride)
		resp.Body.Close()
		if resp.StatusCode == http.StatusCreated {
			ids = append(ids, ride.ID)
		}
	}
	return ids
}

// race sends each ride to its own slice of drivers so nobody is busy
// from a previous win.
func race(rideIDs, drivers []string, perRide int) *Stats {
	stats := &Stats{MinLatency: int64(^uint64(0) >> 1)}
	var wg sync.WaitGroup

	for i, rideID := range rideIDs {
		start := i * perRide
		if start+perRide > len(drivers) {
			break
		}
		for _, driverID := range drivers[start : start+perRide] {
			wg.Add(1)
			go func(rideID, driverID string) {
				defer wg.Done()

				begin := time.Now()
				resp, err := post("/v1/rides/"+rideID+"/accept", map[string]string{"driver_id": driverID})
				stats.observe(time.Since(begin).Milliseconds())
				if err != nil {
					atomic.AddInt64(&stats.OtherFailures, 1)
					return
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				switch resp.StatusCode {
				case http.StatusOK:
					atomic.AddInt64(&stats.Winners, 1)
				case http.StatusConflict:
					atomic.AddInt64(&stats.GuardFailures, 1)
				default:
					atomic.AddInt64(&stats.OtherFailures, 1)
				}
			}(rideID, driverID)
		}
	}

	wg.Wait()
	return stats
}

func printStats(stats *Stats, rides int) {
	avg := float64(0)
	if stats.TotalRequests > 0 {
		avg = float64(stats.TotalLatency) / float64(stats.TotalRequests)
	}
	fmt.Printf("  Accept attempts:   %d\n", stats.TotalRequests)
	fmt.Printf("  Winners:           %d (rides: %d)\n", stats.Winners, rides)
	fmt.Printf("  Guard failures:    %d\n", stats.GuardFailures)
	fmt.Printf("  Other failures:    %d\n", stats.OtherFailures)
	fmt.Printf("  Latency avg/min/max: %.2fms / %dms / %dms\n", avg, stats.MinLatency, stats.MaxLatency)

	if stats.Winners > int64(rides) {
		log.Fatalf("double acceptance: %d winners for %d rides", stats.Winners, rides)
	}
}

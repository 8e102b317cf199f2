package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Fires concurrent admissions at a single seat. Exactly one 202 is expected.
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "api base url")
	seatID := flag.Uint64("seat", 1, "seat id to contend for")
	totalUsers := flag.Int("users", 5000, "concurrent users")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/seats/%d/reservations", *baseURL, *seatID)

	var accepted, conflicted, other atomic.Int64
	var winner atomic.Value

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *totalUsers; i++ {
		wg.Add(1)
		go func(user int) {
			defer wg.Done()

			userID := fmt.Sprintf("user_%d", user)
			body, _ := json.Marshal(map[string]string{"user_id": userID})

			resp, err := client.Post(url, "application/json", bytes.NewReader(body))
			if err != nil {
				other.Add(1)
				return
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusAccepted:
				accepted.Add(1)
				var result map[string]any
				_ = json.NewDecoder(resp.Body).Decode(&result)
				winner.Store(fmt.Sprintf("%s (intent %v)", userID, result["intent_id"]))
			case http.StatusConflict:
				conflicted.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	wg.Wait()

	fmt.Printf("seat %d, %d users in %s\n", *seatID, *totalUsers, time.Since(start).Round(time.Millisecond))
	fmt.Printf("  accepted:   %d\n", accepted.Load())
	fmt.Printf("  conflicted: %d\n", conflicted.Load())
	fmt.Printf("  other:      %d\n", other.Load())
	if w, ok := winner.Load().(string); ok {
		fmt.Printf("  winner:     %s\n", w)
	}
	if accepted.Load() > 1 {
		fmt.Println("OVERSELL: more than one admission accepted")
	}
}

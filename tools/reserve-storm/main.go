// reserve-storm fires concurrent reservations for one slot at a running
// booking service and reports how the conflict arbitration resolved them.
// Exactly one 201 and n-1 409s is the expected outcome.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

func main() {
	var (
		baseURL    = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking service base url")
		serviceID  = flag.String("service-id", getenv("SERVICE_ID", ""), "service id")
		operatorID = flag.String("operator-id", getenv("OPERATOR_ID", ""), "operator id")
		scheduleID = flag.String("schedule-id", getenv("SCHEDULE_ID", ""), "schedule rule id (optional)")
		start      = flag.String("start", "", "slot start, RFC 3339")
		end        = flag.String("end", "", "slot end, RFC 3339")
		callers    = flag.Int("callers", 50, "number of concurrent reservation attempts")
	)
	flag.Parse()

	if strings.TrimSpace(*serviceID) == "" || strings.TrimSpace(*operatorID) == "" {
		fatal("SERVICE_ID and OPERATOR_ID are required")
	}
	if _, err := time.Parse(time.RFC3339, *start); err != nil {
		fatal("start must be RFC 3339")
	}
	if _, err := time.Parse(time.RFC3339, *end); err != nil {
		fatal("end must be RFC 3339")
	}

	payload, err := json.Marshal(map[string]string{
		"service_id":  *serviceID,
		"operator_id": *operatorID,
		"schedule_id": *scheduleID,
		"start":       *start,
		"end":         *end,
	})
	if err != nil {
		fatal(err.Error())
	}

	url := strings.TrimRight(*baseURL, "/") + "/api/v1/public/reserve"
	client := &http.Client{Timeout: 10 * time.Second}

	type outcome struct {
		status int
		err    error
	}
	results := make(chan outcome, *callers)
	ready := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ready
			req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				results <- outcome{err: err}
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-User-Id", fmt.Sprintf("storm-user-%d", i))
			req.Header.Set("X-User-Role", "USER")
			resp, err := client.Do(req)
			if err != nil {
				results <- outcome{err: err}
				return
			}
			resp.Body.Close()
			results <- outcome{status: resp.StatusCode}
		}(i)
	}
	close(ready)
	wg.Wait()
	close(results)

	counts := map[int]int{}
	errs := 0
	for r := range results {
		if r.err != nil {
			errs++
			continue
		}
		counts[r.status]++
	}

	fmt.Printf("callers=%d created=%d conflicts=%d transport_errors=%d\n",
		*callers, counts[http.StatusCreated], counts[http.StatusConflict], errs)
	for status, n := range counts {
		if status != http.StatusCreated && status != http.StatusConflict {
			fmt.Printf("unexpected status %d: %d\n", status, n)
		}
	}
	if counts[http.StatusCreated] != 1 {
		fatal(fmt.Sprintf("expected exactly 1 winner, got %d", counts[http.StatusCreated]))
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}

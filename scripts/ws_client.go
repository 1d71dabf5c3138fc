// Package main runs a demo WebSocket client for dispatch events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(base, path string, body []byte) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	req.Header.Set("X-Role", "admin")
	return http.DefaultClient.Do(req)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	date := time.Now().Format("2006-01-02")

	// Seed a technician and a job
	resp, err := post(base, "/v1/technicians", []byte(`{"id":"tech-demo","name":"Demo Tech","workDayStart":"08:00"}`))
	if err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()

	jobBody := fmt.Sprintf(`{"jobs":[{"scheduledDate":"%s","priority":"high","serviceDurationMin":45,"location":{"address":"12 Main St"},"accountName":"Acme"}]}`, date)
	resp, err = post(base, "/v1/jobs", []byte(jobBody))
	if err != nil {
		log.Fatal(err)
	}
	var createResp struct {
		Created []struct {
			ID string `json:"id"`
		} `json:"created"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&createResp); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	if len(createResp.Created) == 0 {
		log.Fatal("no jobs created")
	}
	jobID := createResp.Created[0].ID
	log.Printf("Job ID: %s", jobID)

	// Connect WS and subscribe to the technician's stream
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/dispatch/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"technicianId": "tech-demo"})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Propose and confirm an assignment to trigger events
	time.Sleep(500 * time.Millisecond)
	propBody := fmt.Sprintf(`{"jobId":"%s","technicianId":"tech-demo","start":"09:00"}`, jobID)
	resp, err = post(base, "/v1/assignments/propose", []byte(propBody))
	if err != nil {
		log.Fatal(err)
	}
	var prop struct {
		CommitToken string `json:"commitToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&prop); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()
	if prop.CommitToken == "" {
		log.Fatal("proposal rejected")
	}
	confirmBody := fmt.Sprintf(`{"commitToken":"%s"}`, prop.CommitToken)
	if resp, err = post(base, "/v1/assignments/confirm", []byte(confirmBody)); err != nil {
		log.Fatal(err)
	}
	_ = resp.Body.Close()

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgneticGOD/sdk/go/agnetic"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req agnetic.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Prompt is required"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(agnetic.ChatResponse{Responses: []string{
			"The user 0x1111111111111111111111111111111111111111 has not paid their deposit.",
			"No deposit, no service. Come back when you have paid.",
		}})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := agnetic.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Chat(ctx, "(User address: 0x1111111111111111111111111111111111111111) swap my tokens")
	if err != nil {
		panic(err)
	}
	for i, chunk := range resp.Responses {
		fmt.Printf("[%d] %s\n", i, chunk)
	}
}

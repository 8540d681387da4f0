package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ReasonChain/sdk/go/reasonchain"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/actions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(reasonchain.Action{ID: "action-demo", Status: "pending"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/actions/action-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(reasonchain.Action{
			ID:     "action-demo",
			Status: "succeeded",
			Result: &reasonchain.ExecutionResult{
				CommitmentHash:    "0xhash",
				CommitmentAddress: "0xaddr",
				RevealURI:         "https://storage.reasonchain.dev/reasoning/0xhash",
				ExplorerURL:       "https://explorer.reasonchain.dev/commitment/0xaddr",
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := reasonchain.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.SubmitAction(ctx, reasonchain.ActionSubmission{
		Reasoning: reasonchain.Reasoning{
			Kind:            "fee_collection",
			Rationale:       "accrued protocol fees exceed the claim threshold",
			Risk:            reasonchain.RiskAssessment{Level: "low"},
			ExpectedOutcome: "fees swept into the treasury vault",
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted action %s (status=%s)\n", created.ID, created.Status)

	detail, err := client.WaitForAction(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("action %s finished with commitment %s\n", detail.ID, detail.Result.CommitmentAddress)
}

package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Amankrah/pathfinders/internal/modules/card"
)

type cardPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		PaymentIntent string            `json:"payment_intent"`
		Metadata      map[string]string `json:"metadata,omitempty"`
	} `json:"data"`
}

type momoPayload struct {
	ReferenceID            string `json:"referenceId"`
	Status                 string `json:"status"`
	Amount                 string `json:"amount,omitempty"`
	Currency               string `json:"currency,omitempty"`
	FinancialTransactionID string `json:"financialTransactionId,omitempty"`
	Reason                 string `json:"reason,omitempty"`
}

func main() {
	provider := flag.String("provider", "card", "Provider to fake (card, momo)")
	url := flag.String("url", "", "Webhook URL (default per provider)")
	dryRun := flag.Bool("dry-run", false, "Only print the request, don't send")

	// card flags
	secret := flag.String("secret", os.Getenv("CARD_WEBHOOK_SECRET"), "Card webhook secret")
	eventID := flag.String("event-id", "evt_"+randomHex(8), "Card event ID")
	eventType := flag.String("type", card.EventCheckoutCompleted, "Card event type")
	paymentIntent := flag.String("payment-intent", "pi_"+randomHex(8), "Card payment intent ID")

	// momo flags
	reference := flag.String("reference", "", "Momo reference ID")
	status := flag.String("status", "SUCCESSFUL", "Momo status (SUCCESSFUL, FAILED, PENDING)")
	finTxn := flag.String("fin-txn", "ft_"+randomHex(6), "Momo financial transaction ID")
	reason := flag.String("reason", "", "Momo failure reason")

	flag.Parse()

	var (
		body    []byte
		headers = map[string]string{"Content-Type": "application/json"}
		target  = *url
		err     error
	)

	switch *provider {
	case "card":
		if *secret == "" {
			fmt.Fprintln(os.Stderr, "Error: secret not provided and CARD_WEBHOOK_SECRET not set")
			os.Exit(1)
		}
		if target == "" {
			target = "http://localhost:8080/webhooks/card"
		}

		p := cardPayload{ID: *eventID, Type: *eventType}
		p.Data.PaymentIntent = *paymentIntent
		body, err = json.Marshal(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling payload: %v\n", err)
			os.Exit(1)
		}

		ts := time.Now().Unix()
		sig := hex.EncodeToString(card.ComputeSignature([]byte(*secret), ts, body))
		headers[card.SignatureHeader] = fmt.Sprintf("t=%d,v1=%s", ts, sig)

	case "momo":
		if *reference == "" {
			fmt.Fprintln(os.Stderr, "Error: -reference is required for momo")
			os.Exit(1)
		}
		if target == "" {
			target = "http://localhost:8080/webhooks/momo"
		}

		p := momoPayload{
			ReferenceID:            *reference,
			Status:                 *status,
			FinancialTransactionID: *finTxn,
			Reason:                 *reason,
		}
		if *status != "SUCCESSFUL" {
			p.FinancialTransactionID = ""
		}
		body, err = json.Marshal(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling payload: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown provider %q\n", *provider)
		os.Exit(1)
	}

	for k, v := range headers {
		fmt.Printf("%s: %s\n", k, v)
	}
	fmt.Printf("Body: %s\n", string(body))

	if *dryRun {
		fmt.Println("\n[DRY RUN] Not sending request")
		return
	}

	fmt.Printf("\nSending to %s...\n", target)
	req, err := http.NewRequest("POST", target, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response: %s\n", string(respBody))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

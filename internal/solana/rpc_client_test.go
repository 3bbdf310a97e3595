package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func writeRPCResult(w http.ResponseWriter, id uint64, result interface{}) {
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestHTTPClient_GetParsedTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}

		cfg, ok := req.Params[1].(map[string]interface{})
		if !ok {
			t.Fatalf("expected config object, got %T", req.Params[1])
		}
		if cfg["encoding"] != "jsonParsed" {
			t.Errorf("expected jsonParsed encoding, got %v", cfg["encoding"])
		}
		if cfg["maxSupportedTransactionVersion"] != float64(0) {
			t.Errorf("expected maxSupportedTransactionVersion 0, got %v", cfg["maxSupportedTransactionVersion"])
		}
		if cfg["commitment"] != "confirmed" {
			t.Errorf("expected confirmed commitment, got %v", cfg["commitment"])
		}

		writeRPCResult(w, req.ID, map[string]interface{}{
			"slot":      int64(123456),
			"blockTime": int64(1700000000),
			"meta": map[string]interface{}{
				"err":         nil,
				"logMessages": []string{"Program log: initialize2", "Program success"},
			},
			"transaction": map[string]interface{}{
				"signatures": []string{"testsig123"},
				"message": map[string]interface{}{
					"accountKeys": []map[string]interface{}{
						{"pubkey": "addr1", "signer": true, "writable": true},
						{"pubkey": "addr2", "signer": false, "writable": false},
					},
					"instructions": []map[string]interface{}{
						{
							"program":   "system",
							"programId": "11111111111111111111111111111111",
							"parsed":    map[string]interface{}{"type": "transfer"},
						},
						{
							"programId": RaydiumAMMProgramID,
							"accounts":  []string{"a0", "a1", "a2"},
							"data":      "3iPuTgpWaaC6",
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	tx, err := client.GetParsedTransaction(ctx, "testsig123")
	if err != nil {
		t.Fatalf("GetParsedTransaction: %v", err)
	}

	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}

	if tx.Slot != 123456 {
		t.Errorf("expected slot 123456, got %d", tx.Slot)
	}

	if tx.BlockTime == nil || *tx.BlockTime != 1700000000 {
		t.Errorf("expected blockTime 1700000000, got %v", tx.BlockTime)
	}

	if len(tx.LogMessages) != 2 {
		t.Errorf("expected 2 log messages, got %d", len(tx.LogMessages))
	}

	if len(tx.AccountKeys) != 2 || tx.AccountKeys[0] != "addr1" {
		t.Errorf("unexpected account keys: %v", tx.AccountKeys)
	}

	if len(tx.Instructions) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(tx.Instructions))
	}

	if tx.Instructions[0].Program != "system" || tx.Instructions[0].Parsed == nil {
		t.Errorf("expected parsed system instruction, got %+v", tx.Instructions[0])
	}

	amm := tx.Instructions[1]
	if amm.ProgramID != RaydiumAMMProgramID {
		t.Errorf("unexpected program id: %s", amm.ProgramID)
	}
	if len(amm.Accounts) != 3 || amm.Accounts[2] != "a2" {
		t.Errorf("unexpected accounts: %v", amm.Accounts)
	}
}

func TestHTTPClient_GetParsedTransaction_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeRPCResult(w, req.ID, nil)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	tx, err := client.GetParsedTransaction(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetParsedTransaction: %v", err)
	}

	if tx != nil {
		t.Errorf("expected nil for not found, got %+v", tx)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeRPCResult(w, req.ID, map[string]interface{}{
			"value": map[string]interface{}{
				"lamports": uint64(1),
				"owner":    TokenProgramID,
				"data":     []string{"", "base64"},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	info, err := client.GetAccountInfo(context.Background(), "mint")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}

	if info.Owner != TokenProgramID {
		t.Errorf("unexpected owner %s", info.Owner)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32600,
				"message": "Invalid Request",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))

	_, err := client.GetParsedTransaction(context.Background(), "sig")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpcError, got %T", err)
	}

	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}

	if attempts.Load() != 1 {
		t.Errorf("RPC errors must not be retried, got %d attempts", attempts.Load())
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getAccountInfo" {
			t.Errorf("expected method getAccountInfo, got %s", req.Method)
		}

		writeRPCResult(w, req.ID, map[string]interface{}{
			"value": map[string]interface{}{
				"lamports":   uint64(1000000),
				"owner":      "11111111111111111111111111111111",
				"data":       []string{"SGVsbG8gV29ybGQ=", "base64"},
				"executable": false,
				"rentEpoch":  uint64(100),
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	info, err := client.GetAccountInfo(context.Background(), "testpubkey")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}

	if info.Lamports != 1000000 {
		t.Errorf("expected lamports 1000000, got %d", info.Lamports)
	}

	if info.Owner != "11111111111111111111111111111111" {
		t.Errorf("unexpected owner: %s", info.Owner)
	}

	if string(info.Data) != "Hello World" {
		t.Errorf("unexpected data: %q", info.Data)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeRPCResult(w, req.ID, map[string]interface{}{"value": nil})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	info, err := client.GetAccountInfo(context.Background(), "nonexistent")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	if info != nil {
		t.Errorf("expected nil for not found, got %+v", info)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetAccountInfo(ctx, "pubkey")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPClient_RateLimiterAndObserver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		writeRPCResult(w, req.ID, nil)
	}))
	defer server.Close()

	var observed []string
	client := NewHTTPClient(server.URL,
		WithRateLimiter(rate.NewLimiter(rate.Every(50*time.Millisecond), 1)),
		WithCallObserver(func(method string, elapsed time.Duration, err error) {
			if err != nil {
				t.Errorf("unexpected call error: %v", err)
			}
			observed = append(observed, method)
		}),
	)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.GetParsedTransaction(context.Background(), "sig"); err != nil {
			t.Fatalf("GetParsedTransaction: %v", err)
		}
	}

	// burst of 1 then two waits of 50ms
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected limiter to pace calls, took %v", elapsed)
	}

	if len(observed) != 3 || observed[0] != "getTransaction" {
		t.Errorf("unexpected observed calls: %v", observed)
	}
}

package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

type Client struct {
	RPC    *rpcclient.Client
	Config Config

	httpClient *http.Client
}

type Config struct {
	Host string
	User string
	Pass string
}

func NewClient(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true, // Bitcoin Core only supports HTTP POST mode
		DisableTLS:   true, // Assuming local node without TLS for this setup
	}

	log.Printf("Connecting to Bitcoin RPC at %s...", cfg.Host)
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	// Verify connection
	blockCount, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, err
	}
	log.Printf("Connected to Bitcoin Node. Current Block Height: %d", blockCount)

	return &Client{
		RPC:        client,
		Config:     cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) Shutdown() {
	c.RPC.Shutdown()
}

// rawRequest posts a single JSON-RPC call directly over HTTP so the caller's
// context governs cancellation; the rpcclient wrappers have no context hook.
func (c *Client) rawRequest(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	type jsonRPCRequest struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      int               `json:"id"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params"`
	}
	reqBody, _ := json.Marshal(jsonRPCRequest{
		JSONRPC: "1.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})

	url := fmt.Sprintf("http://%s", c.Config.Host)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.Config.User, c.Config.Pass)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: http request: %w", method, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", method, err)
	}

	type jsonRPCResponse struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	var rpcResp jsonRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("%s: unmarshal rpc response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// FeeRateBTCPerKvB asks the node for a smart-fee estimate at one
// confirmation in ECONOMICAL mode and returns the BTC/kvB rate.
func (c *Client) FeeRateBTCPerKvB(ctx context.Context) (float64, error) {
	target, _ := json.Marshal(1)
	mode, _ := json.Marshal("ECONOMICAL")

	raw, err := c.rawRequest(ctx, "estimatesmartfee", []json.RawMessage{target, mode})
	if err != nil {
		return 0, err
	}

	var res struct {
		FeeRate *float64 `json:"feerate"`
		Errors  []string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, fmt.Errorf("estimatesmartfee: unmarshal result: %w", err)
	}
	if res.FeeRate == nil || !isFinitePositive(*res.FeeRate) {
		return 0, fmt.Errorf("estimatesmartfee: no usable estimate (%v)", res.Errors)
	}
	return *res.FeeRate, nil
}

// CheckInput verifies that the claimed outpoint exists unspent with exactly
// the claimed value, and returns its scriptPubKey for witness verification.
func (c *Client) CheckInput(ctx context.Context, op wire.OutPoint, amount btcutil.Amount) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := c.RPC.GetTxOut(&op.Hash, op.Index, true)
	if err != nil {
		return nil, fmt.Errorf("gettxout %s: %w", op, err)
	}
	if res == nil {
		return nil, fmt.Errorf("utxo %s does not exist or is already spent", op)
	}

	actual, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, fmt.Errorf("gettxout %s: bad value: %w", op, err)
	}
	if actual != amount {
		return nil, fmt.Errorf("utxo %s holds %v, claimed %v", op, actual, amount)
	}

	script, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("gettxout %s: bad scriptPubKey: %w", op, err)
	}
	return script, nil
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

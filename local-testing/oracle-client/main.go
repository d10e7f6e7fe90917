package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/compose-network/oracle/server/api/middleware"
	"github.com/compose-network/oracle/x/proof/groth16"
)

type commandFlags struct {
	apiURL     string
	privateKey string
	caller     string
	action     string

	id       string
	deadline time.Duration
	keyDir   string
	calldata string
	after    uint64
	timeout  time.Duration
}

func main() {
	flags := parseFlags()

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() commandFlags {
	var flags commandFlags
	flag.StringVar(&flags.apiURL, "api", "http://127.0.0.1:8081", "Oracle HTTP API base URL")
	flag.StringVar(&flags.privateKey, "private-key", "", "Hex-encoded secp256k1 key used to sign requests")
	flag.StringVar(&flags.caller, "caller", "", "Caller address sent when not signing")
	flag.StringVar(&flags.action, "action", "",
		"Action to perform: keygen|request|delete|get|answer|submit|prove-submit|watch")

	flag.StringVar(&flags.id, "id", "", "Job id / number (decimal or 0x-prefixed hex)")
	flag.DurationVar(&flags.deadline, "deadline", time.Hour, "Deadline offset from now for request")
	flag.StringVar(&flags.keyDir, "key-dir", "keys", "groth16 key directory for prove-submit")
	flag.StringVar(&flags.calldata, "calldata", "", "Hex-encoded result calldata for submit")
	flag.Uint64Var(&flags.after, "after", 0, "Replay events after this sequence number (watch)")
	flag.DurationVar(&flags.timeout, "timeout", 10*time.Second, "Request timeout; for watch, how long to stream")

	flag.Parse()

	if flags.action == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nmissing required flag: -action")
		os.Exit(2)
	}

	return flags
}

type client struct {
	base   string
	http   *http.Client
	key    *ecdsa.PrivateKey
	caller string
	log    zerolog.Logger
}

func run(cfg commandFlags) error {
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	if cfg.action == "keygen" {
		return keygen()
	}

	c := &client{
		base:   strings.TrimRight(cfg.apiURL, "/"),
		http:   &http.Client{Timeout: cfg.timeout},
		caller: cfg.caller,
		log:    logger,
	}
	if cfg.privateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.privateKey, "0x"))
		if err != nil {
			return fmt.Errorf("invalid private key: %w", err)
		}
		c.key = key
		c.log = logger.With().Str("address", crypto.PubkeyToAddress(key.PublicKey).Hex()).Logger()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	switch cfg.action {
	case "request":
		id, err := requireID(cfg)
		if err != nil {
			return err
		}
		deadline := time.Now().Add(cfg.deadline).Unix()
		return c.do(ctx, http.MethodPost, "/v1/jobs", map[string]any{"id": id, "deadline": deadline})
	case "delete":
		id, err := requireID(cfg)
		if err != nil {
			return err
		}
		return c.do(ctx, http.MethodDelete, "/v1/jobs/"+id, nil)
	case "get":
		id, err := requireID(cfg)
		if err != nil {
			return err
		}
		return c.do(ctx, http.MethodGet, "/v1/jobs/"+id, nil)
	case "answer":
		id, err := requireID(cfg)
		if err != nil {
			return err
		}
		return c.do(ctx, http.MethodGet, "/v1/jobs/"+id+"/answer", nil)
	case "submit":
		if cfg.calldata == "" {
			return errors.New("submit requires -calldata")
		}
		return c.do(ctx, http.MethodPost, "/v1/results", map[string]any{"calldata": cfg.calldata})
	case "prove-submit":
		calldata, err := proveLocally(cfg)
		if err != nil {
			return err
		}
		return c.do(ctx, http.MethodPost, "/v1/results", map[string]any{"calldata": calldata})
	case "watch":
		return c.watch(ctx, cfg.after)
	default:
		return fmt.Errorf("unsupported action %q", cfg.action)
	}
}

func requireID(cfg commandFlags) (string, error) {
	if cfg.id == "" {
		return "", fmt.Errorf("%s requires -id", cfg.action)
	}
	id, ok := new(big.Int).SetString(strings.TrimSpace(cfg.id), 0)
	if !ok || id.Sign() < 0 {
		return "", fmt.Errorf("unable to parse id %q", cfg.id)
	}
	return id.String(), nil
}

// keygen prints a dev secp256k1 key and its address.
func keygen() error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Printf("PRIV=%x\nPUB=%x\nADDR=%s\n",
		crypto.FromECDSA(key),
		crypto.CompressPubkey(&key.PublicKey),
		crypto.PubkeyToAddress(key.PublicKey).Hex())
	return nil
}

func proveLocally(cfg commandFlags) (string, error) {
	id, err := requireID(cfg)
	if err != nil {
		return "", err
	}
	number, _ := new(big.Int).SetString(id, 10)

	prover, err := groth16.LoadProver(cfg.keyDir)
	if err != nil {
		return "", fmt.Errorf("load keys: %w", err)
	}
	payload, err := prover.Prove(number)
	if err != nil {
		return "", err
	}
	calldata, err := payload.EncodeCalldata()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(calldata), nil
}

func (c *client) do(ctx context.Context, method, path string, body any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.identify(req, payload); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.log.Info().Int("status", resp.StatusCode).Str("method", method).Str("path", path).Msg("response")
	fmt.Println(strings.TrimSpace(string(out)))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *client) identify(req *http.Request, body []byte) error {
	if c.key != nil {
		if err := middleware.SignRequest(c.key, req, body, time.Now()); err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		return nil
	}
	if c.caller != "" {
		req.Header.Set(middleware.HeaderCaller, c.caller)
	}
	return nil
}

func (c *client) watch(ctx context.Context, after uint64) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/v1/events/ws"
	u.RawQuery = url.Values{"after": {fmt.Sprint(after)}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	c.log.Info().Str("url", u.String()).Msg("watching events")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Println(string(msg))
	}
}

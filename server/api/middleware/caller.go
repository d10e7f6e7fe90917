package middleware

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	HeaderCaller             = "X-Caller-Address"
	HeaderSignature          = "X-Signature"
	HeaderSignatureTimestamp = "X-Signature-Timestamp"
)

// DefaultSignatureWindow bounds the clock skew accepted on signed requests.
const DefaultSignatureWindow = 5 * time.Minute

// CallerKey is the context key holding the caller identity.
const CallerKey contextKey = "caller"

var (
	ErrNoCaller           = errors.New("caller identity missing")
	ErrInvalidSignature   = errors.New("invalid request signature")
	ErrStaleSignature     = errors.New("request signature outside the accepted time window")
	ErrReplayedSignature  = errors.New("request signature already used")
	replayedMarker        = []byte{1}
	errReplayCacheMissing = errors.New("replay cache not initialized")
)

type callerResult struct {
	addr common.Address
	err  error
}

// CallerFrom returns the caller resolved by the Caller middleware.
func CallerFrom(ctx context.Context) (common.Address, error) {
	res, ok := ctx.Value(CallerKey).(callerResult)
	if !ok {
		return common.Address{}, ErrNoCaller
	}
	return res.addr, res.err
}

// SignatureMessage is the text a caller signs (EIP-191) to authenticate a
// request: "METHOD PATH\nUNIX_SECONDS\nbody".
func SignatureMessage(method, path string, timestamp int64, body []byte) []byte {
	ts := strconv.FormatInt(timestamp, 10)
	msg := make([]byte, 0, len(method)+len(path)+len(ts)+len(body)+3)
	msg = append(msg, method...)
	msg = append(msg, ' ')
	msg = append(msg, path...)
	msg = append(msg, '\n')
	msg = append(msg, ts...)
	msg = append(msg, '\n')
	return append(msg, body...)
}

// Sign produces the X-Signature header value for a request.
func Sign(key *ecdsa.PrivateKey, method, path string, timestamp int64, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(SignatureMessage(method, path, timestamp, body)), key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// SignRequest sets the signature headers on req. body must be the exact
// bytes sent as the request body.
func SignRequest(key *ecdsa.PrivateKey, req *http.Request, body []byte, at time.Time) error {
	ts := at.Unix()
	sig, err := Sign(key, req.Method, req.URL.Path, ts, body)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderSignatureTimestamp, strconv.FormatInt(ts, 10))
	return nil
}

// CallerConfig controls caller resolution.
type CallerConfig struct {
	// RequireSignature recovers the caller from X-Signature instead of
	// trusting X-Caller-Address.
	RequireSignature bool
	MaxBodyBytes     int64
	// SignatureWindow is the accepted distance between the signed timestamp
	// and the server clock. Zero uses DefaultSignatureWindow.
	SignatureWindow time.Duration
	// Now overrides the clock; nil uses time.Now.
	Now func() time.Time
}

// Caller resolves request callers. In signature mode each signature is
// accepted once while its timestamp is fresh.
type Caller struct {
	cfg CallerConfig

	mu   sync.Mutex
	seen *bigcache.BigCache
}

// NewCaller builds the caller middleware. Close releases the replay cache.
func NewCaller(cfg CallerConfig) (*Caller, error) {
	if cfg.SignatureWindow <= 0 {
		cfg.SignatureWindow = DefaultSignatureWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Caller{cfg: cfg}
	if !cfg.RequireSignature {
		return c, nil
	}

	// A timestamp up to one window in the future stays valid for two windows.
	cacheCfg := bigcache.DefaultConfig(2 * cfg.SignatureWindow)
	cacheCfg.Shards = 16
	cacheCfg.MaxEntriesInWindow = 10_000
	cacheCfg.MaxEntrySize = 8
	cacheCfg.HardMaxCacheSize = 64
	seen, err := bigcache.New(context.Background(), cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("create replay cache: %w", err)
	}
	c.seen = seen
	return c, nil
}

// Handler resolves the caller into the request context. Handlers decide
// whether a caller is needed via CallerFrom.
func (c *Caller) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var res callerResult
		if c.cfg.RequireSignature {
			res = c.recoverCaller(w, r)
		} else {
			res = headerCaller(r)
		}
		ctx := context.WithValue(r.Context(), CallerKey, res)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *Caller) Close() error {
	if c.seen == nil {
		return nil
	}
	return c.seen.Close()
}

func headerCaller(r *http.Request) callerResult {
	raw := strings.TrimSpace(r.Header.Get(HeaderCaller))
	if raw == "" {
		return callerResult{err: ErrNoCaller}
	}
	if !common.IsHexAddress(raw) {
		return callerResult{err: fmt.Errorf("%s %q is not an address", HeaderCaller, raw)}
	}
	return callerResult{addr: common.HexToAddress(raw)}
}

func (c *Caller) recoverCaller(w http.ResponseWriter, r *http.Request) callerResult {
	rawSig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if rawSig == "" {
		return callerResult{err: ErrNoCaller}
	}
	sig, err := hexutil.Decode(rawSig)
	if err != nil || len(sig) != crypto.SignatureLength {
		return callerResult{err: ErrInvalidSignature}
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	// Homestead rules reject high-s values so a signature has one encoding.
	sigR, sigS := new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], sigR, sigS, true) {
		return callerResult{err: ErrInvalidSignature}
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderSignatureTimestamp)), 10, 64)
	if err != nil {
		return callerResult{err: fmt.Errorf("%w: missing or invalid %s", ErrInvalidSignature, HeaderSignatureTimestamp)}
	}
	if skew := c.cfg.Now().Sub(time.Unix(ts, 0)); skew > c.cfg.SignatureWindow || skew < -c.cfg.SignatureWindow {
		return callerResult{err: ErrStaleSignature}
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, c.cfg.MaxBodyBytes))
		if err != nil {
			return callerResult{err: fmt.Errorf("read body: %w", err)}
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	pub, err := crypto.SigToPub(accounts.TextHash(SignatureMessage(r.Method, r.URL.Path, ts, body)), sig)
	if err != nil {
		return callerResult{err: ErrInvalidSignature}
	}
	addr := crypto.PubkeyToAddress(*pub)

	if claimed := strings.TrimSpace(r.Header.Get(HeaderCaller)); claimed != "" {
		if !common.IsHexAddress(claimed) || common.HexToAddress(claimed) != addr {
			return callerResult{err: fmt.Errorf("%w: signer %s does not match %s", ErrInvalidSignature, addr.Hex(), claimed)}
		}
	}

	if err := c.markUsed(sig); err != nil {
		return callerResult{err: err}
	}
	return callerResult{addr: addr}
}

// markUsed records sig, failing if it was already accepted.
func (c *Caller) markUsed(sig []byte) error {
	if c.seen == nil {
		return errReplayCacheMissing
	}
	key := string(sig[:64])

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.seen.Get(key); err == nil {
		return ErrReplayedSignature
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("replay cache: %w", err)
	}
	if err := c.seen.Set(key, replayedMarker); err != nil {
		return fmt.Errorf("replay cache: %w", err)
	}
	return nil
}

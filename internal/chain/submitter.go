package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	statusSuccess  = "success"
	statusReverted = "reverted"
)

var (
	errMissingRelayURL = errors.New("chain: relay url is required")
	errUnknownFunction = errors.New("chain: function not present in abi")
)

// SystemCall is one transaction request against a world system.
type SystemCall struct {
	SystemID     common.Hash
	ABI          string
	FunctionName string
	Args         []any
}

// Revert is the decoded custom error of a reverted call.
type Revert struct {
	Name string
	Args []string
}

// Receipt describes the outcome of a submitted call.
type Receipt struct {
	TransactionHash string
	Status          string
	Revert          *Revert
}

// Succeeded reports whether the call was mined without revert.
func (r Receipt) Succeeded() bool {
	return r.Status == statusSuccess
}

// RevertReason renders the revert for display; empty when the call succeeded.
func (r Receipt) RevertReason() string {
	if r.Succeeded() {
		return ""
	}
	if r.Revert == nil {
		return FormatRevert("", nil)
	}
	return FormatRevert(r.Revert.Name, r.Revert.Args)
}

// Submitter sends system calls on behalf of the player's wallet.
type Submitter interface {
	SystemCall(ctx context.Context, call SystemCall) (Receipt, error)
}

// HTTPDoer executes a prepared request.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type RelayConfig struct {
	URL        string
	HTTPClient HTTPDoer
	Logger     *zap.Logger
}

// RelayClient forwards system calls to a signing relay that owns the wallet.
type RelayClient struct {
	url        string
	httpClient HTTPDoer
	logger     *zap.Logger
}

func NewRelayClient(cfg RelayConfig) (*RelayClient, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errMissingRelayURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayClient{url: url, httpClient: httpClient, logger: logger}, nil
}

type relayPayload struct {
	SystemID     string `json:"systemId"`
	ABI          string `json:"abi"`
	FunctionName string `json:"functionName"`
	Args         []any  `json:"args"`
	CallData     string `json:"callData"`
}

// SystemCall packs the call against its ABI, posts it to the relay and decodes the receipt.
// A reverted receipt is returned together with a *ChainError.
func (c *RelayClient) SystemCall(ctx context.Context, call SystemCall) (Receipt, error) {
	callData, err := PackCall(call)
	if err != nil {
		return Receipt{}, &ChainError{Function: call.FunctionName, Reason: "invalid call", Err: err}
	}
	body, err := json.Marshal(relayPayload{
		SystemID:     call.SystemID.Hex(),
		ABI:          call.ABI,
		FunctionName: call.FunctionName,
		Args:         jsonArgs(call.Args),
		CallData:     hexutil.Encode(callData),
	})
	if err != nil {
		return Receipt{}, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("relay request failed", zap.String("function", call.FunctionName), zap.Error(err))
		return Receipt{}, &ChainError{Function: call.FunctionName, Err: err}
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return Receipt{}, &ChainError{Function: call.FunctionName, Err: err}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		reason := strings.TrimSpace(string(responseBody))
		if reason == "" {
			reason = fmt.Sprintf("relay request failed with status %d", response.StatusCode)
		}
		return Receipt{}, &ChainError{Function: call.FunctionName, Reason: reason}
	}

	receipt, err := decodeReceipt(responseBody)
	if err != nil {
		return Receipt{}, &ChainError{Function: call.FunctionName, Err: err}
	}
	if !receipt.Succeeded() {
		c.logger.Info("system call reverted",
			zap.String("function", call.FunctionName),
			zap.String("reason", receipt.RevertReason()))
		return receipt, &ChainError{Function: call.FunctionName, Reason: receipt.RevertReason()}
	}
	return receipt, nil
}

// PackCall validates the function against the ABI and returns the encoded calldata.
func PackCall(call SystemCall) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(call.ABI))
	if err != nil {
		return nil, err
	}
	if _, ok := parsed.Methods[call.FunctionName]; !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownFunction, call.FunctionName)
	}
	return parsed.Pack(call.FunctionName, call.Args...)
}

func decodeReceipt(body []byte) (Receipt, error) {
	if !gjson.ValidBytes(body) {
		return Receipt{}, errors.New("chain: malformed relay receipt")
	}
	parsed := gjson.ParseBytes(body)
	receipt := Receipt{
		TransactionHash: strings.ToLower(parsed.Get("transactionHash").String()),
		Status:          strings.ToLower(parsed.Get("status").String()),
	}
	if receipt.Status == "" {
		receipt.Status = statusSuccess
	}
	if receipt.Status != statusSuccess {
		receipt.Status = statusReverted
		revert := parsed.Get("revert")
		if revert.Exists() {
			decoded := &Revert{Name: revert.Get("name").String()}
			for _, arg := range revert.Get("args").Array() {
				decoded.Args = append(decoded.Args, arg.String())
			}
			receipt.Revert = decoded
		}
	}
	return receipt, nil
}

func jsonArgs(args []any) []any {
	converted := make([]any, 0, len(args))
	for _, arg := range args {
		switch value := arg.(type) {
		case [32]byte:
			converted = append(converted, hexutil.Encode(value[:]))
		case common.Hash:
			converted = append(converted, value.Hex())
		case *big.Int:
			converted = append(converted, value.String())
		default:
			converted = append(converted, arg)
		}
	}
	return converted
}

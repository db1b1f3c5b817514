package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/tidwall/gjson"
)

const testABI = `[{"type":"function","name":"createNote","stateMutability":"nonpayable","inputs":[{"name":"noteId","type":"bytes32"},{"name":"title","type":"string"},{"name":"tags","type":"string[]"}],"outputs":[]}]`

func TestSystemIDLayout(t *testing.T) {
	id, err := SystemID("dailydust", "NoteSystem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "0x" + hex.EncodeToString([]byte("sy")) +
		hex.EncodeToString([]byte("dailydust")) + strings.Repeat("00", 5) +
		hex.EncodeToString([]byte("NoteSystem")) + strings.Repeat("00", 6)
	if id.Hex() != expected {
		t.Fatalf("unexpected system id\n got %s\nwant %s", id.Hex(), expected)
	}

	truncated, err := SystemID("dailydust", "AVeryLongSystemNameIndeed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(truncated[16:]) != "AVeryLongSystemN" {
		t.Fatalf("expected name truncated to 16 bytes, got %q", string(truncated[16:]))
	}

	if _, err := SystemID("namespace-too-long", "NoteSystem"); !errors.Is(err, ErrNamespaceTooLong) {
		t.Fatalf("expected namespace error, got %v", err)
	}
	if _, err := SystemID("dailydust", ""); !errors.Is(err, ErrEmptySystemName) {
		t.Fatalf("expected empty name error, got %v", err)
	}
}

func TestBlockEntityIDEncodesSignedCoordinates(t *testing.T) {
	id := BlockEntityID(1, -1, 256)
	expected := "0x03" + "00000001" + "ffffffff" + "00000100" + strings.Repeat("00", 19)
	if id.Hex() != expected {
		t.Fatalf("unexpected entity id\n got %s\nwant %s", id.Hex(), expected)
	}

	fromDomain, err := EntityIDForCoordinates(1, -1, 256)
	if err != nil || fromDomain != expected {
		t.Fatalf("expected %s, got %s (%v)", expected, fromDomain, err)
	}
	if _, err := EntityIDForCoordinates(1<<40, 0, 0); !errors.Is(err, ErrCoordinateRange) {
		t.Fatalf("expected range error, got %v", err)
	}

	x, y, z, ok := DecodeBlockEntityID("0x1234")
	if ok {
		t.Fatalf("expected malformed id to be rejected, got %d %d %d", x, y, z)
	}
	x, y, z, ok = DecodeBlockEntityID(expected)
	if !ok || x != 1 || y != -1 || z != 256 {
		t.Fatalf("expected (1,-1,256), got (%d,%d,%d) ok=%v", x, y, z, ok)
	}
	if _, _, _, ok := DecodeBlockEntityID("0x04" + expected[4:]); ok {
		t.Fatalf("expected other entity types to be rejected")
	}
}

func TestFormatRevert(t *testing.T) {
	testCases := []struct {
		name     string
		errName  string
		args     []string
		expected string
	}{
		{name: "with args", errName: "NotOwner", args: []string{"0xabc", "7"}, expected: "NotOwner: 0xabc, 7"},
		{name: "no args", errName: "Paused", expected: "Paused"},
		{name: "unknown", errName: " ", expected: "transaction reverted"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := FormatRevert(testCase.errName, testCase.args); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func testCall(t *testing.T) SystemCall {
	t.Helper()
	systemID, err := SystemID("dailydust", "NoteSystem")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var noteID [32]byte
	noteID[31] = 0x01
	return SystemCall{
		SystemID:     systemID,
		ABI:          testABI,
		FunctionName: "createNote",
		Args:         []any{noteID, "Hello", []string{"a", "b"}},
	}
}

func TestRelayClientPostsPackedCall(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		captured, _ = io.ReadAll(request.Body)
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"transactionHash":"0xABC","status":"success"}`))
	}))
	defer server.Close()

	client, err := NewRelayClient(RelayConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	call := testCall(t)
	receipt, err := client.SystemCall(context.Background(), call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.Succeeded() || receipt.TransactionHash != "0xabc" {
		t.Fatalf("unexpected receipt %#v", receipt)
	}

	payload := gjson.ParseBytes(captured)
	if payload.Get("systemId").String() != call.SystemID.Hex() {
		t.Fatalf("unexpected system id in payload: %s", captured)
	}
	if payload.Get("functionName").String() != "createNote" {
		t.Fatalf("unexpected function in payload: %s", captured)
	}
	if payload.Get("args.0").String() != "0x"+strings.Repeat("00", 31)+"01" {
		t.Fatalf("expected bytes32 arg rendered as hex: %s", captured)
	}
	parsed, err := abi.JSON(strings.NewReader(testABI))
	if err != nil {
		t.Fatalf("unexpected abi error: %v", err)
	}
	selector := "0x" + hex.EncodeToString(parsed.Methods["createNote"].ID)
	if !strings.HasPrefix(payload.Get("callData").String(), selector) {
		t.Fatalf("expected calldata to start with selector %s", selector)
	}
}

func TestRelayClientSurfacesRevert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = writer.Write([]byte(`{"transactionHash":"0x1","status":"reverted","revert":{"name":"NotOwner","args":["0xb1"]}}`))
	}))
	defer server.Close()

	client, err := NewRelayClient(RelayConfig{URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	receipt, err := client.SystemCall(context.Background(), testCall(t))
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected chain error, got %v", err)
	}
	if chainErr.Reason != "NotOwner: 0xb1" || chainErr.Function != "createNote" {
		t.Fatalf("unexpected chain error %#v", chainErr)
	}
	if receipt.Succeeded() {
		t.Fatalf("expected reverted receipt")
	}
}

func TestRelayClientNonSuccessStatus(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected string
	}{
		{name: "body", body: "wallet locked", expected: "wallet locked"},
		{name: "empty body", body: "", expected: "relay request failed with status 502"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
				writer.WriteHeader(http.StatusBadGateway)
				_, _ = writer.Write([]byte(testCase.body))
			}))
			defer server.Close()

			client, err := NewRelayClient(RelayConfig{URL: server.URL})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, err = client.SystemCall(context.Background(), testCall(t))
			var chainErr *ChainError
			if !errors.As(err, &chainErr) || chainErr.Reason != testCase.expected {
				t.Fatalf("expected reason %q, got %v", testCase.expected, err)
			}
		})
	}
}

func TestPackCallRejectsUnknownFunction(t *testing.T) {
	call := testCall(t)
	call.FunctionName = "deleteEverything"
	if _, err := PackCall(call); !errors.Is(err, errUnknownFunction) {
		t.Fatalf("expected unknown function error, got %v", err)
	}
}

func TestNewRelayClientRequiresURL(t *testing.T) {
	if _, err := NewRelayClient(RelayConfig{URL: "  "}); !errors.Is(err, errMissingRelayURL) {
		t.Fatalf("expected missing url error, got %v", err)
	}
}

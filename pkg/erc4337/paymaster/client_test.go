package paymaster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
)

var entryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

type capturedRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newPaymasterServer replies to each call with the given raw JSON body and
// records the decoded requests.
func newPaymasterServer(t *testing.T, status int, body string, seen *[]capturedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if seen != nil {
			*seen = append(*seen, req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSupportedTokensRequest(t *testing.T) {
	var seen []capturedRequest
	server := newPaymasterServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"tokens":[
		{"address":"0xC86Fed58edF0981e927160C50ecB8a8B05B32fed","symbol":"USDT","decimals":"6","prepay":true}
	]}}`, &seen)

	client := NewClient(server.URL, "api-key", entryPoint, nil)
	sender := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	tokens, err := client.SupportedTokens(context.Background(), ProbeOperation(sender))
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "USDT", tokens[0]["symbol"])

	require.Len(t, seen, 1)
	assert.Equal(t, MethodSupportedTokens, seen[0].Method)
	require.Len(t, seen[0].Params, 3)
	assert.JSONEq(t, `"api-key"`, string(seen[0].Params[1]))
	assert.JSONEq(t, `"`+entryPoint.Hex()+`"`, string(seen[0].Params[2]))

	var probe map[string]string
	require.NoError(t, json.Unmarshal(seen[0].Params[0], &probe))
	assert.Equal(t, "0x0", probe["nonce"])
	assert.Equal(t, "0x88b8", probe["callGasLimit"])
	assert.Equal(t, "0x33450", probe["verificationGasLimit"])
	assert.Equal(t, "0xc350", probe["preVerificationGas"])
	assert.Equal(t, "0x2162553062", probe["maxFeePerGas"])
	assert.Equal(t, "0x40dbcf36", probe["maxPriorityFeePerGas"])
	assert.Equal(t, "0x", probe["initCode"])
	assert.Equal(t, "0x", probe["signature"])
}

func TestSponsorUserOp(t *testing.T) {
	var seen []capturedRequest
	pmData := "0x" + common.Bytes2Hex(paymasterAddr.Bytes()) + "01" + common.Bytes2Hex(tokenAddr.Bytes()) + "deadbeef"
	server := newPaymasterServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{
		"paymasterAndData":"`+pmData+`",
		"preVerificationGas":"0xd000",
		"callGasLimit":"0x50000"
	}}`, &seen)

	client := NewClient(server.URL, "api-key", entryPoint, nil)
	draft := draftOp()

	op, err := client.SponsorUserOp(context.Background(), draft, PrepayStrategy(tokenAddr))
	require.NoError(t, err)

	assert.Equal(t, pmData, "0x"+common.Bytes2Hex(op.PaymasterAndData))
	assert.Equal(t, int64(0xd000), op.PreVerificationGas.Int64())
	assert.Equal(t, int64(0x50000), op.CallGasLimit.Int64())
	assert.Equal(t, draft.VerificationGasLimit, op.VerificationGasLimit)
	assert.Equal(t, int64(300000), draft.CallGasLimit.Int64(), "draft must stay untouched")

	require.Len(t, seen, 1)
	assert.Equal(t, MethodSponsorUserOp, seen[0].Method)
	require.Len(t, seen[0].Params, 4)
	assert.JSONEq(t, `{"type":"1","token":"`+tokenAddr.Hex()+`"}`, string(seen[0].Params[3]))
}

func TestSponsorUserOpSponsoredContext(t *testing.T) {
	var seen []capturedRequest
	pmData := "0x" + common.Bytes2Hex(paymasterAddr.Bytes()) + "00"
	server := newPaymasterServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"paymasterAndData":"`+pmData+`"}}`, &seen)

	client := NewClient(server.URL, "", entryPoint, nil)
	_, err := client.SponsorUserOp(context.Background(), draftOp(), SponsoredStrategy())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"0"}`, string(seen[0].Params[3]))
}

func TestSponsorUserOpRejected(t *testing.T) {
	server := newPaymasterServer(t, http.StatusOK,
		`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"insufficient token balance"}}`, nil)

	client := NewClient(server.URL, "api-key", entryPoint, nil)
	op, err := client.SponsorUserOp(context.Background(), draftOp(), PostpayStrategy(tokenAddr))
	assert.Nil(t, op)

	var e *aaerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, aaerr.PaymasterRejected, e.Code)
	assert.Equal(t, aaerr.StageSponsor, e.Stage)
	assert.Equal(t, -32602, e.Details["rpcCode"])
}

func TestSponsorUserOpHTTPStatus(t *testing.T) {
	server := newPaymasterServer(t, http.StatusUnauthorized, `{"message":"bad api key"}`, nil)
	client := NewClient(server.URL, "api-key", entryPoint, nil)
	_, err := client.SponsorUserOp(context.Background(), draftOp(), SponsoredStrategy())
	assert.True(t, aaerr.HasCode(err, aaerr.PaymasterRejected), err)

	server = newPaymasterServer(t, http.StatusBadGateway, `upstream down`, nil)
	client = NewClient(server.URL, "api-key", entryPoint, nil)
	_, err = client.SponsorUserOp(context.Background(), draftOp(), SponsoredStrategy())
	assert.True(t, aaerr.HasCode(err, aaerr.NetworkUnavailable), err)
}

func TestSponsorUserOpUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, "api-key", entryPoint, nil)
	_, err := client.SponsorUserOp(context.Background(), draftOp(), SponsoredStrategy())
	assert.True(t, aaerr.HasCode(err, aaerr.NetworkUnavailable), err)
}

func TestSponsorUserOpMissingToken(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "api-key", entryPoint, nil)
	_, err := client.SponsorUserOp(context.Background(), draftOp(), Strategy{Kind: Prepay})
	assert.True(t, aaerr.HasCode(err, aaerr.MissingToken))
	assert.Equal(t, aaerr.StageNegotiate, aaerr.StageOf(err))
}

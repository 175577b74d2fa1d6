package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// fakeExecutor records the call and returns a canned receipt or error.
type fakeExecutor struct {
	receipt *contracts.Receipt
	err     error

	gotCapability string
	gotTenant     string
	gotScope      string
	gotParams     map[string]any
}

func (f *fakeExecutor) ExecuteCapability(ctx context.Context, capabilityID, tenantID, scope string, params map[string]any, requestID string) (*contracts.Receipt, error) {
	f.gotCapability = capabilityID
	f.gotTenant = tenantID
	f.gotScope = scope
	f.gotParams = params
	return f.receipt, f.err
}

func validEvent() map[string]any {
	return map[string]any{
		"intent_hash":   "0xabc",
		"chain_id":      float64(11155111),
		"tx_hash":       "0xdef",
		"block_number":  float64(123),
		"capability_id": "cap-search",
		"params":        map[string]any{"q": "x"},
		"sender":        solverAddr,
	}
}

func postIntent(t *testing.T, svc *Service, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/intents/inbound", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	svc.HandleInbound(rec, req)
	return rec
}

func TestHandleInboundExecutes(t *testing.T) {
	exec := &fakeExecutor{receipt: &contracts.Receipt{
		ReceiptID: "r-1", Status: contracts.StatusSuccess,
	}}
	svc := NewService(exec, NewTenantResolver("", ParseFallbackTenants(DefaultFallbackTenants)))

	rec := postIntent(t, svc, validEvent())
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "cap-search", exec.gotCapability)
	assert.Equal(t, "automaton", exec.gotTenant, "tenant resolved from sender")
	assert.Equal(t, "execute", exec.gotScope)
	assert.Equal(t, map[string]any{"q": "x"}, exec.gotParams)

	var body struct {
		Receipt           contracts.Receipt `json:"receipt"`
		IntentCorrelation map[string]any    `json:"intent_correlation"`
		RequestID         string            `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "r-1", body.Receipt.ReceiptID)
	assert.Equal(t, "0xabc", body.IntentCorrelation["intent_hash"])
	assert.Equal(t, "0xdef", body.IntentCorrelation["tx_hash"])
	assert.NotEmpty(t, body.RequestID)
}

func TestHandleInboundExplicitTenantWins(t *testing.T) {
	exec := &fakeExecutor{receipt: &contracts.Receipt{ReceiptID: "r-1"}}
	svc := NewService(exec, NewTenantResolver("", nil))

	event := validEvent()
	event["tenant_id"] = "tenant-explicit"
	rec := postIntent(t, svc, event)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant-explicit", exec.gotTenant)
}

func TestHandleInboundUnregisteredSender(t *testing.T) {
	exec := &fakeExecutor{}
	svc := NewService(exec, NewTenantResolver("", nil))

	event := validEvent()
	event["sender"] = "0xnobody"
	rec := postIntent(t, svc, event)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "0xnobody is not registered as a Moat tenant")
	assert.Empty(t, exec.gotCapability, "executor must not run")
}

func TestHandleInboundExecutionFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("capability lookup failed")}
	svc := NewService(exec, NewTenantResolver("", ParseFallbackTenants(DefaultFallbackTenants)))

	rec := postIntent(t, svc, validEvent())

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Intent execution failed")
}

func TestHandleInboundValidation(t *testing.T) {
	svc := NewService(&fakeExecutor{}, NewTenantResolver("", nil))

	for _, missing := range []string{"intent_hash", "capability_id", "sender", "tx_hash"} {
		event := validEvent()
		delete(event, missing)
		rec := postIntent(t, svc, event)
		assert.Equal(t, http.StatusBadRequest, rec.Code, missing)
	}
}

func TestHandleInboundMethodAndBody(t *testing.T) {
	svc := NewService(&fakeExecutor{}, NewTenantResolver("", nil))

	req := httptest.NewRequest(http.MethodGet, "/intents/inbound", nil)
	rec := httptest.NewRecorder()
	svc.HandleInbound(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/intents/inbound", bytes.NewReader([]byte("{broken")))
	rec = httptest.NewRecorder()
	svc.HandleInbound(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

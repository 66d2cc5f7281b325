package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/toncenter/jetton-lockup/cache"
	"github.com/toncenter/jetton-lockup/lockup"
	"github.com/toncenter/jetton-lockup/models"
	"github.com/toncenter/jetton-lockup/msgs"
)

const creationNow = 1_700_000_000

func testAddr(b byte) *address.Address {
	data := make([]byte, 32)
	data[0] = 0x3c
	data[31] = b
	return address.NewAddress(0, 0, data)
}

var (
	admin   = testAddr(1)
	claimer = testAddr(2)
	wallet  = testAddr(3)
)

func setupTestHandler(t *testing.T) (*Handler, *fiber.App, *miniredis.Miniredis) {
	h, _, app, mr := setupTestServer(t)
	return h, app, mr
}

func setupTestServer(t *testing.T) (*Handler, *Hub, *fiber.App, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler := NewHandler(cache.NewManager(client), nil, lockup.DefaultFees, logger) // no journal in tests
	handler.now = func() uint32 { return creationNow }

	hub := NewHub(logger)
	app := newApp(handler, hub, func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return handler, hub, app, mr
}

func setClock(h *Handler, now uint32) {
	h.now = func() uint32 { return now }
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func mustBase64(t *testing.T, s string) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	return data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return v
}

func deploy(t *testing.T, app *fiber.App) string {
	t.Helper()
	status, data := doRequest(t, app, http.MethodPost, "/deploy", models.DeployRequest{
		Admin:   admin.String(),
		Claimer: claimer.String(),
	})
	if status != http.StatusOK {
		t.Fatalf("deploy: status %d: %s", status, data)
	}
	return decode[models.DeployResponse](t, data).Lockup
}

func initializeBody(t *testing.T) string {
	t.Helper()
	body, err := msgs.Initialize{
		Balance:            big.NewInt(25000),
		JettonWallet:       wallet,
		CliffEndDate:       creationNow + 60,
		CliffNumerator:     12,
		CliffDenominator:   100,
		VestingPeriod:      30,
		VestingNumerator:   15,
		VestingDenominator: 100,
	}.ToCell()
	if err != nil {
		t.Fatalf("initialize body: %v", err)
	}
	return models.EncodeBOC(body)
}

func deliver(t *testing.T, app *fiber.App, req models.MessageRequest) (int, []byte) {
	t.Helper()
	return doRequest(t, app, http.MethodPost, "/message", req)
}

func deployInitialized(t *testing.T, app *fiber.App) string {
	t.Helper()
	lk := deploy(t, app)
	status, data := deliver(t, app, models.MessageRequest{
		Lockup: lk,
		Source: admin.String(),
		Value:  "1000000000",
		Body:   initializeBody(t),
	})
	if status != http.StatusOK {
		t.Fatalf("initialize: status %d: %s", status, data)
	}
	return lk
}

func TestDeployIsIdempotent(t *testing.T) {
	_, app, _ := setupTestHandler(t)

	first := deploy(t, app)
	second := deploy(t, app)
	if first != second {
		t.Fatalf("expected the same lockup, got %s and %s", first, second)
	}
	if want := lockup.StateAddress(admin, claimer).String(); first != want {
		t.Errorf("expected lockup %s, got %s", want, first)
	}

	status, data := doRequest(t, app, http.MethodGet, "/claimer/"+claimer.String()+"/lockups", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	got := decode[struct {
		Lockups []models.LockupState `json:"lockups"`
	}](t, data)
	if len(got.Lockups) != 1 || got.Lockups[0].Address != first {
		t.Errorf("expected one lockup for claimer, got %+v", got.Lockups)
	}
}

func TestInitializeThroughAPI(t *testing.T) {
	_, app, _ := setupTestHandler(t)
	lk := deploy(t, app)

	status, data := doRequest(t, app, http.MethodGet, "/lockup/"+lk+"/vesting_data", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 before init, got %d: %s", status, data)
	}
	if e := decode[models.RequestError](t, data); e.ExitCode != lockup.ErrNotInitialized.Code {
		t.Errorf("expected exit code %d, got %+v", lockup.ErrNotInitialized.Code, e)
	}

	status, data = deliver(t, app, models.MessageRequest{
		Lockup: lk,
		Source: admin.String(),
		Value:  "1000000000",
		Body:   initializeBody(t),
	})
	if status != http.StatusOK {
		t.Fatalf("initialize: status %d: %s", status, data)
	}
	resp := decode[models.MessageResponse](t, data)
	if len(resp.Out) != 1 {
		t.Fatalf("expected excess returned to admin, got %+v", resp.Out)
	}
	if resp.Out[0].Destination != admin.String() || resp.Out[0].Value != "950000000" || resp.Out[0].Bounce {
		t.Errorf("unexpected excess message: %+v", resp.Out[0])
	}
	if len(resp.Events) != 1 || resp.Events[0].Kind != "initialized" || resp.Events[0].Seqno != 1 {
		t.Errorf("unexpected events: %+v", resp.Events)
	}

	status, data = doRequest(t, app, http.MethodGet, "/lockup/"+lk+"/lockup_data", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	ld := decode[models.LockupData](t, data)
	if !ld.Init || ld.TokenBalance != "25000" || ld.TokenClaimed != "0" || ld.ClaimerAddress != claimer.String() {
		t.Errorf("unexpected lockup data: %+v", ld)
	}

	status, data = doRequest(t, app, http.MethodGet, "/lockup/"+lk+"/vesting_data", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	vd := decode[models.VestingData](t, data)
	if vd.UnlocksCount != 6 || vd.CliffUnlockAmount != "3000" || vd.VestingUnlockAmount != "3750" {
		t.Errorf("unexpected vesting data: %+v", vd)
	}

	// second initialize is rejected and changes nothing
	status, data = deliver(t, app, models.MessageRequest{
		Lockup: lk,
		Source: admin.String(),
		Value:  "1000000000",
		Body:   initializeBody(t),
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, data)
	}
	if e := decode[models.RequestError](t, data); e.ExitCode != lockup.ErrAlreadyInitialized.Code {
		t.Errorf("expected exit code %d, got %+v", lockup.ErrAlreadyInitialized.Code, e)
	}
}

func TestClaimAndBounceThroughAPI(t *testing.T) {
	h, app, _ := setupTestHandler(t)
	lk := deployInitialized(t, app)
	now := uint32(creationNow + 61)
	setClock(h, now)

	status, data := doRequest(t, app, http.MethodGet, fmt.Sprintf("/lockup/%s/claimable_tokens?now=%d", lk, now), nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	if v := decode[models.ValueResponse](t, data); v.Value != "3000" {
		t.Fatalf("expected 3000 claimable, got %s", v.Value)
	}

	status, data = deliver(t, app, models.MessageRequest{
		Lockup: lk,
		Source: claimer.String(),
		Value:  "1000000000",
		Body:   models.EncodeBOC(msgs.ClaimTokens{QueryID: 42}.ToCell()),
	})
	if status != http.StatusOK {
		t.Fatalf("claim: status %d: %s", status, data)
	}
	resp := decode[models.MessageResponse](t, data)
	if len(resp.Out) != 1 || resp.Out[0].Destination != wallet.String() || !resp.Out[0].Bounce {
		t.Fatalf("expected bounceable transfer to the wallet, got %+v", resp.Out)
	}
	if resp.Out[0].Value != "990000000" {
		t.Errorf("expected 990000000 forwarded, got %s", resp.Out[0].Value)
	}
	if len(resp.Events) != 1 || resp.Events[0].Kind != "claimed" || resp.Events[0].Amount != "3000" || resp.Events[0].QueryID != 42 {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
	transferID := resp.Events[0].TransferID
	transfer, err := cell.FromBOC(mustBase64(t, resp.Out[0].Body))
	if err != nil {
		t.Fatalf("transfer body: %v", err)
	}

	l, err := h.Lockup(context.Background(), lk)
	if err != nil {
		t.Fatalf("load lockup: %v", err)
	}
	if got := l.LockupData(); got.TokenClaimed.String() != "3000" || got.LastClaimed != now {
		t.Errorf("claim not committed: %+v", got)
	}

	status, data = doRequest(t, app, http.MethodGet, "/lockup/"+lk+"/pending", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	pending := decode[map[string][]models.PendingClaim](t, data)["pending"]
	if len(pending) != 1 || pending[0].QueryID != 42 || pending[0].TransferID != transferID || pending[0].Amount != "3000" {
		t.Errorf("unexpected pending claims: %+v", pending)
	}

	setClock(h, now+5)
	bounce := msgs.Bounce(transfer)
	status, data = deliver(t, app, models.MessageRequest{
		Lockup:  lk,
		Source:  wallet.String(),
		Value:   "900000000",
		Bounced: true,
		Body:    models.EncodeBOC(bounce),
	})
	if status != http.StatusOK {
		t.Fatalf("bounce: status %d: %s", status, data)
	}
	resp = decode[models.MessageResponse](t, data)
	if len(resp.Out) != 0 || len(resp.Events) != 1 || resp.Events[0].Kind != "rolled_back" || resp.Events[0].TransferID != transferID {
		t.Errorf("unexpected bounce result: %+v", resp)
	}

	status, data = doRequest(t, app, http.MethodGet, "/lockup/"+lk+"/lockup_data", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	ld := decode[models.LockupData](t, data)
	if ld.TokenBalance != "25000" || ld.TokenClaimed != "0" || ld.LastClaimed != 0 {
		t.Errorf("bounce did not restore the ledger: %+v", ld)
	}

	status, data = doRequest(t, app, http.MethodGet, "/lockup/"+lk+"/history", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	history := decode[map[string][]models.ClaimRecord](t, data)["history"]
	kinds := []string{}
	for _, rec := range history {
		kinds = append(kinds, rec.Kind)
	}
	if fmt.Sprint(kinds) != "[initialized claimed rolled_back]" {
		t.Errorf("unexpected history: %v", kinds)
	}
	if history[2].Seqno != 3 {
		t.Errorf("expected rollback at seqno 3, got %d", history[2].Seqno)
	}
}

func TestRejectedMessagesKeepState(t *testing.T) {
	h, app, mr := setupTestHandler(t)
	lk := deployInitialized(t, app)
	before, err := mr.Get("lk:" + lk)
	if err != nil {
		t.Fatalf("state not stored: %v", err)
	}

	cases := []struct {
		name string
		now  uint32
		req  models.MessageRequest
		code int
	}{
		{
			name: "claim from stranger",
			now:  creationNow + 61,
			req: models.MessageRequest{Source: testAddr(9).String(), Value: "1000000000",
				Body: models.EncodeBOC(msgs.ClaimTokens{QueryID: 1}.ToCell())},
			code: lockup.ErrUnauthorized.Code,
		},
		{
			name: "claim before cliff",
			now:  creationNow + 1,
			req: models.MessageRequest{Source: claimer.String(), Value: "1000000000",
				Body: models.EncodeBOC(msgs.ClaimTokens{QueryID: 1}.ToCell())},
			code: lockup.ErrNothingToClaim.Code,
		},
		{
			name: "claim without fee",
			now:  creationNow + 61,
			req: models.MessageRequest{Source: claimer.String(), Value: "1",
				Body: models.EncodeBOC(msgs.ClaimTokens{QueryID: 1}.ToCell())},
			code: lockup.ErrInsufficientFee.Code,
		},
		{
			name: "unknown op",
			now:  creationNow + 61,
			req: models.MessageRequest{Source: claimer.String(), Value: "1000000000",
				Body: models.EncodeBOC(cell.BeginCell().MustStoreUInt(0xdeadbeef, 32).EndCell())},
			code: lockup.ErrUnknownOp.Code,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setClock(h, tc.now)
			tc.req.Lockup = lk
			status, data := deliver(t, app, tc.req)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", status, data)
			}
			if e := decode[models.RequestError](t, data); e.ExitCode != tc.code {
				t.Errorf("expected exit code %d, got %+v", tc.code, e)
			}
			after, _ := mr.Get("lk:" + lk)
			if after != before {
				t.Errorf("state changed after a rejected message")
			}
		})
	}
}

func TestDeliveryIgnoresCallerClock(t *testing.T) {
	_, app, _ := setupTestHandler(t)
	lk := deployInitialized(t, app)

	status, data := doRequest(t, app, http.MethodPost, "/message", map[string]any{
		"lockup": lk,
		"source": claimer.String(),
		"value":  "1000000000",
		"body":   models.EncodeBOC(msgs.ClaimTokens{QueryID: 1}.ToCell()),
		"now":    4_000_000_000,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, data)
	}
	if e := decode[models.RequestError](t, data); e.ExitCode != lockup.ErrNothingToClaim.Code {
		t.Errorf("expected exit code %d, got %+v", lockup.ErrNothingToClaim.Code, e)
	}

	status, data = doRequest(t, app, http.MethodGet, "/lockup/"+lk+"/lockup_data", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	if ld := decode[models.LockupData](t, data); ld.TokenClaimed != "0" || ld.LastClaimed != 0 {
		t.Errorf("claim went through with the caller's clock: %+v", ld)
	}
}

func TestRequestErrors(t *testing.T) {
	_, app, _ := setupTestHandler(t)
	lk := deploy(t, app)
	unknown := lockup.StateAddress(admin, testAddr(7)).String()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown lockup", http.MethodGet, "/lockup/" + unknown + "/lockup_data", nil, http.StatusNotFound},
		{"bad address", http.MethodGet, "/lockup/nope/lockup_data", nil, http.StatusBadRequest},
		{"bad now", http.MethodGet, "/lockup/" + lk + "/claimable_tokens?now=-1", nil, http.StatusBadRequest},
		{"bad method id", http.MethodGet, "/lockup/" + lk + "/run_get_method/abc", nil, http.StatusBadRequest},
		{"no journal", http.MethodGet, "/lockup/" + lk + "/claims", nil, http.StatusNotImplemented},
		{"message without lockup", http.MethodPost, "/message", models.MessageRequest{Source: admin.String()}, http.StatusBadRequest},
		{"message with bad body", http.MethodPost, "/message", models.MessageRequest{Lockup: lk, Source: admin.String(), Body: "%%%"}, http.StatusBadRequest},
		{"message to unknown lockup", http.MethodPost, "/message", models.MessageRequest{Lockup: unknown, Source: admin.String()}, http.StatusNotFound},
		{"deploy with bad admin", http.MethodPost, "/deploy", models.DeployRequest{Admin: "x", Claimer: claimer.String()}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, data := doRequest(t, app, tc.method, tc.path, tc.body)
			if status != tc.status {
				t.Errorf("expected %d, got %d: %s", tc.status, status, data)
			}
		})
	}
}

func TestRunGetMethodThroughAPI(t *testing.T) {
	_, app, _ := setupTestHandler(t)
	lk := deployInitialized(t, app)

	path := func(name string, now uint32) string {
		return fmt.Sprintf("/lockup/%s/run_get_method/%d?now=%d", lk, lockup.MethodID(name), now)
	}

	status, data := doRequest(t, app, http.MethodGet, path(lockup.GetClaimableTokens, creationNow+61+30), nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	if v := decode[models.ValueResponse](t, data); v.Value != "6750" {
		t.Errorf("expected 6750 claimable after the first tranche, got %s", v.Value)
	}

	status, data = doRequest(t, app, http.MethodGet, path(lockup.GetMinFee, 0), nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	if v := decode[models.ValueResponse](t, data); v.Value != lockup.DefaultFees.MinClaimFee().String() {
		t.Errorf("unexpected min fee %s", v.Value)
	}

	status, data = doRequest(t, app, http.MethodGet, path(lockup.GetLockupData, 0), nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	if ld := decode[models.LockupData](t, data); !ld.Init || ld.AdminAddress != admin.String() {
		t.Errorf("unexpected lockup data: %+v", ld)
	}

	status, data = doRequest(t, app, http.MethodGet, fmt.Sprintf("/lockup/%s/run_get_method/12345", lk), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown method, got %d: %s", status, data)
	}

	status, data = doRequest(t, app, http.MethodGet, "/lockup/"+lk+"/timeline", nil)
	if status != http.StatusOK {
		t.Fatalf("status %d: %s", status, data)
	}
	unlocks := decode[map[string][]models.Unlock](t, data)["unlocks"]
	if len(unlocks) != 7 || unlocks[6].Unlocked != "25000" || unlocks[6].Amount != "3250" {
		t.Errorf("unexpected timeline: %+v", unlocks)
	}
}

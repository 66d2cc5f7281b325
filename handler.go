package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"

	"github.com/toncenter/jetton-lockup/cache"
	"github.com/toncenter/jetton-lockup/journal"
	"github.com/toncenter/jetton-lockup/lockup"
	"github.com/toncenter/jetton-lockup/models"
)

var errLockupNotFound = errors.New("lockup not found")

// requestError is a client mistake that never reached a lockup.
type requestError struct {
	msg string
}

func (e requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return requestError{msg: fmt.Sprintf(format, args...)}
}

// Handler hosts lockups: it delivers messages to them one at a time and
// keeps their state in redis.
type Handler struct {
	cache   *cache.Manager
	journal *journal.Journal
	fees    lockup.FeeEstimator
	log     *logrus.Logger

	locks sync.Map // lockup address -> *sync.Mutex
	now   func() uint32
}

// NewHandler creates a new handler. j may be nil, then events are only kept
// in the redis history.
func NewHandler(cache *cache.Manager, j *journal.Journal, fees lockup.FeeEstimator, logger *logrus.Logger) *Handler {
	return &Handler{
		cache:   cache,
		journal: j,
		fees:    fees,
		log:     logger,
		now:     func() uint32 { return uint32(time.Now().Unix()) },
	}
}

func (h *Handler) lock(key string) func() {
	m, _ := h.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Deploy registers an uninitialized lockup for admin and claimer. Deploying
// the same pair twice returns the existing lockup untouched.
func (h *Handler) Deploy(ctx context.Context, admin, claimer *address.Address) (*address.Address, error) {
	l := lockup.Deploy(admin, claimer, h.fees)
	key := l.Address().String()

	created, err := h.cache.States.SetNX(ctx, key, models.FromState(l.State()))
	if err != nil {
		return nil, fmt.Errorf("store lockup: %w", err)
	}
	if created {
		if err := h.cache.ByClaimer.Add(ctx, claimer.String(), float64(h.now()), key); err != nil {
			return nil, fmt.Errorf("index lockup: %w", err)
		}
		h.log.WithFields(logrus.Fields{
			"lockup":  key,
			"admin":   admin.String(),
			"claimer": claimer.String(),
		}).Info("lockup deployed")
	}
	return l.Address(), nil
}

func (h *Handler) load(ctx context.Context, key string) (*lockup.Lockup, error) {
	st, err := h.cache.States.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, errLockupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load lockup: %w", err)
	}
	state, err := st.ToState()
	if err != nil {
		return nil, fmt.Errorf("decode lockup %s: %w", key, err)
	}
	return lockup.Restore(state, h.fees)
}

// Deliver hands one message to the lockup at the server's clock and persists
// the outcome. Messages for the same lockup are processed strictly one after
// another.
func (h *Handler) Deliver(ctx context.Context, key string, req models.MessageRequest) (*lockup.Result, error) {
	unlock := h.lock(key)
	defer unlock()

	l, err := h.load(ctx, key)
	if err != nil {
		return nil, err
	}
	now := h.now()
	msg, err := req.ToInternalMessage(l.Address(), now)
	if err != nil {
		return nil, badRequest("%v", err)
	}

	entry := h.log.WithFields(logrus.Fields{
		"lockup":  key,
		"source":  msg.SrcAddr.String(),
		"value":   msg.Amount.Nano().String(),
		"bounced": msg.Bounced,
	})

	res, err := l.Receive(msg, now)
	if err != nil {
		var exit lockup.ExitError
		if errors.As(err, &exit) {
			entry.WithField("exit_code", exit.Code).Info("message rejected")
		}
		return nil, err
	}

	if err := h.cache.States.Set(ctx, key, models.FromState(l.State()), 0); err != nil {
		return nil, fmt.Errorf("store lockup: %w", err)
	}

	records := make([]models.ClaimRecord, 0, len(res.Events))
	for _, ev := range res.Events {
		rec := models.FromEvent(key, ev)
		records = append(records, rec)
		entry.WithFields(logrus.Fields{
			"event":    rec.Kind,
			"seqno":    rec.Seqno,
			"query_id": rec.QueryID,
			"amount":   rec.Amount,
		}).Info("lockup event")
		if err := h.cache.AppendHistory(ctx, rec); err != nil {
			entry.WithError(err).Warn("failed to append history")
		}
		if err := h.cache.Events.Publish(ctx, rec); err != nil {
			entry.WithError(err).Warn("failed to publish event")
		}
	}
	if h.journal != nil {
		if err := h.journal.Record(ctx, records); err != nil {
			entry.WithError(err).Error("failed to journal events")
		}
	}
	return res, nil
}

func (h *Handler) Lockup(ctx context.Context, key string) (*lockup.Lockup, error) {
	return h.load(ctx, key)
}

// ClaimerLockups returns the lockups deployed for claimer, oldest first.
func (h *Handler) ClaimerLockups(ctx context.Context, claimer string) ([]models.LockupState, error) {
	keys, err := h.cache.ByClaimer.GetAll(ctx, claimer)
	if err != nil {
		return nil, err
	}
	states, err := h.cache.States.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	res := make([]models.LockupState, 0, len(keys))
	for _, k := range keys {
		if st, ok := states[k]; ok {
			res = append(res, st)
		}
	}
	return res, nil
}

// normalizeAddress maps any accepted address form to the key lockups are stored by.
func normalizeAddress(s string) (*address.Address, error) {
	addr, err := models.ParseAddress(s)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	return addr, nil
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	var exit lockup.ExitError
	var reqErr requestError
	switch {
	case errors.As(err, &exit):
		return c.Status(fiber.StatusBadRequest).JSON(models.RequestError{Error: exit.Message, ExitCode: exit.Code})
	case errors.As(err, &reqErr):
		return c.Status(fiber.StatusBadRequest).JSON(models.RequestError{Error: reqErr.msg})
	case errors.Is(err, errLockupNotFound):
		return c.Status(fiber.StatusNotFound).JSON(models.RequestError{Error: err.Error()})
	}
	h.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(models.RequestError{Error: "internal error"})
}

func (h *Handler) lockupParam(c *fiber.Ctx) (*lockup.Lockup, error) {
	addr, err := normalizeAddress(c.Params("id"))
	if err != nil {
		return nil, err
	}
	return h.load(c.Context(), addr.String())
}

func (h *Handler) nowParam(c *fiber.Ctx) (uint32, error) {
	raw := c.Query("now")
	if raw == "" {
		return h.now(), nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, badRequest("invalid now %q", raw)
	}
	return uint32(v), nil
}

func value(v *big.Int) models.ValueResponse {
	return models.ValueResponse{Value: v.String()}
}

// Register adds the lockup routes to app.
func (h *Handler) Register(app *fiber.App) {
	app.Post("/deploy", h.postDeploy)
	app.Post("/message", h.postMessage)

	app.Get("/claimer/:address/lockups", h.getClaimerLockups)

	lk := app.Group("/lockup/:id")
	lk.Get("/lockup_data", h.getLockupData)
	lk.Get("/vesting_data", h.getVestingData)
	lk.Get("/claimable_tokens", h.getClaimableTokens)
	lk.Get("/min_fee", h.getMinFee)
	lk.Get("/init_storage_fee", h.getInitStorageFee)
	lk.Get("/timeline", h.getTimeline)
	lk.Get("/pending", h.getPending)
	lk.Get("/history", h.getHistory)
	lk.Get("/claims", h.getClaims)
	lk.Get("/run_get_method/:method_id", h.runGetMethod)
}

// @summary Deploy lockup
// @description Registers an uninitialized lockup for the admin and claimer pair. Deploying the same pair again returns the existing lockup.
// @id deploy_lockup
// @tags lockup
// @Accept json
// @Produce json
// @param request body models.DeployRequest true "Admin and claimer addresses"
// @success 200 {object} models.DeployResponse
// @failure 400 {object} models.RequestError
// @router /deploy [post]
func (h *Handler) postDeploy(c *fiber.Ctx) error {
	var req models.DeployRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badRequest("invalid request body"))
	}
	admin, err := normalizeAddress(req.Admin)
	if err != nil {
		return h.fail(c, err)
	}
	claimer, err := normalizeAddress(req.Claimer)
	if err != nil {
		return h.fail(c, err)
	}
	addr, err := h.Deploy(c.Context(), admin, claimer)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(models.DeployResponse{Lockup: addr.String()})
}

// @summary Deliver message
// @description Delivers one internal message to a lockup at the server's clock. Rejected messages return the exit code and change nothing.
// @id deliver_message
// @tags lockup
// @Accept json
// @Produce json
// @param request body models.MessageRequest true "Internal message"
// @success 200 {object} models.MessageResponse
// @failure 400 {object} models.RequestError
// @failure 404 {object} models.RequestError
// @router /message [post]
func (h *Handler) postMessage(c *fiber.Ctx) error {
	var req models.MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, badRequest("invalid request body"))
	}
	if req.Lockup == "" {
		return h.fail(c, badRequest("lockup is required"))
	}
	addr, err := normalizeAddress(req.Lockup)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.Deliver(c.Context(), addr.String(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(models.FromResult(res))
}

// @summary Get claimer lockups
// @description Returns the lockups deployed for a claimer, oldest first.
// @id get_claimer_lockups
// @tags lockup
// @Produce json
// @param address path string true "Claimer address"
// @success 200 {object} object{lockups=[]models.LockupState}
// @failure 400 {object} models.RequestError
// @router /claimer/{address}/lockups [get]
func (h *Handler) getClaimerLockups(c *fiber.Ctx) error {
	claimer, err := normalizeAddress(c.Params("address"))
	if err != nil {
		return h.fail(c, err)
	}
	states, err := h.ClaimerLockups(c.Context(), claimer.String())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"lockups": states})
}

// @summary Get lockup data
// @id get_lockup_data
// @tags getters
// @Produce json
// @param id path string true "Lockup address"
// @success 200 {object} models.LockupData
// @failure 404 {object} models.RequestError
// @router /lockup/{id}/lockup_data [get]
func (h *Handler) getLockupData(c *fiber.Ctx) error {
	l, err := h.lockupParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(models.FromLockupData(l.LockupData()))
}

// @summary Get vesting data
// @description Fails with exit code 9 until the lockup is initialized.
// @id get_vesting_data
// @tags getters
// @Produce json
// @param id path string true "Lockup address"
// @success 200 {object} models.VestingData
// @failure 400 {object} models.RequestError
// @failure 404 {object} models.RequestError
// @router /lockup/{id}/vesting_data [get]
func (h *Handler) getVestingData(c *fiber.Ctx) error {
	l, err := h.lockupParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	data, err := l.VestingData()
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(models.FromVestingData(data))
}

// @summary Get claimable tokens
// @id get_claimable_tokens
// @tags getters
// @Produce json
// @param id path string true "Lockup address"
// @param now query int false "Unix time to evaluate at, server time by default" minimum(0)
// @success 200 {object} models.ValueResponse
// @failure 400 {object} models.RequestError
// @failure 404 {object} models.RequestError
// @router /lockup/{id}/claimable_tokens [get]
func (h *Handler) getClaimableTokens(c *fiber.Ctx) error {
	l, err := h.lockupParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	now, err := h.nowParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(value(l.ClaimableTokens(now)))
}

// @summary Get min claim fee
// @id get_min_fee
// @tags getters
// @Produce json
// @param id path string true "Lockup address"
// @success 200 {object} models.ValueResponse
// @failure 404 {object} models.RequestError
// @router /lockup/{id}/min_fee [get]
func (h *Handler) getMinFee(c *fiber.Ctx) error {
	l, err := h.lockupParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(value(l.MinFee()))
}

// @summary Get init storage fee
// @id get_init_storage_fee
// @tags getters
// @Produce json
// @param id path string true "Lockup address"
// @success 200 {object} models.ValueResponse
// @failure 404 {object} models.RequestError
// @router /lockup/{id}/init_storage_fee [get]
func (h *Handler) getInitStorageFee(c *fiber.Ctx) error {
	l, err := h.lockupParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(value(l.InitStorageFee()))
}

// @summary Get unlock timeline
// @id get_timeline
// @tags getters
// @Produce json
// @param id path string true "Lockup address"
// @success 200 {object} object{unlocks=[]models.Unlock}
// @failure 400 {object} models.RequestError
// @failure 404 {object} models.RequestError
// @router /lockup/{id}/timeline [get]
func (h *Handler) getTimeline(c *fiber.Ctx) error {
	l, err := h.lockupParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	unlocks, err := l.Timeline()
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"unlocks": models.FromTimeline(unlocks)})
}

// @summary Get pending claims
// @description Claims whose transfer has neither bounced nor been followed by a later bounce.
// @id get_pending
// @tags lockup
// @Produce json
// @param id path string true "Lockup address"
// @success 200 {object} object{pending=[]models.PendingClaim}
// @failure 404 {object} models.RequestError
// @router /lockup/{id}/pending [get]
func (h *Handler) getPending(c *fiber.Ctx) error {
	l, err := h.lockupParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	pending := models.FromState(l.State()).Pending
	if pending == nil {
		pending = []models.PendingClaim{}
	}
	return c.JSON(fiber.Map{"pending": pending})
}

// @summary Get event history
// @id get_history
// @tags events
// @Produce json
// @param id path string true "Lockup address"
// @param from_seqno query int false "Only events with seqno >= from_seqno" minimum(0)
// @param limit query int false "Limit number of events" minimum(0)
// @success 200 {object} object{history=[]models.ClaimRecord}
// @failure 400 {object} models.RequestError
// @router /lockup/{id}/history [get]
func (h *Handler) getHistory(c *fiber.Ctx) error {
	addr, err := normalizeAddress(c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	from, err := strconv.ParseUint(c.Query("from_seqno", "0"), 10, 64)
	if err != nil {
		return h.fail(c, badRequest("invalid from_seqno"))
	}
	limit := c.QueryInt("limit", 0)
	records, err := h.cache.LoadHistory(c.Context(), addr.String(), from, int64(limit))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"history": records})
}

// @summary Get journaled events
// @description Reads the PostgreSQL journal. Returns 501 when the service runs without one.
// @id get_claims
// @tags events
// @Produce json
// @param id path string true "Lockup address"
// @param kind query string false "Event kind" Enums(initialized, claimed, rolled_back, bounce_ignored)
// @param limit query int32 false "Limit number of events" minimum(1) maximum(1000) default(100)
// @param offset query int32 false "Skip first N events" minimum(0)
// @success 200 {object} object{claims=[]models.ClaimRecord}
// @failure 400 {object} models.RequestError
// @failure 501 {object} models.RequestError
// @router /lockup/{id}/claims [get]
func (h *Handler) getClaims(c *fiber.Ctx) error {
	if h.journal == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(models.RequestError{Error: "journal is disabled"})
	}
	addr, err := normalizeAddress(c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	req := journal.ClaimsRequest{Lockup: addr.String()}
	if kind := c.Query("kind"); kind != "" {
		req.Kinds = []string{kind}
	}
	if v := c.QueryInt("limit", -1); v >= 0 {
		limit := int32(v)
		req.Limit = &limit
	}
	if v := c.QueryInt("offset", -1); v >= 0 {
		offset := int32(v)
		req.Offset = &offset
	}
	records, err := h.journal.Claims(c.Context(), req)
	if errors.Is(err, journal.ErrInvalidRequest) {
		return h.fail(c, badRequest("%v", err))
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"claims": records})
}

// @summary Run get-method
// @description Runs a get-method by its numeric id, like a node would.
// @id run_get_method
// @tags getters
// @Produce json
// @param id path string true "Lockup address"
// @param method_id path int true "Get-method id"
// @param now query int false "Unix time to evaluate at, server time by default" minimum(0)
// @success 200 {object} object
// @failure 400 {object} models.RequestError
// @failure 404 {object} models.RequestError
// @router /lockup/{id}/run_get_method/{method_id} [get]
func (h *Handler) runGetMethod(c *fiber.Ctx) error {
	l, err := h.lockupParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	id, err := strconv.ParseUint(c.Params("method_id"), 10, 64)
	if err != nil {
		return h.fail(c, badRequest("invalid method id"))
	}
	now, err := h.nowParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := l.RunGetMethod(id, now)
	if err != nil {
		return h.fail(c, err)
	}
	switch v := res.(type) {
	case lockup.LockupData:
		return c.JSON(models.FromLockupData(v))
	case lockup.VestingData:
		return c.JSON(models.FromVestingData(v))
	case *big.Int:
		return c.JSON(value(v))
	}
	return h.fail(c, fmt.Errorf("unexpected get-method result %T", res))
}

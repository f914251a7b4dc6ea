package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/chainraise/internal/adapters/assets"
	"github.com/viralforge/chainraise/internal/adapters/security"
	"github.com/viralforge/chainraise/internal/application"
	"github.com/viralforge/chainraise/internal/contracts"
	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

const maxBodyBytes = 1 << 20

// EventReader pages through the published event log.
type EventReader interface {
	List(after uint64, limit int) ([]contracts.EventLogEntry, uint64)
}

type Handler struct {
	service  *application.Service
	events   EventReader
	verifier ports.IdentityVerifier
	book     assets.Book
	gateway  *assets.Gateway
	logger   *slog.Logger
}

type HandlerDeps struct {
	Service  *application.Service
	Events   EventReader
	Verifier ports.IdentityVerifier
	// Book and Gateway enable the sandbox asset routes when both are set.
	Book    assets.Book
	Gateway *assets.Gateway
	Logger  *slog.Logger
}

func NewHandler(deps HandlerDeps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = security.PassthroughVerifier{}
	}
	return &Handler{
		service:  deps.Service,
		events:   deps.Events,
		verifier: verifier,
		book:     deps.Book,
		gateway:  deps.Gateway,
		logger:   logger,
	}
}

func (h *Handler) sandboxEnabled() bool { return h.book != nil && h.gateway != nil }

func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func campaignIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(chi.URLParam(r, "campaign_id")), 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidInput
	}
	return id, nil
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateCampaignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body", requestIDFromContext(r.Context()), nil)
		return
	}
	goal, err := domain.ParseAmount(req.Goal)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "goal must be a base-10 unsigned integer", requestIDFromContext(r.Context()), nil)
		return
	}
	c, err := h.service.CreateCampaign(r.Context(), actorFromContext(r.Context()), application.CreateCampaignInput{
		Asset:       req.Asset,
		Goal:        goal,
		Deadline:    req.Deadline,
		Description: req.Description,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "campaign created", toCampaignResponse(c))
}

func (h *Handler) lastCampaignID(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.LastCampaignID(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", contracts.LastCampaignIDResponse{LastCampaignID: id})
}

func (h *Handler) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	c, err := h.service.GetCampaign(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", toCampaignResponse(c))
}

func (h *Handler) fund(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req contracts.FundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body", requestIDFromContext(r.Context()), nil)
		return
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "amount must be a base-10 unsigned integer", requestIDFromContext(r.Context()), nil)
		return
	}
	t, err := h.service.Fund(r.Context(), actorFromContext(r.Context()), application.FundInput{CampaignID: id, Amount: amount})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "campaign funded", toTransferResponse(t))
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	t, err := h.service.Withdraw(r.Context(), actorFromContext(r.Context()), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "campaign withdrawn", toTransferResponse(t))
}

func (h *Handler) reimburse(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	t, err := h.service.Reimburse(r.Context(), actorFromContext(r.Context()), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "contribution reimbursed", toTransferResponse(t))
}

func (h *Handler) contribution(w http.ResponseWriter, r *http.Request) {
	id, err := campaignIDParam(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	funder := domain.NormalizePrincipal(chi.URLParam(r, "funder"))
	amount, err := h.service.GetContribution(r.Context(), id, funder)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", contracts.ContributionResponse{CampaignID: id, Funder: funder, Amount: amount.String()})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "event log not enabled", requestIDFromContext(r.Context()), nil)
		return
	}
	q := r.URL.Query()
	var after uint64
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "after must be an unsigned integer", requestIDFromContext(r.Context()), nil)
			return
		}
		after = v
	}
	limit := 100
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", requestIDFromContext(r.Context()), nil)
			return
		}
		limit = v
	}
	entries, next := h.events.List(after, limit)
	writeSuccess(w, http.StatusOK, "", contracts.EventLogResponse{Events: entries, Next: next})
}

func toCampaignResponse(c domain.Campaign) contracts.CampaignResponse {
	return contracts.CampaignResponse{
		CampaignID:  c.ID,
		Creator:     c.Creator,
		Asset:       c.Asset,
		Native:      c.IsNative(),
		Goal:        domain.CloneAmount(c.Goal).String(),
		Raised:      domain.CloneAmount(c.Raised).String(),
		Deadline:    c.Deadline.UTC(),
		Description: c.Description,
		Closed:      c.Closed,
	}
}

func toTransferResponse(t domain.Transfer) contracts.TransferResponse {
	return contracts.TransferResponse{
		CampaignID: t.CampaignID,
		Account:    t.Account,
		Amount:     domain.CloneAmount(t.Amount).String(),
		IsDeposit:  t.IsDeposit,
	}
}

func sandboxAmount(book assets.Book, asset string, req contracts.SandboxAmountRequest) (*big.Int, error) {
	if strings.TrimSpace(req.Units) != "" {
		return assets.ParseUnits(req.Units, book.Token(asset).Decimals)
	}
	return domain.ParseAmount(req.Amount)
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/chainraise/internal/adapters/assets"
	"github.com/viralforge/chainraise/internal/contracts"
	"github.com/viralforge/chainraise/internal/domain"
)

// Sandbox routes stand in for the external asset ledger so a local deployment can be
// exercised end to end. The caller mints to and approves from its own account.

func (h *Handler) sandboxMint(w http.ResponseWriter, r *http.Request) {
	asset := domain.NormalizeAsset(chi.URLParam(r, "asset"))
	var req contracts.SandboxAmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body", requestIDFromContext(r.Context()), nil)
		return
	}
	amount, err := sandboxAmount(h.book, asset, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	account := domain.NormalizePrincipal(actorFromContext(r.Context()).SubjectID)
	if err := h.book.Mint(r.Context(), asset, account, amount); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.writeBalance(w, r, "minted", asset, account)
}

func (h *Handler) sandboxApprove(w http.ResponseWriter, r *http.Request) {
	asset := domain.NormalizeAsset(chi.URLParam(r, "asset"))
	var req contracts.SandboxAmountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body", requestIDFromContext(r.Context()), nil)
		return
	}
	amount, err := sandboxAmount(h.book, asset, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	spender := req.Spender
	if spender == "" {
		spender = h.gateway.EscrowAccount()
	}
	owner := domain.NormalizePrincipal(actorFromContext(r.Context()).SubjectID)
	if err := h.book.Approve(r.Context(), asset, owner, spender, amount); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.writeBalance(w, r, "approved", asset, owner)
}

func (h *Handler) sandboxBalance(w http.ResponseWriter, r *http.Request) {
	asset := domain.NormalizeAsset(chi.URLParam(r, "asset"))
	account := domain.NormalizePrincipal(chi.URLParam(r, "account"))
	h.writeBalance(w, r, "", asset, account)
}

func (h *Handler) writeBalance(w http.ResponseWriter, r *http.Request, message, asset, account string) {
	balance, err := h.book.BalanceOf(r.Context(), asset, account)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	allowance, err := h.book.Allowance(r.Context(), asset, account, h.gateway.EscrowAccount())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, message, contracts.SandboxBalanceResponse{
		Asset:     asset,
		Account:   account,
		Balance:   balance.String(),
		Formatted: assets.FormatUnits(balance, h.book.Token(asset).Decimals),
		Allowance: allowance.String(),
	})
}

package rpc

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"magink/crypto"
)

type startParams struct {
	Era *uint64 `json:"era"`
}

type mintParams struct {
	DryRun bool `json:"dryRun"`
}

func (s *Server) handleMaginkStart(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params startParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	if params.Era == nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "era is required", nil)
		return
	}
	if *params.Era > math.MaxUint8 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("era must not exceed %d", math.MaxUint8), nil)
		return
	}
	profile, err := s.node.Start(r.Context(), caller, uint8(*params.Era))
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, profileResult(caller, profile))
}

func (s *Server) handleMaginkClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	profile, err := s.node.Claim(r.Context(), caller)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, profileResult(caller, profile))
}

func (s *Server) handleMaginkMintWizard(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params mintParams
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "at most one parameter object expected", nil)
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
			return
		}
	}
	id, err := s.node.MintWizard(r.Context(), caller, params.DryRun)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, MintResult{TokenID: id.Dec(), DryRun: params.DryRun})
}

func (s *Server) handleMaginkGetRemaining(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	left, err := s.node.Remaining(r.Context(), caller)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, left)
}

func (s *Server) handleMaginkGetRemainingFor(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	account, ok := parseAccountParam(w, req)
	if !ok {
		return
	}
	left, err := s.node.RemainingFor(r.Context(), account)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, left)
}

func (s *Server) handleMaginkGetBadges(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	badges, err := s.node.Badges(r.Context(), caller)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, badges)
}

func (s *Server) handleMaginkGetBadgesFor(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	account, ok := parseAccountParam(w, req)
	if !ok {
		return
	}
	badges, err := s.node.BadgesFor(r.Context(), account)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, badges)
}

func (s *Server) handleMaginkGetProfile(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	profile, err := s.node.Profile(r.Context(), caller)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, profileResult(caller, profile))
}

func (s *Server) handleMaginkGetAccountProfile(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	account, ok := parseAccountParam(w, req)
	if !ok {
		return
	}
	profile, err := s.node.AccountProfile(r.Context(), account)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, profileResult(account, profile))
}

func (s *Server) handleMaginkGetNextID(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	id, err := s.node.NextID(r.Context())
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, id.Dec())
}

func (s *Server) handleMaginkGetIsAlreadyMinted(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	account, ok := parseAccountParam(w, req)
	if !ok {
		return
	}
	minted, err := s.node.IsAlreadyMinted(r.Context(), account)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, minted)
}

func (s *Server) handleMaginkGetTokenImage(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	image, err := s.node.TokenImage(r.Context())
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, image)
}

func (s *Server) handleWizardOwner(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	owner, err := s.node.WizardOwner(r.Context())
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, owner.String())
}

func (s *Server) handleWizardOwnerOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "token id parameter required", nil)
		return
	}
	id, err := parseTokenID(req.Params[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid token id", err.Error())
		return
	}
	holder, err := s.node.WizardOwnerOf(r.Context(), id)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, holder.String())
}

func parseAccountParam(w http.ResponseWriter, req *RPCRequest) (crypto.Address, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "account parameter required", nil)
		return crypto.Address{}, false
	}
	var value string
	if err := json.Unmarshal(req.Params[0], &value); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "account must be a string", err.Error())
		return crypto.Address{}, false
	}
	account, err := crypto.ParseAddress(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to decode account", err.Error())
		return crypto.Address{}, false
	}
	return account, true
}

// parseTokenID accepts a JSON number or a decimal or 0x-prefixed string.
func parseTokenID(raw json.RawMessage) (*uint256.Int, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var number json.Number
		if err := json.Unmarshal(raw, &number); err != nil {
			return nil, fmt.Errorf("token id must be a number or string")
		}
		text = number.String()
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		return uint256.FromHex(text)
	}
	return uint256.FromDecimal(text)
}

package api

import (
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/coinjoin-coordinator/internal/round"
)

// Handler translates JSON requests into registry operations. All round
// rules live in the round package; nothing here mutates state directly.
type Handler struct {
	coordinator *round.Coordinator
}

// InputRef is one claimed UTXO on the wire.
type InputRef struct {
	Txid   string `json:"txid" binding:"required"`
	Vout   uint32 `json:"vout"`
	Amount int64  `json:"amount" binding:"required"` // in Satoshis
}

type registerInputsRequest struct {
	Inputs       []InputRef `json:"inputs" binding:"required"`
	ChangeScript string     `json:"changeScript" binding:"required"` // hex
}

type confirmRequest struct {
	AliceID string `json:"aliceId" binding:"required"`
}

type registerOutputRequest struct {
	OutputScript string `json:"outputScript" binding:"required"` // hex
}

type signatureRef struct {
	InputIndex int      `json:"inputIndex"`
	Witness    []string `json:"witness" binding:"required"` // hex stack items
}

type submitSignaturesRequest struct {
	AliceID    string         `json:"aliceId" binding:"required"`
	Signatures []signatureRef `json:"signatures" binding:"required"`
}

func (h *Handler) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Status())
}

func (h *Handler) handleRegisterInputs(c *gin.Context) {
	var req registerInputsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changeScript, err := hex.DecodeString(req.ChangeScript)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "changeScript is not valid hex"})
		return
	}

	inputs := make([]round.Input, 0, len(req.Inputs))
	for _, ref := range req.Inputs {
		hash, err := chainhash.NewHashFromStr(ref.Txid)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid txid: " + ref.Txid})
			return
		}
		inputs = append(inputs, round.Input{
			OutPoint: wire.OutPoint{Hash: *hash, Index: ref.Vout},
			Amount:   btcutil.Amount(ref.Amount),
		})
	}

	id, err := h.coordinator.RegisterInput(c.Request.Context(), inputs, changeScript)
	if err != nil {
		writeRoundError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"aliceId": id.String()})
}

func (h *Handler) handleConfirmConnection(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(req.AliceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "aliceId is not a valid uuid"})
		return
	}
	if err := h.coordinator.ConfirmConnection(id); err != nil {
		writeRoundError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": true})
}

func (h *Handler) handleRegisterOutput(c *gin.Context) {
	var req registerOutputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	script, err := hex.DecodeString(req.OutputScript)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outputScript is not valid hex"})
		return
	}
	if err := h.coordinator.RegisterOutput(script); err != nil {
		writeRoundError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": true})
}

func (h *Handler) handleSubmitSignatures(c *gin.Context) {
	var req submitSignaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(req.AliceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "aliceId is not a valid uuid"})
		return
	}

	for _, sig := range req.Signatures {
		witness := make(wire.TxWitness, 0, len(sig.Witness))
		for _, item := range sig.Witness {
			data, err := hex.DecodeString(item)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "witness item is not valid hex"})
				return
			}
			witness = append(witness, data)
		}
		if err := h.coordinator.SubmitSignature(id, sig.InputIndex, witness); err != nil {
			writeRoundError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"accepted": len(req.Signatures)})
}

func (h *Handler) handleAdvancePhase(c *gin.Context) {
	h.coordinator.AdvancePhase()
	c.JSON(http.StatusOK, gin.H{"advanced": true, "round": h.coordinator.Status()})
}

// writeRoundError maps registry error kinds onto HTTP statuses.
func writeRoundError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, round.ErrWrongPhase):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, round.ErrUnknownID):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, round.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

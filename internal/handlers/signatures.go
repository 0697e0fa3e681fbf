package handlers

import (
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/permission"
	"clinical-forms-server/internal/signatures"
	"clinical-forms-server/internal/utils"

	"github.com/gin-gonic/gin"
)

// SignatureHandler handles signature requests.
type SignatureHandler struct {
	Workflow *signatures.Workflow
	Denials  *DenialRecorder
}

// NewSignatureHandler creates a new SignatureHandler.
func NewSignatureHandler(workflow *signatures.Workflow, denials *DenialRecorder) *SignatureHandler {
	return &SignatureHandler{Workflow: workflow, Denials: denials}
}

// SignRequest represents the request body for signing a form.
type SignRequest struct {
	SignerRole    models.Role            `json:"signerRole" binding:"required"`
	SignatureType models.SignatureType   `json:"signatureType" binding:"required,oneof=digital electronic wet"`
	SignatureData string                 `json:"signatureData" binding:"required"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// RevokeRequest represents the request body for revoking a signature.
type RevokeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListSignatures handles listing the signatures of a form.
func (h *SignatureHandler) ListSignatures(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	sigs, err := h.Workflow.List(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionRead, err)
		return
	}
	utils.Success(c, "Signatures retrieved successfully", sigs)
}

// GetSignatureStatus handles reporting the signature progress of a form.
func (h *SignatureHandler) GetSignatureStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	st, err := h.Workflow.Status(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionRead, err)
		return
	}
	utils.Success(c, "Signature status retrieved successfully", st)
}

// SignForm handles adding the caller's signature to a form.
func (h *SignatureHandler) SignForm(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req SignRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	sig, err := h.Workflow.Sign(c.Request.Context(), c.Param("id"), signatures.SignInput{
		SignerRole:    req.SignerRole,
		SignatureType: req.SignatureType,
		SignatureData: req.SignatureData,
		Metadata:      req.Metadata,
	}, actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionSign, err)
		return
	}
	utils.Created(c, "Form signed successfully", sig)
}

// RevokeSignature handles revoking a signature.
func (h *SignatureHandler) RevokeSignature(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req RevokeRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	sig, err := h.Workflow.Revoke(c.Request.Context(), c.Param("id"), c.Param("signatureId"), req.Reason, actor)
	if err != nil {
		h.Denials.fail(c, c.Param("id"), permission.ActionRevokeSignature, err)
		return
	}
	utils.Success(c, "Signature revoked successfully", sig)
}

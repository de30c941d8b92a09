package handlers

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/stylistio/tryon-backend/internal/apierr"
	"github.com/stylistio/tryon-backend/internal/clients/gcp"
	"github.com/stylistio/tryon-backend/internal/services"
	"github.com/stylistio/tryon-backend/internal/types"
)

type ProfileHandler struct {
	profiles      services.ProfileService
	bucketService gcp.BucketService
}

func NewProfileHandler(profiles services.ProfileService, bucketService gcp.BucketService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, bucketService: bucketService}
}

// GET /api/me/profile
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profile, err := h.profiles.GetProfile(c.Request.Context(), nil)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, h.profilePayload(profile))
}

// POST /api/me/consent
func (h *ProfileHandler) AcceptConsent(c *gin.Context) {
	var body struct {
		Version string `json:"version"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondAPIError(c, apierr.InvalidRequest("invalid request body", err))
		return
	}
	profile, err := h.profiles.AcceptConsent(c.Request.Context(), nil, body.Version)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, h.profilePayload(profile))
}

// POST /api/me/persona
func (h *ProfileHandler) UploadPersona(c *gin.Context) {
	fileHeader, err := c.FormFile("persona")
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("persona file is required", err))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("could not read persona file", err))
		return
	}
	defer f.Close()
	blob, err := io.ReadAll(f)
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("could not read persona file", err))
		return
	}

	profile, err := h.profiles.UploadPersona(c.Request.Context(), nil, blob, fileHeader.Filename)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, h.profilePayload(profile))
}

func (h *ProfileHandler) profilePayload(p *types.Profile) gin.H {
	payload := gin.H{
		"profile": p,
		"quota":   services.BuildQuotaSnapshot(p),
	}
	if p != nil && p.PersonaPath != "" {
		payload["persona_url"] = h.bucketService.GetPublicURL(gcp.BucketCategoryPersona, p.PersonaPath)
	}
	return payload
}

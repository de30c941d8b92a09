package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stylistio/tryon-backend/internal/apierr"
	"github.com/stylistio/tryon-backend/internal/clients/gcp"
	"github.com/stylistio/tryon-backend/internal/services"
	"github.com/stylistio/tryon-backend/internal/types"
)

type GenerationHandler struct {
	generations   services.GenerationService
	bucketService gcp.BucketService
}

func NewGenerationHandler(generations services.GenerationService, bucketService gcp.BucketService) *GenerationHandler {
	return &GenerationHandler{generations: generations, bucketService: bucketService}
}

// POST /api/generations
func (h *GenerationHandler) CreateGeneration(c *gin.Context) {
	fileHeader, err := c.FormFile("garment")
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("garment file is required", err))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("could not read garment file", err))
		return
	}
	defer f.Close()
	blob, err := io.ReadAll(f)
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("could not read garment file", err))
		return
	}

	cmd := services.CreateGenerationCommand{
		Garment:         blob,
		GarmentFilename: fileHeader.Filename,
		ConsentVersion:  c.PostForm("consent_version"),
	}
	if raw := c.PostForm("retain_for_hours"); raw != "" {
		hours, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			RespondAPIError(c, apierr.InvalidRequest("retain_for_hours must be an integer", parseErr))
			return
		}
		cmd.RetainForHours = &hours
	}

	result, err := h.generations.CreateGeneration(c.Request.Context(), nil, cmd)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"generation": result})
}

// GET /api/generations
func (h *GenerationHandler) ListGenerations(c *gin.Context) {
	gens, err := h.generations.ListGenerations(c.Request.Context(), nil)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	now := time.Now()
	views := make([]*services.StatusView, 0, len(gens))
	for _, gen := range gens {
		views = append(views, services.BuildStatusView(gen, h.buildOptions(gen, now)))
	}
	RespondOK(c, gin.H{"generations": views})
}

// GET /api/generations/:id
func (h *GenerationHandler) GetGeneration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("invalid generation id", err))
		return
	}
	gen, err := h.generations.GetGeneration(c.Request.Context(), nil, id)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	view := services.BuildStatusView(gen, h.buildOptions(gen, time.Now()))
	RespondOK(c, gin.H{"generation": view, "record": gen})
}

// POST /api/generations/:id/rating
func (h *GenerationHandler) RateGeneration(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondAPIError(c, apierr.InvalidRequest("invalid generation id", err))
		return
	}
	var body struct {
		Rating int `json:"rating"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondAPIError(c, apierr.InvalidRequest("invalid request body", err))
		return
	}
	gen, err := h.generations.RateGeneration(c.Request.Context(), nil, id, body.Rating)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"generation": services.BuildStatusView(gen, h.buildOptions(gen, time.Now()))})
}

// buildOptions resolves stored object paths into public URLs for the view.
func (h *GenerationHandler) buildOptions(gen *types.Generation, now time.Time) services.BuildOptions {
	opts := services.BuildOptions{Now: now}
	if gen == nil {
		return opts
	}
	if gen.ResultPath != nil && *gen.ResultPath != "" {
		opts.ResultURL = h.bucketService.GetPublicURL(gcp.BucketCategoryResult, *gen.ResultPath)
	}
	if gen.PersonaSnapshotPath != "" {
		opts.PersonaURL = h.bucketService.GetPublicURL(gcp.BucketCategoryPersona, gen.PersonaSnapshotPath)
	}
	if gen.GarmentSnapshotPath != "" {
		opts.GarmentURL = h.bucketService.GetPublicURL(gcp.BucketCategoryGarment, gen.GarmentSnapshotPath)
	}
	return opts
}

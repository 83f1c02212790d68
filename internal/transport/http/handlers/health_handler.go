package handlers

import (
	"net/http"

	"github.com/momentic/lifeline-backend/internal/transport/http/dto"
	httperrors "github.com/momentic/lifeline-backend/internal/transport/http/errors"
)

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	httperrors.Write(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
}

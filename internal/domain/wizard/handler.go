package wizard

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/surgiform/surgiform/internal/platform/gateway"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the session API on api (normally /api/v1).
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions", h.CreateSession)
	api.DELETE("/sessions/:id", h.DeleteSession)

	api.GET("/sessions/:id/form", h.GetForm)
	api.PUT("/sessions/:id/form", h.UpdateForm)
	api.GET("/sessions/:id/validation", h.GetValidation)

	api.POST("/sessions/:id/consent/generate", h.GenerateConsent)
	api.GET("/sessions/:id/consent", h.GetConsent)
	api.PUT("/sessions/:id/consent", h.ReplaceConsent)
	api.GET("/sessions/:id/consent/sections", h.GetSections)
	api.POST("/sessions/:id/chat", h.Chat)

	api.PUT("/sessions/:id/signatures", h.SetSignatures)
	api.GET("/sessions/:id/document", h.GetDocument)
	api.POST("/sessions/:id/submit", h.Submit)
}

// -- Session Handlers --

func (h *Handler) CreateSession(c echo.Context) error {
	id := h.svc.CreateSession(c.Request().Context())
	return c.JSON(http.StatusCreated, map[string]string{"session_id": id})
}

func (h *Handler) DeleteSession(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if err := h.svc.ClearSession(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Form Handlers --

func (h *Handler) GetForm(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	form, err := h.svc.GetForm(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, form)
}

func (h *Handler) UpdateForm(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var upd FormUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.UpdateForm(c.Request().Context(), id, upd)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetValidation(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	steps, err := h.svc.Validation(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"steps": steps})
}

// -- Consent Handlers --

func (h *Handler) GenerateConsent(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	data, err := h.svc.Generate(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *Handler) GetConsent(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	data, err := h.svc.GetConsent(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *Handler) ReplaceConsent(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var upd ConsentUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	data, err := h.svc.ReplaceConsent(c.Request().Context(), id, upd)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *Handler) GetSections(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Sections(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Chat(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var in ChatInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Chat(c.Request().Context(), id, in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Signature & Document Handlers --

func (h *Handler) SetSignatures(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var sigs SignatureBundle
	if err := c.Bind(&sigs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetSignatures(c.Request().Context(), id, sigs); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetDocument(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Render(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", r.FileName))
	return c.Stream(http.StatusOK, "application/pdf", bytes.NewReader(r.Document.Data))
}

func (h *Handler) Submit(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Submit(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// -- Health --

// BackendHealth reports whether the generation backend answers its
// liveness probe.
func (h *Handler) BackendHealth(c echo.Context) error {
	if err := h.svc.BackendHealth(c.Request().Context()); err != nil {
		return c.JSON(gateway.HTTPStatus(err), map[string]string{
			"status": "unhealthy",
			"error":  gateway.UserMessage(err),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func sessionID(c echo.Context) (string, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, ErrInvalidSession.Error())
	}
	return id.String(), nil
}

// fail maps service errors to responses. Missing state asks the client to
// restart the wizard; gateway failures carry the fixed user message.
func (h *Handler) fail(c echo.Context, err error) error {
	var (
		incomplete *IncompleteFormError
		gerr       *gateway.Error
	)
	switch {
	case errors.Is(err, ErrMissingState):
		return c.JSON(http.StatusConflict, map[string]string{
			"error":  err.Error(),
			"resume": "start",
		})
	case errors.As(err, &incomplete):
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error": ErrIncompleteForm.Error(),
			"steps": incomplete.Steps,
		})
	case errors.Is(err, ErrUnknownStep), errors.Is(err, ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &gerr):
		return echo.NewHTTPError(gateway.HTTPStatus(err), gateway.UserMessage(err)).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

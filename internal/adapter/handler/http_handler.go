package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/logging"
)

const msgInternalError = "internal error"

type HTTPHandler struct {
	items      ItemManager
	deductions Deductor
	logger     *zap.Logger
}

type DeductHTTPRequest struct {
	ItemCode       string `json:"itemCode" validate:"required,max=50,itemcode"`
	Quantity       int64  `json:"quantity" validate:"required,min=1,max=999999"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=100,idemkey"`
}

type DeductHTTPResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	CurrentBalance int64  `json:"currentBalance"`
}

type CreateItemRequest struct {
	Code        string `json:"code" validate:"required,max=50,itemcode"`
	Description string `json:"description" validate:"required,min=3,max=200"`
	Balance     int64  `json:"balance" validate:"min=0,max=999999999999"`
}

type UpdateItemRequest struct {
	Description string `json:"description" validate:"required,min=3,max=200"`
	Balance     int64  `json:"balance" validate:"min=0,max=999999999999"`
}

type ItemResponse struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Description string     `json:"description"`
	Balance     int64      `json:"balance"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	Version     int64      `json:"version"`
}

type ItemListResponse struct {
	Items      []ItemResponse `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(items ItemManager, deductions Deductor, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{items: items, deductions: deductions, logger: logging.OrNop(logger)}
}

// NewApp builds the fiber app with every route registered.
func NewApp(h *HTTPHandler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "stock-ledger",
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	})
	app.Use(recover.New())
	app.Use(h.requestLogger)
	h.Register(app)
	return app
}

func (h *HTTPHandler) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	api := app.Group("/api/items")
	api.Post("/deduct", h.Deduct)
	api.Post("/", h.CreateItem)
	api.Get("/", h.ListItems)
	api.Get("/:id", h.GetItem)
	api.Put("/:id", h.UpdateItem)
	api.Delete("/:id", h.DeleteItem)
}

func (h *HTTPHandler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Deduct answers 200 on success (including replays), 400 with the result on
// business failures and 500 when the deduction could not be completed.
func (h *HTTPHandler) Deduct(c *fiber.Ctx) error {
	var req DeductHTTPRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(DeductHTTPResponse{Message: "invalid request body"})
	}
	if err := validateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(DeductHTTPResponse{Message: err.Error()})
	}

	result, err := h.deductions.Deduct(c.UserContext(), domain.DeductRequest{
		ItemCode:       req.ItemCode,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Error("deduction failed",
			zap.String("code", req.ItemCode),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(DeductHTTPResponse{Message: msgInternalError})
	}

	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(DeductHTTPResponse{
		Success:        result.Success,
		Message:        result.Message,
		CurrentBalance: result.CurrentBalance,
	})
}

func (h *HTTPHandler) CreateItem(c *fiber.Ctx) error {
	var req CreateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateStruct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	item, err := h.items.Create(c.UserContext(), req.Code, req.Description, req.Balance)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toItemResponse(*item))
}

func (h *HTTPHandler) GetItem(c *fiber.Ctx) error {
	item, err := h.items.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toItemResponse(*item))
}

func (h *HTTPHandler) UpdateItem(c *fiber.Ctx) error {
	var req UpdateItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateStruct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	item, err := h.items.Update(c.UserContext(), c.Params("id"), req.Description, req.Balance)
	if err != nil {
		return err
	}
	return c.JSON(toItemResponse(*item))
}

func (h *HTTPHandler) DeleteItem(c *fiber.Ctx) error {
	if err := h.items.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListItems takes page, pageSize, sort (alphabetical, recent, updated) and search.
func (h *HTTPHandler) ListItems(c *fiber.Ctx) error {
	q := domain.ItemQuery{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("pageSize", 10),
		Sort:     domain.ItemSort(c.Query("sort")),
		Search:   c.Query("search"),
	}
	if q.Page < 1 || q.PageSize < 1 || q.PageSize > 100 {
		return fiber.NewError(fiber.StatusBadRequest, "page must be at least 1 and pageSize between 1 and 100")
	}

	page, err := h.items.List(c.UserContext(), q)
	if err != nil {
		return err
	}

	res := ItemListResponse{
		Items:      make([]ItemResponse, 0, len(page.Items)),
		Total:      page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
	}
	for _, it := range page.Items {
		res.Items = append(res.Items, toItemResponse(it))
	}
	return c.JSON(res)
}

func (h *HTTPHandler) errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := msgInternalError

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status, message = fe.Code, fe.Message
	case errors.Is(err, domain.ErrItemNotFound):
		status, message = fiber.StatusNotFound, domain.MessageItemNotFound
	case errors.Is(err, domain.ErrCodeTaken):
		status, message = fiber.StatusConflict, "item code already in use"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		status, message = fiber.StatusConflict, "item was modified concurrently, reload and retry"
	default:
		h.logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(errorResponse{Error: message})
}

func (h *HTTPHandler) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	if err := c.Next(); err != nil {
		if herr := h.errorHandler(c, err); herr != nil {
			return herr
		}
	}
	h.logger.Debug("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("latency", time.Since(start)),
	)
	return nil
}

func toItemResponse(it domain.Item) ItemResponse {
	return ItemResponse{
		ID:          it.ID,
		Code:        it.Code,
		Description: it.Description,
		Balance:     it.Balance,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
		Version:     int64(it.Version),
	}
}

package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/LerianStudio/shared-vault/vault"
	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/gofiber/fiber/v2"
)

// OK sends an HTTP 200 OK response with a custom body.
func OK(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusOK).JSON(s)
}

// Created sends an HTTP 201 Created response with a custom body.
func Created(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusCreated).JSON(s)
}

// JSONResponse sends a custom status code and body as a JSON response.
func JSONResponse(c *fiber.Ctx, status int, s any) error {
	return c.Status(status).JSON(s)
}

// WriteError writes a vault.Response with the given status.
func WriteError(c *fiber.Ctx, status int, code, title, message string) error {
	return JSONResponse(c, status, vault.Response{
		Code:    code,
		Title:   title,
		Message: message,
	})
}

// WithError renders err. Known business errors keep their code and get a
// mapped status; anything else becomes a generic 500.
func WithError(c *fiber.Ctx, entityType string, err error, args ...any) error {
	var validationErr ValidationError
	if errors.As(err, &validationErr) {
		return WriteError(c, http.StatusBadRequest, constant.ErrInvalidRequest.Error(), "Invalid Request", validationErr.Error())
	}

	mapped := vault.ValidateBusinessError(err, entityType, args...)

	var response vault.Response
	if !errors.As(mapped, &response) {
		return WriteError(c, http.StatusInternalServerError, strconv.Itoa(http.StatusInternalServerError),
			"Internal Server Error", "The server encountered an unexpected error. Please try again later.")
	}

	return JSONResponse(c, statusFor(err), response)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, constant.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, constant.ErrVaultNotFound), errors.Is(err, constant.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, constant.ErrNotAuthorized), errors.Is(err, constant.ErrInvalidSignature):
		return http.StatusForbidden
	case errors.Is(err, constant.ErrCanNotBorrow),
		errors.Is(err, constant.ErrInsufficientPoolFunds),
		errors.Is(err, constant.ErrTransferFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, constant.ErrInvalidAmount),
		errors.Is(err, constant.ErrInvalidIdentity),
		errors.Is(err, constant.ErrArithmeticOverflow),
		errors.Is(err, constant.ErrArithmeticUnderflow),
		errors.Is(err, constant.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, constant.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

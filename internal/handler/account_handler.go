package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hstar0124/cpp-boost-chat/shared/cqrs"
	"github.com/hstar0124/cpp-boost-chat/shared/middleware"
	"github.com/hstar0124/cpp-boost-chat/shared/models"
)

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	CreateUser(context.Context, cqrs.CreateUserCommand) models.Response
	Login(context.Context, cqrs.LoginCommand) models.Response
	UpdateUser(context.Context, cqrs.UpdateUserCommand) models.Response
	DeleteUser(context.Context, cqrs.DeleteUserCommand) models.Response
	KeepAlive(context.Context, cqrs.KeepAliveCommand) models.Response
	Logout(context.Context, cqrs.LogoutCommand) models.Response
}

// AccountQuerier defines the read-side operations used by AccountHandler.
type AccountQuerier interface {
	GetUser(context.Context, cqrs.GetUserQuery) models.Response
}

// AccountHandler routes requests to the command or query service as appropriate.
type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
}

type CreateUserRequest struct {
	UserID   string `json:"userId" validate:"required,max=64,printascii"`
	Password string `json:"password" validate:"required,max=72"`
	Username string `json:"username" validate:"max=64"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type LoginRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UpdateUserRequest struct {
	UserID      string `json:"userId" validate:"required"`
	Password    string `json:"password" validate:"required"`
	NewPassword string `json:"newPassword" validate:"max=72"`
	NewUsername string `json:"newUsername" validate:"max=64"`
	NewEmail    string `json:"newEmail" validate:"omitempty,email"`
}

type DeleteUserRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries}
}

// RegisterRoutes mounts the /User endpoints. auth guards the session routes.
func (h *AccountHandler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	users := r.Group("/User")
	users.GET("/GetUser", h.GetUser)
	users.POST("/Create", h.CreateUser)
	users.POST("/Login", h.Login)
	users.POST("/Update", h.UpdateUser)
	users.POST("/Delete", h.DeleteUser)
	users.POST("/KeepAlive", auth, h.KeepAlive)
	users.POST("/Logout", auth, h.Logout)
}

// HTTPStatus maps an outcome to its HTTP status code.
func HTTPStatus(status models.StatusCode) int {
	switch status {
	case models.Success:
		return http.StatusOK
	case models.DifferentPassword:
		return http.StatusUnauthorized
	case models.UserNotExists:
		return http.StatusNotFound
	case models.UserIdAlreadyExists:
		return http.StatusConflict
	case models.ServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func respond(c *gin.Context, resp models.Response, successCode int) {
	code := HTTPStatus(resp.Status)
	if resp.Status == models.Success {
		code = successCode
	}
	c.JSON(code, resp)
}

// bind decodes and validates the JSON body, writing the error response itself.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.RespondWithError(c, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

func (h *AccountHandler) GetUser(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		middleware.RespondWithError(c, http.StatusBadRequest, "userId is required")
		return
	}

	resp := h.queries.GetUser(c.Request.Context(), cqrs.GetUserQuery{UserID: userID})
	respond(c, resp, http.StatusOK)
}

func (h *AccountHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !bind(c, &req) {
		return
	}

	resp := h.commands.CreateUser(c.Request.Context(), cqrs.CreateUserCommand{
		UserID:   req.UserID,
		Password: req.Password,
		Username: req.Username,
		Email:    req.Email,
	})
	respond(c, resp, http.StatusCreated)
}

func (h *AccountHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !bind(c, &req) {
		return
	}

	resp := h.commands.Login(c.Request.Context(), cqrs.LoginCommand{
		UserID:   req.UserID,
		Password: req.Password,
	})
	respond(c, resp, http.StatusOK)
}

func (h *AccountHandler) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if !bind(c, &req) {
		return
	}

	resp := h.commands.UpdateUser(c.Request.Context(), cqrs.UpdateUserCommand{
		UserID:      req.UserID,
		Password:    req.Password,
		NewPassword: req.NewPassword,
		NewUsername: req.NewUsername,
		NewEmail:    req.NewEmail,
	})
	respond(c, resp, http.StatusOK)
}

func (h *AccountHandler) DeleteUser(c *gin.Context) {
	var req DeleteUserRequest
	if !bind(c, &req) {
		return
	}

	resp := h.commands.DeleteUser(c.Request.Context(), cqrs.DeleteUserCommand{
		UserID:   req.UserID,
		Password: req.Password,
	})
	respond(c, resp, http.StatusOK)
}

func (h *AccountHandler) KeepAlive(c *gin.Context) {
	token, _ := middleware.GetSessionToken(c)
	resp := h.commands.KeepAlive(c.Request.Context(), cqrs.KeepAliveCommand{Token: token})
	respond(c, resp, http.StatusOK)
}

func (h *AccountHandler) Logout(c *gin.Context) {
	token, _ := middleware.GetSessionToken(c)
	resp := h.commands.Logout(c.Request.Context(), cqrs.LogoutCommand{Token: token})
	respond(c, resp, http.StatusOK)
}

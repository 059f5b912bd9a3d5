package chat

import (
	"net/http"

	"PropChat/logger"
	"PropChat/middleware"
	midsec "PropChat/middleware/security"
	"PropChat/module/chat/api"
	"PropChat/module/chat/service"
	"PropChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler /chat 下的 HTTP 接口
type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register 挂载全部路由；auth 为令牌校验中间件
func (h *Handler) Register(g gin.IRoutes, auth gin.HandlerFunc) {
	public := middleware.RouteOpt{}
	authed := middleware.RouteOpt{IsAuth: true, Auth: auth}

	middleware.POST(g, "/start", h.Start, public)
	middleware.GET(g, "/messages/:chatId", h.Messages, public)
	middleware.POST(g, "/send_message", h.SendMessage, authed)
	middleware.GET(g, "/my-chats/:userId", h.MyChats, authed.With(midsec.RequireSelf("userId")))
	middleware.GET(g, "/owner-chats/:ownerId", h.OwnerChats, authed.With(midsec.RequireSelf("ownerId")))
	middleware.GET(g, "/property-messages/:propertyId", h.PropertyMessages, authed)
}

func (h *Handler) Start(c *gin.Context) {
	var req api.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.ErrInvalidReference.WithDetail("Invalid sender, receiver, or property ID").Wrap())
		return
	}
	res, err := h.svc.ResolveOrCreate(c.Request.Context(), req.SenderID, req.ReceiverID, req.PropertyID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.StartResponse{ID: res.ID})
}

func (h *Handler) Messages(c *gin.Context) {
	th, err := h.svc.ListMessages(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, th.Messages)
}

// SendMessage senderId 缺省为令牌主体；代别人发只允许 admin
func (h *Handler) SendMessage(c *gin.Context) {
	var req api.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.ErrInvalidReference.WithDetail("Invalid chat ID or sender ID").Wrap())
		return
	}
	if id, ok := midsec.IdentityFrom(c); ok {
		if req.SenderID == "" {
			req.SenderID = id.UserID
		}
		if req.SenderID != id.UserID && !id.IsAdmin() {
			writeError(c, errs.ErrForbidden.WithDetail("You are not a participant in this chat").Wrap())
			return
		}
	}
	msg, err := h.svc.AppendMessage(c.Request.Context(), service.AppendInput{
		ChatID:   req.ChatID,
		SenderID: req.SenderID,
		Content:  req.Content,
		ReplyTo:  req.ReplyTo,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) MyChats(c *gin.Context) {
	h.listFor(c, c.Param("userId"), service.RoleInitiator)
}

func (h *Handler) OwnerChats(c *gin.Context) {
	h.listFor(c, c.Param("ownerId"), service.RoleCounterparty)
}

func (h *Handler) listFor(c *gin.Context, userID string, role service.Role) {
	out, err := h.svc.ListConversationsForUser(c.Request.Context(), userID, role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) PropertyMessages(c *gin.Context) {
	out, err := h.svc.ListPropertyMessages(c.Request.Context(), c.Param("propertyId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// writeError 4xx 返回可公开的文本；其他一律 500 + 通用文本，细节只进日志
func writeError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("chat request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, api.ErrorBody{Error: errs.PublicMessage(err)})
}
